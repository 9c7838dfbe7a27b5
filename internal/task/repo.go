package task

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gofixpoint/fixpoint/internal/model"
	"github.com/gofixpoint/fixpoint/internal/schema"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrInvalidCursor   = errors.New("invalid page cursor")
	ErrInvalidPageSize = errors.New("invalid page size")
)

// Repo stores human tasks. List pages newest first; ties on createdAt are
// broken by id.
type Repo interface {
	List(ctx context.Context, req model.ListTasksRequest) (model.ListTasksResponse, error)
	Get(ctx context.Context, id model.TaskID) (model.Task, error)
	Upsert(ctx context.Context, t model.Task) (model.Task, error)
	Count(ctx context.Context) (int64, error)
}

// cursor is the keyset position of the last row on a page.
type cursor struct {
	CreatedAt int64        `json:"c"`
	ID        model.TaskID `json:"i"`
}

func encodeCursor(t model.Task) string {
	b, _ := json.Marshal(cursor{CreatedAt: createdNanos(t), ID: t.ID})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == "" {
		return cursor{}, ErrInvalidCursor
	}
	return c, nil
}

// after reports whether t sorts strictly after position c.
func (c cursor) after(t model.Task) bool {
	ns := createdNanos(t)
	if ns != c.CreatedAt {
		return ns < c.CreatedAt
	}
	return t.ID > c.ID
}

func createdNanos(t model.Task) int64 {
	ts, err := t.CreatedTime()
	if err != nil {
		return 0
	}
	return ts.UnixNano()
}

// pageRequest is a validated ListTasksRequest.
type pageRequest struct {
	size   int
	cursor *cursor
}

func parseRequest(req model.ListTasksRequest) (pageRequest, error) {
	out := pageRequest{size: req.PageSize}
	switch {
	case out.size < 0:
		return pageRequest{}, fmt.Errorf("%w: %d", ErrInvalidPageSize, req.PageSize)
	case out.size == 0:
		out.size = DefaultPageSize
	case out.size > MaxPageSize:
		out.size = MaxPageSize
	}
	if req.PageCursor != nil && strings.TrimSpace(*req.PageCursor) != "" {
		c, err := decodeCursor(strings.TrimSpace(*req.PageCursor))
		if err != nil {
			return pageRequest{}, err
		}
		out.cursor = &c
	}
	return out, nil
}

func sortTasks(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		ni, nj := createdNanos(tasks[i]), createdNanos(tasks[j])
		if ni != nj {
			return ni > nj
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// paginate cuts one page out of tasks, which must already be sorted.
func paginate(tasks []model.Task, pr pageRequest) model.ListTasksResponse {
	start := 0
	if pr.cursor != nil {
		start = sort.Search(len(tasks), func(i int) bool { return pr.cursor.after(tasks[i]) })
	}
	end := start + pr.size
	if end > len(tasks) {
		end = len(tasks)
	}
	page := make([]model.Task, 0, end-start)
	for _, t := range tasks[start:end] {
		page = append(page, t.Clone())
	}
	resp := model.ListTasksResponse{
		Tasks:        page,
		TotalEntries: model.NewTotalCount(int64(len(tasks))),
	}
	if end < len(tasks) && len(page) > 0 {
		next := encodeCursor(page[len(page)-1])
		resp.NextPageToken = &next
	}
	return resp
}

// prepare fills server-owned fields and validates t before it is stored.
// existing is the stored version of the task, if any.
func prepare(t model.Task, existing *model.Task, now time.Time) (model.Task, error) {
	out := t.Clone()
	if out.ID == "" {
		out.ID = model.TaskID(uuid.NewString())
	}
	stamp := now.UTC().Format(time.RFC3339Nano)
	switch {
	case existing != nil:
		out.CreatedAt = existing.CreatedAt
	case out.CreatedAt == "":
		out.CreatedAt = stamp
	}
	out.UpdatedAt = stamp
	if out.EntryFields == nil {
		out.EntryFields = []model.EntryField{}
	}
	if err := schema.ValidateTask(out); err != nil {
		return model.Task{}, err
	}
	return out, nil
}
