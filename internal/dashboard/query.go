package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gofixpoint/fixpoint/internal/model"
	"github.com/gofixpoint/fixpoint/internal/schema"
)

type Status string

const (
	// StatusIdle means the query is disabled because its cursor is unknown.
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusError   Status = "error"
	StatusSuccess Status = "success"
)

// PageFetcher loads one raw page of tasks. The payload is validated by the
// query layer, not by the fetcher.
type PageFetcher interface {
	FetchTasks(ctx context.Context, req model.ListTasksRequest) ([]byte, error)
}

type PageFetcherFunc func(ctx context.Context, req model.ListTasksRequest) ([]byte, error)

func (f PageFetcherFunc) FetchTasks(ctx context.Context, req model.ListTasksRequest) ([]byte, error) {
	return f(ctx, req)
}

// PageKey identifies one cached page. Known is false when the cursor has not
// been discovered; such keys never hit the backend.
type PageKey struct {
	PageSize int
	Cursor   string
	Known    bool
}

func KeyFor(pageSize int, cursor *string) PageKey {
	if cursor == nil {
		return PageKey{PageSize: pageSize}
	}
	return PageKey{PageSize: pageSize, Cursor: *cursor, Known: true}
}

func (k PageKey) request() model.ListTasksRequest {
	req := model.ListTasksRequest{PageSize: k.PageSize}
	if k.Cursor != "" {
		c := k.Cursor
		req.PageCursor = &c
	}
	return req
}

type PageResult struct {
	Status    Status
	Page      model.ListTasksResponse
	Err       error
	FetchedAt time.Time
}

type queryEntry struct {
	result PageResult
	done   chan struct{}
}

type QueryOptions struct {
	Fetcher PageFetcher
	Logger  *zap.Logger
	// Timeout bounds a single backend request. Zero means no limit.
	Timeout time.Duration
}

// PageQueries caches page fetches keyed on the exact {pageSize, cursor}
// pair. A request that resolves after its entry was invalidated or replaced
// is dropped, so a superseded response never overwrites newer data.
type PageQueries struct {
	fetcher PageFetcher
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	entries map[PageKey]*queryEntry
	fetches int
}

func NewPageQueries(opts QueryOptions) *PageQueries {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &PageQueries{
		fetcher: opts.Fetcher,
		logger:  opts.Logger,
		timeout: opts.Timeout,
		entries: map[PageKey]*queryEntry{},
	}
}

// Request returns the current state for key, starting a fetch when nothing
// is cached or the cached attempt failed. It never blocks on the network.
func (q *PageQueries) Request(ctx context.Context, key PageKey) PageResult {
	if !key.Known {
		return PageResult{Status: StatusIdle}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requestLocked(ctx, key).result
}

func (q *PageQueries) requestLocked(ctx context.Context, key PageKey) *queryEntry {
	if e, ok := q.entries[key]; ok && e.result.Status != StatusError {
		return e
	}
	e := &queryEntry{
		result: PageResult{Status: StatusLoading},
		done:   make(chan struct{}),
	}
	q.entries[key] = e
	q.fetches++
	go q.run(context.WithoutCancel(ctx), key, e)
	return e
}

func (q *PageQueries) run(ctx context.Context, key PageKey, e *queryEntry) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	res := q.fetch(ctx, key)

	q.mu.Lock()
	defer q.mu.Unlock()
	e.result = res
	close(e.done)
	if cur, ok := q.entries[key]; !ok || cur != e {
		q.logger.Debug("discarding superseded page result",
			zap.Int("page_size", key.PageSize),
			zap.String("cursor", key.Cursor),
		)
	}
}

func (q *PageQueries) fetch(ctx context.Context, key PageKey) PageResult {
	now := time.Now()
	if q.fetcher == nil {
		return PageResult{Status: StatusError, Err: errors.New("no page fetcher configured"), FetchedAt: now}
	}
	raw, err := q.fetcher.FetchTasks(ctx, key.request())
	if err != nil {
		q.logger.Warn("fetch tasks failed",
			zap.Int("page_size", key.PageSize),
			zap.String("cursor", key.Cursor),
			zap.Error(err),
		)
		return PageResult{Status: StatusError, Err: err, FetchedAt: now}
	}
	page, err := schema.ParseListTasksResponse(raw)
	if err != nil {
		q.logger.Warn("tasks page failed validation",
			zap.Int("page_size", key.PageSize),
			zap.String("cursor", key.Cursor),
			zap.Error(err),
		)
		return PageResult{Status: StatusError, Err: err, FetchedAt: now}
	}
	return PageResult{Status: StatusSuccess, Page: page, FetchedAt: now}
}

// Wait requests key if needed and blocks until its fetch settles or ctx is
// done.
func (q *PageQueries) Wait(ctx context.Context, key PageKey) (PageResult, error) {
	if !key.Known {
		return PageResult{Status: StatusIdle}, nil
	}
	q.mu.Lock()
	e := q.requestLocked(ctx, key)
	q.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		return PageResult{Status: StatusLoading}, ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return e.result, nil
}

// Peek returns the cached state for key without starting a fetch.
func (q *PageQueries) Peek(key PageKey) (PageResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[key]
	if !ok {
		return PageResult{}, false
	}
	return e.result, true
}

func (q *PageQueries) Invalidate(key PageKey) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, key)
}

// InvalidatePageSize drops every cached page fetched with pageSize.
func (q *PageQueries) InvalidatePageSize(pageSize int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for k := range q.entries {
		if k.PageSize == pageSize {
			delete(q.entries, k)
		}
	}
}

// Patch applies fn to every cached successful page and reports how many
// pages fn changed. fn must not modify its argument in place.
func (q *PageQueries) Patch(fn func(model.ListTasksResponse) (model.ListTasksResponse, bool)) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	changed := 0
	for _, e := range q.entries {
		if e.result.Status != StatusSuccess {
			continue
		}
		next, ok := fn(e.result.Page)
		if !ok {
			continue
		}
		e.result.Page = next
		changed++
	}
	return changed
}

// ReplaceTask swaps t into every cached page that holds a task with the same
// id, keeping row order. It returns how many pages changed.
func (q *PageQueries) ReplaceTask(t model.Task) int {
	return q.Patch(func(page model.ListTasksResponse) (model.ListTasksResponse, bool) {
		for i := range page.Tasks {
			if page.Tasks[i].ID != t.ID {
				continue
			}
			tasks := make([]model.Task, len(page.Tasks))
			copy(tasks, page.Tasks)
			tasks[i] = t.Clone()
			page.Tasks = tasks
			return page, true
		}
		return page, false
	})
}

// Fetches reports how many backend requests were issued.
func (q *PageQueries) Fetches() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetches
}
