package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/gofixpoint/fixpoint/internal/model"
)

func makeTask(id string, status model.WorkflowStatus, minute int) model.Task {
	ts := fmt.Sprintf("2026-10-01T09:%02d:00Z", minute%60)
	return model.Task{
		ID:            model.TaskID(id),
		WorkflowID:    "wf-invoice",
		WorkflowRunID: "run-" + id,
		Status:        status,
		CreatedAt:     ts,
		UpdatedAt:     ts,
		EntryFields: []model.EntryField{
			{
				ID:             "amount",
				DisplayName:    model.StringPtr("Amount"),
				Contents:       model.StringPtr("12.00"),
				EditableConfig: model.EditableConfig{IsEditable: true, IsRequired: true},
			},
			{
				ID:             "vendor",
				Contents:       model.StringPtr("ACME"),
				EditableConfig: model.EditableConfig{IsEditable: true},
			},
			{
				ID:             "invoice_no",
				Contents:       model.StringPtr("INV-1"),
				EditableConfig: model.EditableConfig{IsEditable: false},
			},
		},
	}
}

func makeTasks(prefix string, n int) []model.Task {
	out := make([]model.Task, n)
	for i := range out {
		out[i] = makeTask(fmt.Sprintf("%s%d", prefix, i), model.StatusSuspended, i)
	}
	return out
}

func pagePayload(t *testing.T, tasks []model.Task, next *string) []byte {
	t.Helper()
	b, err := json.Marshal(model.ListTasksResponse{
		Tasks:         tasks,
		NextPageToken: next,
		TotalEntries:  model.NewTotalCount(int64(len(tasks))),
	})
	if err != nil {
		t.Fatalf("marshal page: %v", err)
	}
	return b
}

func tok(s string) *string { return &s }

// fakeBackend serves canned payloads keyed by cursor.
type fakeBackend struct {
	mu       sync.Mutex
	pages    map[string][]byte
	errs     map[string]error
	requests []model.ListTasksRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{pages: map[string][]byte{}, errs: map[string]error{}}
}

func (f *fakeBackend) set(cursor string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[cursor] = payload
	delete(f.errs, cursor)
}

func (f *fakeBackend) fail(cursor string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[cursor] = err
}

func (f *fakeBackend) FetchTasks(_ context.Context, req model.ListTasksRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	cursor := ""
	if req.PageCursor != nil {
		cursor = *req.PageCursor
	}
	if err, ok := f.errs[cursor]; ok {
		return nil, err
	}
	p, ok := f.pages[cursor]
	if !ok {
		return nil, errors.New("no such page")
	}
	return p, nil
}

func (f *fakeBackend) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func cursorValues(cs []*string) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		if c == nil {
			out = append(out, "<nil>")
			continue
		}
		out = append(out, *c)
	}
	return out
}
