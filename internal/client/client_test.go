package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gofixpoint/fixpoint/internal/dashboard"
	"github.com/gofixpoint/fixpoint/internal/model"
	"github.com/gofixpoint/fixpoint/internal/schema"
	"github.com/gofixpoint/fixpoint/internal/task"
)

func seededTask(id string, minute int) model.Task {
	ts := time.Date(2026, 10, 1, 9, minute, 0, 0, time.UTC).Format(time.RFC3339)
	return model.Task{
		ID:            model.TaskID(id),
		WorkflowID:    "wf",
		WorkflowRunID: "run-" + id,
		Status:        model.StatusSuspended,
		CreatedAt:     ts,
		UpdatedAt:     ts,
		EntryFields: []model.EntryField{{
			ID:             "note",
			Contents:       model.StringPtr("hello"),
			EditableConfig: model.EditableConfig{IsEditable: true},
		}},
	}
}

func newAPIForTests(t *testing.T, n int) *httptest.Server {
	t.Helper()
	repo := task.NewMemoryRepo()
	for i := 0; i < n; i++ {
		_, err := repo.Upsert(context.Background(), seededTask(string(rune('a'+i)), i))
		require.NoError(t, err)
	}
	r := chi.NewRouter()
	r.Route("/api/tasks", task.NewHandler(repo, zaptest.NewLogger(t)).Register)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_DrivesGridOverHTTP(t *testing.T) {
	srv := newAPIForTests(t, 3)
	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	s := dashboard.NewSession(dashboard.SessionOptions{
		Fetcher:  c,
		Updater:  c,
		PageSize: 2,
		Logger:   zaptest.NewLogger(t),
	})
	ctx := context.Background()

	v, err := s.Settle(ctx)
	require.NoError(t, err)
	require.Equal(t, dashboard.StatusSuccess, v.Status)
	assert.Len(t, v.Rows, 2)
	assert.True(t, v.CanNextPage)

	require.NoError(t, s.Grid.NextPage())
	v, err = s.Grid.Settle(ctx)
	require.NoError(t, err)
	assert.Len(t, v.Rows, 1)
	assert.False(t, v.CanNextPage)
	assert.Len(t, s.Grid.Cursors(), 2)

	e := s.Editor(v.Rows[0])
	saved, err := e.Submit(ctx, dashboard.EditForm{Fields: map[string]string{"note": "reviewed"}})
	require.NoError(t, err)
	assert.Equal(t, "reviewed", saved.EntryFields[0].DisplayValue())
	assert.Equal(t, "reviewed", s.Grid.View().Rows[0].EntryFields[0].DisplayValue())
}

func TestClient_NonSuccessIsAPIError(t *testing.T) {
	srv := newAPIForTests(t, 0)
	c, err := New(Options{BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	_, err = c.FetchTasks(context.Background(), model.ListTasksRequest{PageCursor: model.StringPtr("!!")})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Message)

	_, err = c.GetTask(context.Background(), "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClient_FetchReturnsValidPayload(t *testing.T) {
	srv := newAPIForTests(t, 1)
	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	raw, err := c.FetchTasks(context.Background(), model.ListTasksRequest{PageSize: 5})
	require.NoError(t, err)
	resp, err := schema.ParseListTasksResponse(raw)
	require.NoError(t, err)
	assert.Len(t, resp.Tasks, 1)
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
}

func TestClient_SendsSessionCookie(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("fp"); err == nil {
			got = ck.Value
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tasks":[]}`))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, SessionCookie: &http.Cookie{Name: "fp", Value: "tok"}})
	require.NoError(t, err)
	_, err = c.FetchTasks(context.Background(), model.ListTasksRequest{})
	require.NoError(t, err)
	assert.Equal(t, "tok", got)
}
