package task

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gofixpoint/fixpoint/internal/model"
	"github.com/gofixpoint/fixpoint/internal/schema"
)

type recordingPublisher struct {
	mu  sync.Mutex
	got []model.Task
}

func (p *recordingPublisher) PublishTaskUpdated(t model.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, t)
}

func newTaskRouterForTests(t *testing.T) (http.Handler, *MemoryRepo, *recordingPublisher) {
	t.Helper()
	repo := NewMemoryRepo()
	pub := &recordingPublisher{}
	h := NewHandler(repo, zaptest.NewLogger(t))
	h.SetPublisher(pub)

	r := chi.NewRouter()
	r.Route("/api/tasks", h.Register)
	return r, repo, pub
}

func jsonReq(method, path string, body any) *http.Request {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHTTP_ListPagesThroughCursor(t *testing.T) {
	router, repo, _ := newTaskRouterForTests(t)
	seed(t, repo, sampleTask("t0", 0), sampleTask("t1", 1), sampleTask("t2", 2))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks?pageSize=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	first, err := schema.ParseListTasksResponse(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, first.Tasks, 2)
	require.NotNil(t, first.NextPageToken)
	assert.Equal(t, "3", first.TotalEntries.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks?pageSize=2&pageCursor="+*first.NextPageToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	second, err := schema.ParseListTasksResponse(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, second.Tasks, 1)
	assert.Equal(t, model.TaskID("t0"), second.Tasks[0].ID)
	assert.Nil(t, second.NextPageToken)
}

func TestHTTP_ListBadParams(t *testing.T) {
	router, _, _ := newTaskRouterForTests(t)

	tests := []struct {
		name string
		path string
	}{
		{name: "non numeric size", path: "/api/tasks?pageSize=abc"},
		{name: "negative size", path: "/api/tasks?pageSize=-4"},
		{name: "garbage cursor", path: "/api/tasks?pageCursor=%21%21"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHTTP_GetAndPut(t *testing.T) {
	router, repo, pub := newTaskRouterForTests(t)
	orig := sampleTask("t1", 1)
	seed(t, repo, orig)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/t1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	edit := orig.Clone()
	edit.Status = model.StatusCompleted
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, jsonReq(http.MethodPut, "/api/tasks/t1", edit))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	saved, err := schema.ParseTask(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, saved.Status)

	require.Len(t, pub.got, 1)
	assert.Equal(t, model.TaskID("t1"), pub.got[0].ID)
}

func TestHTTP_PutRejectsInvalidBodies(t *testing.T) {
	router, repo, pub := newTaskRouterForTests(t)
	seed(t, repo, sampleTask("t1", 1))

	mismatched := sampleTask("t2", 1)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonReq(http.MethodPut, "/api/tasks/t1", mismatched))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, jsonReq(http.MethodPut, "/api/tasks/t1", map[string]any{"id": "t1", "status": "PAUSED"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, pub.got)
}
