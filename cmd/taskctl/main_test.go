package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gofixpoint/fixpoint/internal/client"
	"github.com/gofixpoint/fixpoint/internal/dashboard"
	"github.com/gofixpoint/fixpoint/internal/model"
	"github.com/gofixpoint/fixpoint/internal/task"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func newAPIServer(t *testing.T, n int) (*httptest.Server, *task.MemoryRepo) {
	t.Helper()
	repo := task.NewMemoryRepo()
	for i := 0; i < n; i++ {
		ts := time.Date(2026, 10, 1, 9, i, 0, 0, time.UTC).Format(time.RFC3339)
		_, err := repo.Upsert(context.Background(), model.Task{
			ID:            model.TaskID(fmt.Sprintf("t%d", i)),
			WorkflowID:    "wf",
			WorkflowRunID: fmt.Sprintf("run-%d", i),
			Status:        model.StatusSuspended,
			CreatedAt:     ts,
			UpdatedAt:     ts,
			EntryFields: []model.EntryField{{
				ID:             "amount",
				Contents:       model.StringPtr("1.00"),
				EditableConfig: model.EditableConfig{IsEditable: true},
			}},
		})
		require.NoError(t, err)
	}
	r := chi.NewRouter()
	r.Route("/api/tasks", task.NewHandler(repo, zaptest.NewLogger(t)).Register)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func TestConsoleLoop_NavigatesAndEdits(t *testing.T) {
	srv, repo := newAPIServer(t, 5)
	c, err := client.New(client.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	s := dashboard.NewSession(dashboard.SessionOptions{Fetcher: c, Updater: c, PageSize: 2})

	in := strings.NewReader("next\nprev\nprev\nset t4 amount 9.99\nshow t4\nbogus\nquit\n")
	var out bytes.Buffer
	require.NoError(t, newConsole(in, &out).loop(context.Background(), s))

	text := out.String()
	assert.Contains(t, text, "Page 1 (size 2)")
	assert.Contains(t, text, "Page 2 (size 2)")
	assert.Contains(t, text, dashboard.ErrNoPreviousPage.Error())
	assert.Contains(t, text, "✓ Task updated: Task t4 has been updated")
	assert.Contains(t, text, "* amount: 9.99")
	assert.Contains(t, text, `unknown command "bogus"`)
	assert.Contains(t, text, "2 rows of 5")

	stored, err := repo.Get(context.Background(), "t4")
	require.NoError(t, err)
	require.NotNil(t, stored.EntryFields[0].EditableConfig.HumanContents)
	assert.Equal(t, "9.99", *stored.EntryFields[0].EditableConfig.HumanContents)
}

func TestConsoleLoop_StopsAtEOF(t *testing.T) {
	srv, _ := newAPIServer(t, 1)
	c, err := client.New(client.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	s := dashboard.NewSession(dashboard.SessionOptions{Fetcher: c, Updater: c, PageSize: 2})

	var out bytes.Buffer
	require.NoError(t, newConsole(strings.NewReader("next"), &out).loop(context.Background(), s))
	assert.Contains(t, out.String(), dashboard.ErrNoNextPage.Error())
}

func TestEditTask_StatusAndFields(t *testing.T) {
	srv, repo := newAPIServer(t, 2)
	c, err := client.New(client.Options{BaseURL: srv.URL})
	require.NoError(t, err)

	var out bytes.Buffer
	err = editTask(context.Background(), c, &out, "t1", "completed", map[string]string{"amount": "3.50"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Task updated")

	stored, err := repo.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)

	err = editTask(context.Background(), c, &out, "t1", "sideways", nil)
	assert.Error(t, err)
	err = editTask(context.Background(), c, &out, "missing", "", nil)
	assert.Error(t, err)
}

func TestCmdList_UsesSavedSession(t *testing.T) {
	srv, _ := newAPIServer(t, 3)
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, saveSession(path, savedSession{Server: srv.URL, CookieName: "fixpoint_session", Cookie: "tok"}))

	var out bytes.Buffer
	require.NoError(t, cmdList([]string{"-session", path, "-page-size", "2"}, nil, &out))
	assert.Contains(t, out.String(), "t2")
	assert.Contains(t, out.String(), "t1")
	assert.NotContains(t, out.String(), "t0 ")
	assert.Contains(t, out.String(), "next")

	err := cmdList([]string{"-session", filepath.Join(t.TempDir(), "none.json")}, nil, &out)
	assert.ErrorContains(t, err, "not signed in")
}

func TestSetFlags(t *testing.T) {
	s := setFlags{}
	require.NoError(t, s.Set("note=a=b"))
	assert.Equal(t, "a=b", s["note"])
	assert.Error(t, s.Set("novalue"))
	assert.Error(t, s.Set("=x"))
}
