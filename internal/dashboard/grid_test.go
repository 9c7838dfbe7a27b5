package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gofixpoint/fixpoint/internal/ledger"
	"github.com/gofixpoint/fixpoint/internal/model"
)

func newGridForTests(t *testing.T, backend *fakeBackend, pageSize int) (*TaskGrid, *PageQueries) {
	t.Helper()
	q := NewPageQueries(QueryOptions{Fetcher: backend, Logger: zaptest.NewLogger(t)})
	g := NewTaskGrid(GridOptions{Queries: q, PageSize: pageSize, Logger: zaptest.NewLogger(t)})
	return g, q
}

func TestGrid_ForwardPaginationDiscoversCursors(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.set("", pagePayload(t, makeTasks("a", 50), tok("abc")))
	backend.set("abc", pagePayload(t, makeTasks("b", 10), nil))

	g, _ := newGridForTests(t, backend, 50)

	v, err := g.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, v.Status)
	assert.Len(t, v.Rows, 50)
	assert.True(t, v.CanNextPage)
	assert.False(t, v.CanPreviousPage)
	assert.Equal(t, []string{"", "abc"}, cursorValues(g.Cursors()))

	require.NoError(t, g.NextPage())
	v, err = g.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, v.Status)
	assert.Len(t, v.Rows, 10)
	assert.False(t, v.CanNextPage)
	assert.True(t, v.CanPreviousPage)
	assert.Equal(t, []string{"", "abc"}, cursorValues(g.Cursors()))

	assert.ErrorIs(t, g.NextPage(), ErrNoNextPage)

	require.Len(t, backend.requests, 2)
	assert.Equal(t, 50, backend.requests[1].PageSize)
	require.NotNil(t, backend.requests[1].PageCursor)
	assert.Equal(t, "abc", *backend.requests[1].PageCursor)
	assert.Nil(t, backend.requests[0].PageCursor)
}

func TestGrid_BackNavigationReusesCache(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.set("", pagePayload(t, makeTasks("a", 3), tok("p1")))
	backend.set("p1", pagePayload(t, makeTasks("b", 3), tok("p2")))
	backend.set("p2", pagePayload(t, makeTasks("c", 1), nil))

	g, _ := newGridForTests(t, backend, 3)

	_, err := g.Settle(ctx)
	require.NoError(t, err)
	require.NoError(t, g.NextPage())
	_, err = g.Settle(ctx)
	require.NoError(t, err)
	require.NoError(t, g.NextPage())
	_, err = g.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "p1", "p2"}, cursorValues(g.Cursors()))

	require.NoError(t, g.PreviousPage())
	v, err := g.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TaskID("b0"), v.Rows[0].ID)
	assert.True(t, v.CanNextPage)
	assert.Equal(t, 3, backend.requestCount())
	assert.Equal(t, []string{"", "p1", "p2"}, cursorValues(g.Cursors()))

	require.NoError(t, g.PreviousPage())
	assert.ErrorIs(t, g.PreviousPage(), ErrNoPreviousPage)
}

func TestGrid_LedgerNeverShrinksDuringForwardNavigation(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.set("", pagePayload(t, makeTasks("a", 1), tok("1")))
	backend.set("1", pagePayload(t, makeTasks("b", 1), tok("2")))
	backend.set("2", pagePayload(t, makeTasks("c", 1), tok("3")))
	backend.set("3", pagePayload(t, makeTasks("d", 1), nil))

	g, _ := newGridForTests(t, backend, 1)
	prev := len(g.Cursors())
	for {
		v, err := g.Settle(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(g.Cursors()), prev)
		prev = len(g.Cursors())
		if !v.CanNextPage {
			break
		}
		require.NoError(t, g.NextPage())
	}
	assert.Equal(t, []string{"", "1", "2", "3"}, cursorValues(g.Cursors()))
}

func TestGrid_GoToPageFailsPastDiscoveredCursors(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.set("", pagePayload(t, makeTasks("a", 2), tok("abc")))
	backend.set("abc", pagePayload(t, makeTasks("b", 1), nil))

	g, _ := newGridForTests(t, backend, 2)
	assert.ErrorIs(t, g.GoToPage(1), ledger.ErrOutOfBounds)

	_, err := g.Settle(ctx)
	require.NoError(t, err)

	require.NoError(t, g.GoToPage(1))
	assert.Equal(t, 1, g.Pagination().PageIndex)
	assert.ErrorIs(t, g.GoToPage(2), ledger.ErrOutOfBounds)
	assert.Equal(t, 1, g.Pagination().PageIndex)
}

func TestGrid_PageSizeChangeResetsCursors(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.set("", pagePayload(t, makeTasks("a", 2), tok("abc")))
	backend.set("abc", pagePayload(t, makeTasks("b", 2), nil))

	g, _ := newGridForTests(t, backend, 2)
	_, err := g.Settle(ctx)
	require.NoError(t, err)
	require.NoError(t, g.NextPage())

	require.NoError(t, g.SetPageSize(25))
	assert.Equal(t, Pagination{PageIndex: 0, PageSize: 25}, g.Pagination())
	assert.Equal(t, []string{""}, cursorValues(g.Cursors()))

	_, err = g.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, backend.requests[len(backend.requests)-1].PageSize)

	assert.ErrorIs(t, g.SetPageSize(0), ErrInvalidSize)
}

func TestGrid_InvalidPayloadIsErrorStateWithoutLedgerChange(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.set("", []byte(`{"tasks":[{"id":"T1","workflowId":"w","workflowRunId":"r","status":"PAUSED","createdAt":"2026-10-01T09:00:00Z","updatedAt":"2026-10-01T09:00:00Z","entryFields":[]}],"nextPageToken":"abc"}`))

	q := NewPageQueries(QueryOptions{Fetcher: backend, Logger: zaptest.NewLogger(t)})
	g := NewTaskGrid(GridOptions{Queries: q, PageSize: 50, NoResultsMessage: "Nothing here"})

	v, err := g.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusError, v.Status)
	assert.Error(t, v.Err)
	assert.False(t, v.CanNextPage)
	assert.Equal(t, MessageError, v.Message)
	assert.Empty(t, v.Rows)
	assert.Equal(t, []string{""}, cursorValues(g.Cursors()))
}

func TestGrid_BackendErrorDisablesForwardNavigation(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.fail("", errors.New("connection refused"))

	g, _ := newGridForTests(t, backend, 50)
	v, err := g.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusError, v.Status)
	assert.Equal(t, MessageError, v.Message)
	assert.ErrorIs(t, g.NextPage(), ErrNoNextPage)

	// The same page can be retried under the same key.
	backend.set("", pagePayload(t, makeTasks("a", 1), nil))
	v, err = g.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, v.Status)
	assert.Equal(t, MessageNoResults, v.Message)
	assert.Equal(t, 2, backend.requestCount())
}

func TestGrid_LoadingMessageBeforeSettle(t *testing.T) {
	g := NewTaskGrid(GridOptions{Queries: NewPageQueries(QueryOptions{})})
	v := g.View()
	assert.Equal(t, StatusLoading, v.Status)
	assert.Equal(t, MessageLoading, v.Message)
	assert.False(t, v.CanNextPage)
	assert.Equal(t, DefaultPageSize, v.Pagination.PageSize)
}

func TestGrid_SortFilterAndSelectionByTaskID(t *testing.T) {
	ctx := context.Background()
	tasks := []model.Task{
		makeTask("T1", model.StatusRunning, 3),
		makeTask("T2", model.StatusCompleted, 1),
		makeTask("T3", model.StatusRunning, 2),
	}
	backend := newFakeBackend()
	backend.set("", pagePayload(t, tasks, nil))

	g, _ := newGridForTests(t, backend, 50)
	_, err := g.Settle(ctx)
	require.NoError(t, err)

	g.SetRowSelected("T3", true)

	require.NoError(t, g.SetSorting([]SortSpec{{Column: ColumnCreatedAt}}))
	v := g.View()
	assert.Equal(t, []model.TaskID{"T2", "T3", "T1"}, ids(v.Rows))
	assert.Equal(t, []model.TaskID{"T3"}, v.Selected)

	require.NoError(t, g.ToggleSort(ColumnCreatedAt))
	v = g.View()
	assert.Equal(t, []model.TaskID{"T1", "T3", "T2"}, ids(v.Rows))
	assert.Equal(t, []model.TaskID{"T3"}, v.Selected)

	require.NoError(t, g.ToggleSort(ColumnCreatedAt))
	assert.Empty(t, g.View().Sorting)

	require.NoError(t, g.SetColumnFilters([]ColumnFilter{{Column: ColumnStatus, Values: []string{"running"}}}))
	v = g.View()
	assert.Equal(t, []model.TaskID{"T1", "T3"}, ids(v.Rows))
	assert.Equal(t, 3, v.PageRowCount)

	facets, err := g.Facets(ColumnStatus)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"RUNNING": 2}, facets)

	assert.False(t, g.ToggleRowSelected("T3"))
	assert.Empty(t, g.View().Selected)

	assert.Error(t, g.SetSorting([]SortSpec{{Column: "nope"}}))
	assert.Error(t, g.SetColumnFilters([]ColumnFilter{{Column: "nope"}}))
}

func TestGrid_ColumnVisibility(t *testing.T) {
	g := NewTaskGrid(GridOptions{Queries: NewPageQueries(QueryOptions{})})

	require.NoError(t, g.SetColumnVisible(ColumnNodeID, false))
	for _, c := range g.View().Columns {
		assert.NotEqual(t, ColumnNodeID, c.ID)
	}
	require.NoError(t, g.SetColumnVisible(ColumnNodeID, true))
	assert.Len(t, g.View().Columns, len(TaskColumns()))

	assert.Error(t, g.SetColumnVisible(ColumnID, false))
	assert.Error(t, g.SetColumnVisible("missing", false))
}

func TestGrid_RefetchGoesBackToServer(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.set("", pagePayload(t, makeTasks("a", 1), nil))

	g, _ := newGridForTests(t, backend, 10)
	_, err := g.Settle(ctx)
	require.NoError(t, err)

	backend.set("", pagePayload(t, makeTasks("z", 2), nil))
	g.Refetch(ctx)
	v, err := g.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.TaskID{"z0", "z1"}, ids(v.Rows))
	assert.Equal(t, 2, backend.requestCount())
}

func ids(tasks []model.Task) []model.TaskID {
	out := make([]model.TaskID, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestGrid_UnfollowableTokenDisablesNext(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	// An empty token on the first page and a token that repeats the cursor
	// that fetched the page both leave the ledger unchanged.
	backend.set("", pagePayload(t, makeTasks("a", 2), tok("")))
	g, _ := newGridForTests(t, backend, 2)

	v, err := g.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, v.Status)
	assert.False(t, v.CanNextPage)
	assert.ErrorIs(t, g.NextPage(), ErrNoNextPage)
	assert.Equal(t, []string{""}, cursorValues(g.Cursors()))

	backend.set("", pagePayload(t, makeTasks("a", 2), tok("p1")))
	backend.set("p1", pagePayload(t, makeTasks("b", 2), tok("p1")))
	g, _ = newGridForTests(t, backend, 2)
	_, err = g.Settle(ctx)
	require.NoError(t, err)
	require.NoError(t, g.NextPage())
	v, err = g.Settle(ctx)
	require.NoError(t, err)
	assert.False(t, v.CanNextPage)
	assert.ErrorIs(t, g.NextPage(), ErrNoNextPage)
	assert.Equal(t, 1, v.Pagination.PageIndex)
}

// gatedBackend holds fetches for one page size until release is closed.
type gatedBackend struct {
	*fakeBackend
	size    int
	release chan struct{}
}

func (b gatedBackend) FetchTasks(ctx context.Context, req model.ListTasksRequest) ([]byte, error) {
	if req.PageSize == b.size {
		<-b.release
	}
	return b.fakeBackend.FetchTasks(ctx, req)
}

func TestGrid_SettleAfterPageSizeChangeRecordsNewCursor(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.set("", pagePayload(t, makeTasks("a", 3), tok("next")))
	gated := gatedBackend{fakeBackend: backend, size: 2, release: make(chan struct{})}
	q := NewPageQueries(QueryOptions{Fetcher: gated, Logger: zaptest.NewLogger(t)})
	g := NewTaskGrid(GridOptions{Queries: q, PageSize: 2})

	// The size 3 page is already cached when the grid switches to it.
	_, err := q.Wait(ctx, KeyFor(3, tok("")))
	require.NoError(t, err)

	g.Load(ctx)
	type settled struct {
		v   View
		err error
	}
	done := make(chan settled, 1)
	go func() {
		v, err := g.Settle(ctx)
		done <- settled{v, err}
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, g.SetPageSize(3))
	close(gated.release)

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, 3, got.v.Pagination.PageSize)
	assert.True(t, got.v.CanNextPage)
	assert.Equal(t, 2, got.v.KnownPages)
	assert.Equal(t, []string{"", "next"}, cursorValues(g.Cursors()))
}
