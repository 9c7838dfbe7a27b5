package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/gofixpoint/fixpoint/internal/collections"
	"github.com/gofixpoint/fixpoint/internal/model"
)

const (
	DefaultPageSize = 50

	MessageError     = "Error loading tasks."
	MessageLoading   = "Loading tasks..."
	MessageNoResults = "No queued human tasks."
)

var (
	ErrNoNextPage     = errors.New("no next page")
	ErrNoPreviousPage = errors.New("already on the first page")
	ErrInvalidSize    = errors.New("page size must be positive")
)

type Pagination struct {
	PageIndex int `json:"pageIndex"`
	PageSize  int `json:"pageSize"`
}

type SortSpec struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc"`
}

type ColumnFilter struct {
	Column string   `json:"column"`
	Values []string `json:"values"`
}

type GridOptions struct {
	Queries  *PageQueries
	PageSize int
	// NoResultsMessage replaces the default empty-state text. It is ignored
	// while the current page is in the error state.
	NoResultsMessage string
	Logger           *zap.Logger
}

// TaskGrid is the view state of one task table: server-driven cursor
// pagination plus local sorting, filtering, column visibility and row
// selection over the rows of the current page.
type TaskGrid struct {
	queries   *PageQueries
	logger    *zap.Logger
	columns   []Column
	columnsBy *collections.RequiredMap[string, Column]

	mu        sync.Mutex
	discovery *CursorDiscovery
	pageIndex int
	sorting   []SortSpec
	filters   []ColumnFilter
	hidden    map[string]bool
	selection map[model.TaskID]bool
	noResults string
}

func NewTaskGrid(opts GridOptions) *TaskGrid {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NoResultsMessage == "" {
		opts.NoResultsMessage = MessageNoResults
	}
	cols := TaskColumns()
	return &TaskGrid{
		queries:   opts.Queries,
		logger:    opts.Logger,
		columns:   cols,
		columnsBy: columnIndex(cols),
		discovery: NewCursorDiscovery(opts.PageSize),
		hidden:    map[string]bool{},
		selection: map[model.TaskID]bool{},
		noResults: opts.NoResultsMessage,
	}
}

// View is an immutable snapshot of what the table should render.
type View struct {
	Status          Status
	Err             error
	Pagination      Pagination
	Rows            []model.Task
	PageRowCount    int
	CanNextPage     bool
	CanPreviousPage bool
	Message         string
	TotalEntries    *model.TotalCount
	KnownPages      int
	Columns         []Column
	Sorting         []SortSpec
	Filters         []ColumnFilter
	Selected        []model.TaskID
}

func (g *TaskGrid) Pagination() Pagination {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Pagination{PageIndex: g.pageIndex, PageSize: g.discovery.PageSize()}
}

func (g *TaskGrid) currentKeyLocked() (PageKey, error) {
	return g.discovery.Key(g.pageIndex)
}

// Load starts (or reuses) the fetch for the current page and returns the
// view as it stands now.
func (g *TaskGrid) Load(ctx context.Context) View {
	g.mu.Lock()
	defer g.mu.Unlock()

	key, err := g.currentKeyLocked()
	if err != nil {
		return g.viewLocked(PageResult{Status: StatusError, Err: err})
	}
	res := g.queries.Request(ctx, key)
	g.discovery.Observe(g.pageIndex, res)
	return g.viewLocked(res)
}

// Settle waits for the current page's fetch and returns the resulting view.
// The error is only ever a context error; fetch failures are in the view.
func (g *TaskGrid) Settle(ctx context.Context) (View, error) {
	g.mu.Lock()
	key, err := g.currentKeyLocked()
	pageIndex := g.pageIndex
	g.mu.Unlock()
	if err != nil {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.viewLocked(PageResult{Status: StatusError, Err: err}), nil
	}

	res, err := g.queries.Wait(ctx, key)
	if err != nil {
		return g.Load(ctx), err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if pageIndex == g.pageIndex && key.PageSize == g.discovery.PageSize() {
		g.discovery.Observe(pageIndex, res)
		return g.viewLocked(res), nil
	}
	// Navigation happened while waiting; report the page now current.
	cur, err := g.currentKeyLocked()
	if err != nil {
		return g.viewLocked(PageResult{Status: StatusError, Err: err}), nil
	}
	res = g.queries.Request(ctx, cur)
	g.discovery.Observe(g.pageIndex, res)
	return g.viewLocked(res), nil
}

// View returns the current snapshot without starting a fetch.
func (g *TaskGrid) View() View {
	g.mu.Lock()
	defer g.mu.Unlock()
	key, err := g.currentKeyLocked()
	if err != nil {
		return g.viewLocked(PageResult{Status: StatusError, Err: err})
	}
	res, ok := g.queries.Peek(key)
	if !ok {
		res = PageResult{Status: StatusLoading}
		if !key.Known {
			res.Status = StatusIdle
		}
	}
	g.discovery.Observe(g.pageIndex, res)
	return g.viewLocked(res)
}

func (g *TaskGrid) viewLocked(res PageResult) View {
	v := View{
		Status:          res.Status,
		Err:             res.Err,
		Pagination:      Pagination{PageIndex: g.pageIndex, PageSize: g.discovery.PageSize()},
		CanPreviousPage: g.pageIndex > 0,
		KnownPages:      g.discovery.KnownPages(),
		Columns:         g.visibleColumnsLocked(),
		Sorting:         append([]SortSpec(nil), g.sorting...),
		Filters:         append([]ColumnFilter(nil), g.filters...),
		Rows:            []model.Task{},
	}

	switch res.Status {
	case StatusError:
		v.CanNextPage = false
		v.Message = MessageError
		return v
	case StatusSuccess:
		// A token the ledger refused (empty or repeated) cannot be followed.
		v.CanNextPage = res.Page.NextPageToken != nil && g.discovery.CanAdvance(g.pageIndex)
		v.TotalEntries = res.Page.TotalEntries
		v.PageRowCount = len(res.Page.Tasks)
		v.Rows = g.rowsLocked(res.Page.Tasks)
		v.Message = g.noResults
	default:
		v.Message = MessageLoading
	}

	for _, t := range v.Rows {
		if g.selection[t.ID] {
			v.Selected = append(v.Selected, t.ID)
		}
	}
	return v
}

func (g *TaskGrid) rowsLocked(tasks []model.Task) []model.Task {
	rows := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if g.passesFiltersLocked(t) {
			rows = append(rows, t.Clone())
		}
	}
	if len(g.sorting) == 0 {
		return rows
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, s := range g.sorting {
			col, err := g.columnsBy.GetOrFail(s.Column)
			if err != nil {
				continue
			}
			a, b := rows[i], rows[j]
			if s.Desc {
				a, b = b, a
			}
			if col.Less(a, b) {
				return true
			}
			if col.Less(b, a) {
				return false
			}
		}
		return false
	})
	return rows
}

func (g *TaskGrid) passesFiltersLocked(t model.Task) bool {
	for _, f := range g.filters {
		col, err := g.columnsBy.GetOrFail(f.Column)
		if err != nil {
			continue
		}
		if !col.Matches(t, f.Values) {
			return false
		}
	}
	return true
}

func (g *TaskGrid) visibleColumnsLocked() []Column {
	out := make([]Column, 0, len(g.columns))
	for _, c := range g.columns {
		if !g.hidden[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func (g *TaskGrid) canNextLocked() bool {
	key, err := g.currentKeyLocked()
	if err != nil {
		return false
	}
	res, ok := g.queries.Peek(key)
	if !ok {
		return false
	}
	g.discovery.Observe(g.pageIndex, res)
	return res.Status == StatusSuccess && res.Page.NextPageToken != nil && g.discovery.CanAdvance(g.pageIndex)
}

// NextPage moves forward one page. It is only allowed once the current page
// has loaded and carried a continuation token.
func (g *TaskGrid) NextPage() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.canNextLocked() {
		return ErrNoNextPage
	}
	if _, err := g.discovery.Cursor(g.pageIndex + 1); err != nil {
		return err
	}
	g.pageIndex++
	return nil
}

func (g *TaskGrid) PreviousPage() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pageIndex == 0 {
		return ErrNoPreviousPage
	}
	g.pageIndex--
	return nil
}

// GoToPage jumps to an already discovered page.
func (g *TaskGrid) GoToPage(pageIndex int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.discovery.Cursor(pageIndex); err != nil {
		return err
	}
	g.pageIndex = pageIndex
	return nil
}

func (g *TaskGrid) FirstPage() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pageIndex = 0
}

// SetPageSize changes the page size, dropping every discovered cursor and
// returning to the first page.
func (g *TaskGrid) SetPageSize(n int) error {
	if n <= 0 {
		return ErrInvalidSize
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.discovery.SetPageSize(n) {
		g.pageIndex = 0
		g.logger.Debug("page size changed; cursors reset", zap.Int("page_size", n))
	}
	return nil
}

// Refetch drops cached pages for the current page size so the next Load
// goes back to the server. Discovered cursors are kept.
func (g *TaskGrid) Refetch(ctx context.Context) View {
	g.mu.Lock()
	g.queries.InvalidatePageSize(g.discovery.PageSize())
	g.mu.Unlock()
	return g.Load(ctx)
}

func (g *TaskGrid) SetSorting(specs []SortSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range specs {
		col, err := g.columnsBy.GetOrFail(s.Column)
		if err != nil {
			return fmt.Errorf("sort: %w", err)
		}
		if !col.Sortable {
			return fmt.Errorf("sort: column %q is not sortable", s.Column)
		}
	}
	g.sorting = append([]SortSpec(nil), specs...)
	return nil
}

// ToggleSort cycles a column through ascending, descending and unsorted.
func (g *TaskGrid) ToggleSort(column string) error {
	g.mu.Lock()
	var cur *SortSpec
	for i := range g.sorting {
		if g.sorting[i].Column == column {
			cur = &g.sorting[i]
			break
		}
	}
	var next []SortSpec
	switch {
	case cur == nil:
		next = []SortSpec{{Column: column}}
	case !cur.Desc:
		next = []SortSpec{{Column: column, Desc: true}}
	}
	g.mu.Unlock()
	return g.SetSorting(next)
}

func (g *TaskGrid) SetColumnFilters(filters []ColumnFilter) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, f := range filters {
		if _, err := g.columnsBy.GetOrFail(f.Column); err != nil {
			return fmt.Errorf("filter: %w", err)
		}
	}
	g.filters = append([]ColumnFilter(nil), filters...)
	return nil
}

func (g *TaskGrid) SetColumnVisible(column string, visible bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	col, err := g.columnsBy.GetOrFail(column)
	if err != nil {
		return err
	}
	if !col.Hideable && !visible {
		return fmt.Errorf("column %q cannot be hidden", column)
	}
	if visible {
		delete(g.hidden, column)
	} else {
		g.hidden[column] = true
	}
	return nil
}

// SetRowSelected marks a task as selected. Selection follows the task id,
// so it survives sorting, filtering and page changes.
func (g *TaskGrid) SetRowSelected(id model.TaskID, selected bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if selected {
		g.selection[id] = true
	} else {
		delete(g.selection, id)
	}
}

func (g *TaskGrid) ToggleRowSelected(id model.TaskID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.selection[id] {
		delete(g.selection, id)
		return false
	}
	g.selection[id] = true
	return true
}

func (g *TaskGrid) ClearSelection() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.selection = map[model.TaskID]bool{}
}

// Facets counts the distinct values of a column over the current page's
// filtered rows.
func (g *TaskGrid) Facets(column string) (map[string]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	col, err := g.columnsBy.GetOrFail(column)
	if err != nil {
		return nil, err
	}
	key, err := g.currentKeyLocked()
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	res, ok := g.queries.Peek(key)
	if !ok || res.Status != StatusSuccess {
		return out, nil
	}
	for _, t := range g.rowsLocked(res.Page.Tasks) {
		out[col.Value(t)]++
	}
	return out, nil
}

// Cursors exposes the discovered cursor ledger, mainly for diagnostics.
func (g *TaskGrid) Cursors() []*string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.discovery.Cursors()
}

// CurrentKey returns the cache key of the page on screen.
func (g *TaskGrid) CurrentKey() (PageKey, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentKeyLocked()
}
