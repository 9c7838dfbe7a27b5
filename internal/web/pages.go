package web

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/gofixpoint/fixpoint/internal/collections"
	"github.com/gofixpoint/fixpoint/internal/dashboard"
	"github.com/gofixpoint/fixpoint/internal/model"
)

// PageSizes are the choices offered by the page size selector.
var PageSizes = []int{10, 25, 50, 100}

type LoginData struct {
	Email    string
	CodeSent bool
	Error    string
}

type pagerItem struct {
	Label   string
	Href    string
	Current bool
	Sep     bool
}

func pager(v dashboard.View) []pagerItem {
	items := make([]pagerItem, 0, v.KnownPages)
	for i := 0; i < v.KnownPages; i++ {
		items = append(items, pagerItem{
			Label:   strconv.Itoa(i + 1),
			Href:    "/tasks?page=" + strconv.Itoa(i),
			Current: i == v.Pagination.PageIndex,
		})
	}
	return collections.InjectSeparators(items, pagerItem{Label: "·", Sep: true})
}

// sortHref cycles a column the same way the header buttons of the grid do:
// ascending, descending, unsorted.
func sortHref(v dashboard.View, col string) string {
	q := url.Values{}
	q.Set("sort", col)
	for _, s := range v.Sorting {
		if s.Column != col {
			continue
		}
		if s.Desc {
			q.Set("sort", "")
		} else {
			q.Set("desc", "1")
		}
	}
	return "/tasks?" + q.Encode()
}

func sortMark(v dashboard.View, col string) string {
	for _, s := range v.Sorting {
		if s.Column == col {
			if s.Desc {
				return " ▼"
			}
			return " ▲"
		}
	}
	return ""
}

func statusFilter(v dashboard.View) string {
	for _, f := range v.Filters {
		if f.Column == dashboard.ColumnStatus && len(f.Values) > 0 {
			return f.Values[0]
		}
	}
	return ""
}

type TasksData struct {
	View            dashboard.View
	ShowQueryStatus bool
	Fetches         int
	Notice          string
}

type EditData struct {
	Task  model.Task
	Form  dashboard.EditForm
	Error string
}

// editStatus is the status preselected on the edit form: the submitted one
// when the form is being redisplayed, the stored one otherwise.
func editStatus(d EditData) model.WorkflowStatus {
	if d.Form.Status != nil {
		return *d.Form.Status
	}
	return d.Task.Status
}

func fieldValue(d EditData, f model.EntryField) string {
	if v, ok := d.Form.Fields[f.ID]; ok {
		return v
	}
	return f.DisplayValue()
}

func queryStatus(d TasksData) string {
	v := d.View
	s := fmt.Sprintf("status=%s page=%d size=%d knownPages=%d fetches=%d",
		v.Status, v.Pagination.PageIndex, v.Pagination.PageSize, v.KnownPages, d.Fetches)
	if v.Err != nil {
		s += "\nerror=" + v.Err.Error()
	}
	return s
}

func rowSummary(v dashboard.View) string {
	s := fmt.Sprintf("%d rows on this page", v.PageRowCount)
	if v.TotalEntries != nil {
		s += " of " + v.TotalEntries.String()
	}
	return s
}
