// Package web renders the server-side task dashboard. Every signed-in
// session drives its own dashboard.Session, so cursors and cached pages
// never leak between reviewers.
package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gofixpoint/fixpoint/internal/auth"
	"github.com/gofixpoint/fixpoint/internal/dashboard"
	"github.com/gofixpoint/fixpoint/internal/model"
)

// TaskGetter loads a single task when it is not on the page in view.
type TaskGetter interface {
	Get(ctx context.Context, id model.TaskID) (model.Task, error)
}

type Options struct {
	Auth     *auth.Service
	Sessions *dashboard.Sessions
	Tasks    TaskGetter
	// ShowQueryStatus renders the current page query state above the grid.
	ShowQueryStatus bool
	Logger          *zap.Logger
}

type Handler struct {
	opts   Options
	logger *zap.Logger
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{opts: opts, logger: opts.Logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/login", h.Login)
	r.Post("/login/request", h.RequestCode)
	r.Post("/login/verify", h.VerifyCode)
	r.Post("/logout", h.Logout)
	r.Group(func(r chi.Router) {
		r.Use(h.opts.Auth.RequirePage)
		r.Get("/tasks", h.Tasks)
		r.Get("/tasks/{id}", h.Edit)
		r.Post("/tasks/{id}", h.SubmitEdit)
	})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, code int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := c.Render(r.Context(), w); err != nil {
		h.logger.Warn("render failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

// session returns the dashboard state of the signed-in session on r.
func (h *Handler) session(r *http.Request) (*dashboard.Session, string) {
	sess, _ := auth.SessionFromContext(r.Context())
	u, _ := auth.UserFromContext(r.Context())
	return h.opts.Sessions.Get(sess.ID), u.Email
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.opts.Auth.AuthenticateRequest(r, time.Now()); ok {
		http.Redirect(w, r, "/tasks", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, LoginPage(LoginData{}))
}

func (h *Handler) RequestCode(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	if _, err := h.opts.Auth.RequestOTP(email, time.Now()); err != nil {
		code := auth.StatusFor(err)
		msg := err.Error()
		if code == http.StatusInternalServerError {
			h.logger.Error("request otp failed", zap.Error(err))
			msg = "Could not issue a code. Try again."
		}
		h.render(w, r, code, LoginPage(LoginData{Email: email, Error: msg}))
		return
	}
	h.render(w, r, http.StatusOK, LoginPage(LoginData{Email: email, CodeSent: true}))
}

func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	_, token, exp, err := h.opts.Auth.VerifyOTP(email, strings.TrimSpace(r.PostFormValue("code")), time.Now())
	if err != nil {
		code := auth.StatusFor(err)
		msg := err.Error()
		if code == http.StatusInternalServerError {
			h.logger.Error("verify otp failed", zap.Error(err))
			msg = "Could not sign you in. Try again."
		}
		// An exhausted or expired challenge needs a fresh code.
		codeSent := !errors.Is(err, auth.ErrTooManyOTPAttempts) && !errors.Is(err, auth.ErrOTPExpired)
		h.render(w, r, code, LoginPage(LoginData{Email: email, CodeSent: codeSent, Error: msg}))
		return
	}
	h.opts.Auth.SetSessionCookie(w, r, token, exp)
	http.Redirect(w, r, "/tasks", http.StatusSeeOther)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.opts.Auth.RevokeSessionForRequest(r)
	h.opts.Auth.ClearSessionCookie(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// applyQuery folds the /tasks query parameters into the session's grid.
// It returns a notice for navigation that could not happen.
func applyQuery(ctx context.Context, ds *dashboard.Session, r *http.Request) (string, error) {
	q := r.URL.Query()
	g := ds.Grid

	if raw := strings.TrimSpace(q.Get("pageSize")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", errors.New("pageSize must be an integer")
		}
		if err := g.SetPageSize(n); err != nil {
			return "", err
		}
	}
	if q.Has("sort") {
		var specs []dashboard.SortSpec
		if col := strings.TrimSpace(q.Get("sort")); col != "" {
			specs = []dashboard.SortSpec{{Column: col, Desc: q.Get("desc") == "1"}}
		}
		if err := g.SetSorting(specs); err != nil {
			return "", err
		}
	}
	if q.Has("status") {
		var filters []dashboard.ColumnFilter
		if st := strings.TrimSpace(q.Get("status")); st != "" {
			filters = []dashboard.ColumnFilter{{Column: dashboard.ColumnStatus, Values: []string{st}}}
		}
		if err := g.SetColumnFilters(filters); err != nil {
			return "", err
		}
	}
	if q.Get("refresh") == "1" {
		g.Refetch(ctx)
	}

	switch q.Get("nav") {
	case "":
	case "first":
		g.FirstPage()
	case "prev":
		if err := g.PreviousPage(); err != nil {
			return "Already on the first page.", nil
		}
	case "next":
		if err := g.NextPage(); err != nil {
			return "There is no next page yet.", nil
		}
	default:
		return "", errors.New("nav must be first, prev or next")
	}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", errors.New("page must be an integer")
		}
		if err := g.GoToPage(n); err != nil {
			return "That page has not been discovered yet.", nil
		}
	}
	return "", nil
}

// GET /tasks
func (h *Handler) Tasks(w http.ResponseWriter, r *http.Request) {
	ds, email := h.session(r)
	notice, err := applyQuery(r.Context(), ds, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	view, err := ds.Settle(r.Context())
	if err != nil {
		// The client went away while the page was loading.
		return
	}
	if view.Status == dashboard.StatusError {
		h.logger.Warn("task page failed to load",
			zap.Int("page_index", view.Pagination.PageIndex),
			zap.Error(view.Err),
		)
	}
	page := TasksPage(TasksData{
		View:            view,
		ShowQueryStatus: h.opts.ShowQueryStatus,
		Fetches:         ds.Queries.Fetches(),
		Notice:          notice,
	})
	h.render(w, r, http.StatusOK, Layout("Tasks", email, ds.Toasts.Drain(), page))
}

func (h *Handler) lookup(ctx context.Context, ds *dashboard.Session, id model.TaskID) (model.Task, bool) {
	if t, ok := ds.FindTask(id); ok {
		return t, true
	}
	if h.opts.Tasks == nil {
		return model.Task{}, false
	}
	t, err := h.opts.Tasks.Get(ctx, id)
	if err != nil {
		return model.Task{}, false
	}
	return t, true
}

// GET /tasks/{id}
func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	ds, email := h.session(r)
	t, ok := h.lookup(r.Context(), ds, model.TaskID(chi.URLParam(r, "id")))
	if !ok {
		http.NotFound(w, r)
		return
	}
	ed := ds.Editor(t)
	page := EditPage(EditData{Task: t, Form: ed.Defaults()})
	h.render(w, r, http.StatusOK, Layout("Task "+string(t.ID), email, ds.Toasts.Drain(), page))
}

// parseEditForm reads the status select and field.<id> inputs.
func parseEditForm(r *http.Request) (dashboard.EditForm, error) {
	if err := r.ParseForm(); err != nil {
		return dashboard.EditForm{}, err
	}
	form := dashboard.EditForm{Fields: map[string]string{}}
	if raw := strings.TrimSpace(r.PostForm.Get("status")); raw != "" {
		st := model.WorkflowStatus(strings.ToUpper(raw))
		form.Status = &st
	}
	for k, vals := range r.PostForm {
		id, ok := strings.CutPrefix(k, "field.")
		if !ok || id == "" || len(vals) == 0 {
			continue
		}
		// Browsers submit textareas with CRLF line endings.
		form.Fields[id] = strings.ReplaceAll(vals[0], "\r\n", "\n")
	}
	return form, nil
}

// POST /tasks/{id}
func (h *Handler) SubmitEdit(w http.ResponseWriter, r *http.Request) {
	ds, email := h.session(r)
	t, ok := h.lookup(r.Context(), ds, model.TaskID(chi.URLParam(r, "id")))
	if !ok {
		http.NotFound(w, r)
		return
	}
	form, err := parseEditForm(r)
	if err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	ed := ds.Editor(t)
	if _, err := ed.Submit(r.Context(), form); err != nil {
		page := EditPage(EditData{Task: t, Form: form, Error: err.Error()})
		h.render(w, r, http.StatusUnprocessableEntity, Layout("Task "+string(t.ID), email, ds.Toasts.Drain(), page))
		return
	}
	http.Redirect(w, r, "/tasks", http.StatusSeeOther)
}
