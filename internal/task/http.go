package task

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gofixpoint/fixpoint/internal/model"
	"github.com/gofixpoint/fixpoint/internal/schema"
)

const maxBodyBytes = 1 << 20

// Publisher is told about every stored update.
type Publisher interface {
	PublishTaskUpdated(t model.Task)
}

type Handler struct {
	repo      Repo
	publisher Publisher
	logger    *zap.Logger
}

func NewHandler(repo Repo, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) SetPublisher(p Publisher) {
	h.publisher = p
}

// Register adds the task routes to r, which is expected to be mounted at
// /api/tasks.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Put)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// writeRepoErr maps repository errors onto status codes.
func (h *Handler) writeRepoErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidCursor), errors.Is(err, ErrInvalidPageSize), errors.Is(err, schema.ErrValidation):
		writeErr(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("task repo failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

// GET /api/tasks?pageSize=N&pageCursor=C
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := model.ListTasksRequest{}
	if raw := strings.TrimSpace(q.Get("pageSize")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "pageSize must be an integer")
			return
		}
		req.PageSize = n
	}
	if c := q.Get("pageCursor"); c != "" {
		req.PageCursor = &c
	}

	resp, err := h.repo.List(r.Context(), req)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/tasks/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := model.TaskID(chi.URLParam(r, "id"))
	t, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// PUT /api/tasks/{id} stores the full task in the body.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	id := model.TaskID(chi.URLParam(r, "id"))
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "read body")
		return
	}
	in, err := schema.ParseTask(body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.ID != id {
		writeErr(w, http.StatusBadRequest, "task id does not match path")
		return
	}

	saved, err := h.repo.Upsert(r.Context(), in)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	h.logger.Info("task updated",
		zap.String("task_id", string(saved.ID)),
		zap.String("status", string(saved.Status)),
	)
	if h.publisher != nil {
		h.publisher.PublishTaskUpdated(saved)
	}
	writeJSON(w, http.StatusOK, saved)
}
