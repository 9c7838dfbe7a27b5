package task

import (
	"context"
	"sync"
	"time"

	"github.com/gofixpoint/fixpoint/internal/model"
)

type MemoryRepo struct {
	mu    sync.RWMutex
	tasks map[model.TaskID]model.Task
	now   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		tasks: make(map[model.TaskID]model.Task),
		now:   time.Now,
	}
}

func (r *MemoryRepo) List(ctx context.Context, req model.ListTasksRequest) (model.ListTasksResponse, error) {
	_ = ctx
	pr, err := parseRequest(req)
	if err != nil {
		return model.ListTasksResponse{}, err
	}

	r.mu.RLock()
	all := make([]model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		all = append(all, t)
	}
	r.mu.RUnlock()

	sortTasks(all)
	return paginate(all, pr), nil
}

func (r *MemoryRepo) Get(ctx context.Context, id model.TaskID) (model.Task, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (r *MemoryRepo) Upsert(ctx context.Context, t model.Task) (model.Task, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	var existing *model.Task
	if cur, ok := r.tasks[t.ID]; ok && t.ID != "" {
		existing = &cur
	}
	out, err := prepare(t, existing, r.now())
	if err != nil {
		return model.Task{}, err
	}
	r.tasks[out.ID] = out
	return out.Clone(), nil
}

func (r *MemoryRepo) Count(ctx context.Context) (int64, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.tasks)), nil
}
