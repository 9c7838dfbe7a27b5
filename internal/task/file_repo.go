package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofixpoint/fixpoint/internal/model"
)

type fileState struct {
	Tasks map[model.TaskID]model.Task `json:"tasks"`
}

func newFileState() fileState {
	return fileState{Tasks: map[model.TaskID]model.Task{}}
}

// FileRepo is a persistent task repository backed by a single JSON file in
// the data directory. Every write rewrites the whole file.
type FileRepo struct {
	mu   sync.RWMutex
	path string
	s    fileState
	now  func() time.Time
}

func NewFileRepo(dataDir string) (*FileRepo, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	r := &FileRepo{
		path: filepath.Join(dataDir, "tasks.json"),
		s:    newFileState(),
		now:  time.Now,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRepo) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.s = newFileState()
			return nil
		}
		return err
	}

	var loaded fileState
	if err := json.Unmarshal(b, &loaded); err != nil {
		return fmt.Errorf("decode %s: %w", r.path, err)
	}
	if loaded.Tasks == nil {
		loaded.Tasks = map[model.TaskID]model.Task{}
	}
	r.s = loaded
	return nil
}

func (r *FileRepo) saveLocked() error {
	b, err := json.MarshalIndent(r.s, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

func (r *FileRepo) List(ctx context.Context, req model.ListTasksRequest) (model.ListTasksResponse, error) {
	_ = ctx
	pr, err := parseRequest(req)
	if err != nil {
		return model.ListTasksResponse{}, err
	}

	r.mu.RLock()
	all := make([]model.Task, 0, len(r.s.Tasks))
	for _, t := range r.s.Tasks {
		all = append(all, t)
	}
	r.mu.RUnlock()

	sortTasks(all)
	return paginate(all, pr), nil
}

func (r *FileRepo) Get(ctx context.Context, id model.TaskID) (model.Task, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.s.Tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (r *FileRepo) Upsert(ctx context.Context, t model.Task) (model.Task, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing *model.Task
	if cur, ok := r.s.Tasks[t.ID]; ok && t.ID != "" {
		existing = &cur
	}
	out, err := prepare(t, existing, r.now())
	if err != nil {
		return model.Task{}, err
	}

	prev, had := r.s.Tasks[out.ID]
	r.s.Tasks[out.ID] = out
	if err := r.saveLocked(); err != nil {
		if had {
			r.s.Tasks[out.ID] = prev
		} else {
			delete(r.s.Tasks, out.ID)
		}
		return model.Task{}, err
	}
	return out.Clone(), nil
}

func (r *FileRepo) Count(ctx context.Context) (int64, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.s.Tasks)), nil
}
