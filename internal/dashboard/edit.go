package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gofixpoint/fixpoint/internal/model"
	"github.com/gofixpoint/fixpoint/internal/schema"
)

// TaskUpdater persists a full task and returns the stored task payload.
type TaskUpdater interface {
	UpdateTask(ctx context.Context, t model.Task) ([]byte, error)
}

type TaskUpdaterFunc func(ctx context.Context, t model.Task) ([]byte, error)

func (f TaskUpdaterFunc) UpdateTask(ctx context.Context, t model.Task) ([]byte, error) {
	return f(ctx, t)
}

type EditState string

const (
	EditViewing    EditState = "viewing"
	EditSubmitting EditState = "submitting"
	EditError      EditState = "error"
)

var (
	ErrSubmitInProgress = errors.New("an update is already being submitted")
	ErrUnknownField     = errors.New("unknown entry field")
	ErrFieldNotEditable = errors.New("entry field is not editable")
	ErrFieldRequired    = errors.New("entry field is required")
)

// EditForm is the reviewer's input. Fields maps entry field id to override
// text; fields left out keep their current editable config.
type EditForm struct {
	Status *model.WorkflowStatus
	Fields map[string]string
}

type TaskEditor struct {
	updater  TaskUpdater
	queries  *PageQueries
	notifier Notifier
	logger   *zap.Logger

	mu      sync.Mutex
	state   EditState
	task    model.Task
	lastErr error
}

type EditorOptions struct {
	Updater  TaskUpdater
	Queries  *PageQueries
	Notifier Notifier
	Logger   *zap.Logger
}

func NewTaskEditor(t model.Task, opts EditorOptions) *TaskEditor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: opts.Logger}
	}
	return &TaskEditor{
		updater:  opts.Updater,
		queries:  opts.Queries,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		state:    EditViewing,
		task:     t.Clone(),
	}
}

func (e *TaskEditor) State() (EditState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.lastErr
}

func (e *TaskEditor) Task() model.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone()
}

// Defaults returns the form prefilled with what the reviewer currently sees.
func (e *TaskEditor) Defaults() EditForm {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.task.Status
	form := EditForm{Status: &st, Fields: map[string]string{}}
	for _, f := range e.task.EntryFields {
		form.Fields[f.ID] = f.DisplayValue()
	}
	return form
}

// apply merges the form into a copy of the task.
func apply(t model.Task, form EditForm) (model.Task, error) {
	out := t.Clone()
	if form.Status != nil {
		if !form.Status.Valid() {
			return model.Task{}, fmt.Errorf("%w: status %q", schema.ErrValidation, *form.Status)
		}
		out.Status = *form.Status
	}
	for id, val := range form.Fields {
		idx := -1
		for i := range out.EntryFields {
			if out.EntryFields[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return model.Task{}, fmt.Errorf("%w: %q", ErrUnknownField, id)
		}
		f := &out.EntryFields[idx]
		if f.DisplayValue() == val {
			continue
		}
		if !f.EditableConfig.IsEditable {
			return model.Task{}, fmt.Errorf("%w: %q", ErrFieldNotEditable, id)
		}
		if f.EditableConfig.IsRequired && val == "" {
			return model.Task{}, fmt.Errorf("%w: %q", ErrFieldRequired, id)
		}
		v := val
		f.EditableConfig.HumanContents = &v
	}
	return out, nil
}

// Submit sends the edited task. On success the stored task replaces the
// matching row in every cached page; on failure the cache is left alone and
// the reviewer is notified.
func (e *TaskEditor) Submit(ctx context.Context, form EditForm) (model.Task, error) {
	e.mu.Lock()
	if e.state == EditSubmitting {
		e.mu.Unlock()
		return model.Task{}, ErrSubmitInProgress
	}
	next, err := apply(e.task, form)
	if err != nil {
		e.mu.Unlock()
		return model.Task{}, err
	}
	e.state = EditSubmitting
	e.lastErr = nil
	e.mu.Unlock()

	saved, err := e.send(ctx, next)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = EditError
		e.lastErr = err
		e.logger.Warn("update task failed", zap.String("task_id", string(next.ID)), zap.Error(err))
		e.notifier.Notify(Notification{
			Title:       "Task update failed",
			Description: fmt.Sprintf("Task %s could not be updated: %v", next.ID, err),
			IsError:     true,
		})
		return model.Task{}, err
	}

	e.task = saved.Clone()
	e.state = EditViewing
	if e.queries != nil {
		e.queries.ReplaceTask(saved)
	}
	e.notifier.Notify(Notification{
		Title:       "Task updated",
		Description: fmt.Sprintf("Task %s has been updated", saved.ID),
	})
	return saved.Clone(), nil
}

func (e *TaskEditor) send(ctx context.Context, t model.Task) (model.Task, error) {
	if e.updater == nil {
		return model.Task{}, errors.New("no task updater configured")
	}
	raw, err := e.updater.UpdateTask(ctx, t)
	if err != nil {
		return model.Task{}, err
	}
	saved, err := schema.ParseTask(raw)
	if err != nil {
		return model.Task{}, err
	}
	if saved.ID != t.ID {
		return model.Task{}, fmt.Errorf("server returned task %q for update of %q", saved.ID, t.ID)
	}
	return saved, nil
}
