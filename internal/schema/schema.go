// Package schema validates task payloads at the API boundary. Payloads are
// checked against a JSON Schema first and then decoded into model types, so
// callers only ever see a typed value or a *ValidationError.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/gofixpoint/fixpoint/internal/model"
)

var ErrValidation = errors.New("payload failed validation")

type ValidationError struct {
	Subject string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Subject, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

func ptr[T any](v T) *T { return &v }

func statusEnum() []any {
	out := make([]any, 0, len(model.WorkflowStatuses))
	for _, s := range model.WorkflowStatuses {
		out = append(out, string(s))
	}
	return out
}

func optionalString() *jsonschema.Schema {
	return &jsonschema.Schema{Types: []string{"string", "null"}}
}

func editableConfigSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"is_editable", "is_required"},
		Properties: map[string]*jsonschema.Schema{
			"is_editable":    {Type: "boolean"},
			"is_required":    {Type: "boolean"},
			"human_contents": optionalString(),
		},
	}
}

func entryFieldSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"id", "editable_config"},
		Properties: map[string]*jsonschema.Schema{
			"id":              {Type: "string", MinLength: ptr(1)},
			"display_name":    optionalString(),
			"description":     optionalString(),
			"contents":        optionalString(),
			"editable_config": editableConfigSchema(),
		},
	}
}

// TaskSchema is the structural contract for a single task.
func TaskSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Required: []string{
			"id", "workflowId", "workflowRunId", "status",
			"createdAt", "updatedAt", "entryFields",
		},
		Properties: map[string]*jsonschema.Schema{
			"id":            {Type: "string", MinLength: ptr(1)},
			"workflowId":    {Type: "string"},
			"workflowRunId": {Type: "string"},
			"nodeId":        optionalString(),
			"status":        {Type: "string", Enum: statusEnum()},
			"createdAt":     {Type: "string"},
			"updatedAt":     {Type: "string"},
			"entryFields":   {Type: "array", Items: entryFieldSchema()},
		},
	}
}

// ListTasksResponseSchema is the contract for one page of tasks.
func ListTasksResponseSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"tasks"},
		Properties: map[string]*jsonschema.Schema{
			"tasks":         {Type: "array", Items: TaskSchema()},
			"nextPageToken": optionalString(),
			"totalEntries": {
				Types: []string{"string", "integer", "null"},
				// Only consulted for the matching instance type.
				Pattern: `^[0-9]+$`,
				Minimum: ptr(0.0),
			},
		},
	}
}

var (
	resolveOnce  sync.Once
	taskResolved *jsonschema.Resolved
	listResolved *jsonschema.Resolved
	resolveErr   error
)

func resolved() (*jsonschema.Resolved, *jsonschema.Resolved, error) {
	resolveOnce.Do(func() {
		taskResolved, resolveErr = TaskSchema().Resolve(nil)
		if resolveErr != nil {
			return
		}
		listResolved, resolveErr = ListTasksResponseSchema().Resolve(nil)
	})
	return taskResolved, listResolved, resolveErr
}

func validateInstance(rs *jsonschema.Resolved, subject string, data []byte) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return &ValidationError{Subject: subject, Err: err}
	}
	if err := rs.Validate(instance); err != nil {
		return &ValidationError{Subject: subject, Err: err}
	}
	return nil
}

// ParseTask validates and decodes a single task.
func ParseTask(data []byte) (model.Task, error) {
	taskRS, _, err := resolved()
	if err != nil {
		return model.Task{}, fmt.Errorf("resolve task schema: %w", err)
	}
	if err := validateInstance(taskRS, "task", data); err != nil {
		return model.Task{}, err
	}
	var t model.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return model.Task{}, &ValidationError{Subject: "task", Err: err}
	}
	if err := checkTask(t); err != nil {
		return model.Task{}, &ValidationError{Subject: "task " + string(t.ID), Err: err}
	}
	return t, nil
}

// ParseListTasksResponse validates and decodes a page of tasks.
func ParseListTasksResponse(data []byte) (model.ListTasksResponse, error) {
	_, listRS, err := resolved()
	if err != nil {
		return model.ListTasksResponse{}, fmt.Errorf("resolve list schema: %w", err)
	}
	if err := validateInstance(listRS, "list tasks response", data); err != nil {
		return model.ListTasksResponse{}, err
	}
	var resp model.ListTasksResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return model.ListTasksResponse{}, &ValidationError{Subject: "list tasks response", Err: err}
	}
	for _, t := range resp.Tasks {
		if err := checkTask(t); err != nil {
			return model.ListTasksResponse{}, &ValidationError{Subject: "task " + string(t.ID), Err: err}
		}
	}
	if resp.Tasks == nil {
		resp.Tasks = []model.Task{}
	}
	return resp, nil
}

// ValidateTask runs the same checks as ParseTask on an already-typed task.
func ValidateTask(t model.Task) error {
	if t.EntryFields == nil {
		t.EntryFields = []model.EntryField{}
	}
	b, err := json.Marshal(t)
	if err != nil {
		return &ValidationError{Subject: "task", Err: err}
	}
	_, err = ParseTask(b)
	return err
}

// checkTask covers what the structural schema cannot express.
func checkTask(t model.Task) error {
	if !t.Status.Valid() {
		return fmt.Errorf("unknown status %q", t.Status)
	}
	if _, err := time.Parse(time.RFC3339Nano, t.CreatedAt); err != nil {
		return fmt.Errorf("createdAt: %w", err)
	}
	if _, err := time.Parse(time.RFC3339Nano, t.UpdatedAt); err != nil {
		return fmt.Errorf("updatedAt: %w", err)
	}
	seen := make(map[string]struct{}, len(t.EntryFields))
	for _, f := range t.EntryFields {
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("duplicate entry field id %q", f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}
