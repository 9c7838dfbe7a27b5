package task

import (
	"context"
	"encoding/json"

	"github.com/gofixpoint/fixpoint/internal/model"
	"github.com/gofixpoint/fixpoint/internal/schema"
)

// LocalClient serves dashboard fetches and updates straight from a Repo.
// Payloads are marshalled the same way the HTTP API writes them, so the
// dashboard validates them exactly as it would over the wire.
type LocalClient struct {
	Repo      Repo
	Publisher Publisher
}

func (c LocalClient) FetchTasks(ctx context.Context, req model.ListTasksRequest) ([]byte, error) {
	resp, err := c.Repo.List(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

func (c LocalClient) UpdateTask(ctx context.Context, t model.Task) ([]byte, error) {
	if err := schema.ValidateTask(t); err != nil {
		return nil, err
	}
	saved, err := c.Repo.Upsert(ctx, t)
	if err != nil {
		return nil, err
	}
	if c.Publisher != nil {
		c.Publisher.PublishTaskUpdated(saved)
	}
	return json.Marshal(saved)
}
