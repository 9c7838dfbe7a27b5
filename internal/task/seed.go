package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gofixpoint/fixpoint/internal/model"
)

type demoWorkflow struct {
	id     string
	node   string
	fields func(i int) []model.EntryField
}

var demoWorkflows = []demoWorkflow{
	{
		id:   "invoice-extraction",
		node: "extract_totals",
		fields: func(i int) []model.EntryField {
			return []model.EntryField{
				{
					ID:             "vendor",
					DisplayName:    model.StringPtr("Vendor"),
					Contents:       model.StringPtr(fmt.Sprintf("Acme Supply #%d", i%7+1)),
					EditableConfig: model.EditableConfig{IsEditable: true, IsRequired: true},
				},
				{
					ID:             "total",
					DisplayName:    model.StringPtr("Invoice total"),
					Description:    model.StringPtr("Amount due including tax."),
					Contents:       model.StringPtr(fmt.Sprintf("%d.%02d", 100+i*13, i%100)),
					EditableConfig: model.EditableConfig{IsEditable: true, IsRequired: true},
				},
				{
					ID:          "source",
					DisplayName: model.StringPtr("Source document"),
					Contents:    model.StringPtr(fmt.Sprintf("s3://invoices/2026/%04d.pdf", i)),
				},
			}
		},
	},
	{
		id:   "support-triage",
		node: "classify_ticket",
		fields: func(i int) []model.EntryField {
			labels := []string{"billing", "bug", "feature-request", "account"}
			return []model.EntryField{
				{
					ID:             "category",
					DisplayName:    model.StringPtr("Category"),
					Contents:       model.StringPtr(labels[i%len(labels)]),
					EditableConfig: model.EditableConfig{IsEditable: true, IsRequired: true},
				},
				{
					ID:             "reply_draft",
					DisplayName:    model.StringPtr("Reply draft"),
					Contents:       model.StringPtr("Thanks for reaching out. We are looking into it."),
					EditableConfig: model.EditableConfig{IsEditable: true},
				},
			}
		},
	},
	{
		id:   "contract-review",
		node: "flag_clauses",
		fields: func(i int) []model.EntryField {
			return []model.EntryField{{
				ID:             "risk",
				DisplayName:    model.StringPtr("Risk summary"),
				Contents:       model.StringPtr(fmt.Sprintf("Auto-renewal clause in section %d", i%12+1)),
				EditableConfig: model.EditableConfig{IsEditable: true},
			}}
		},
	},
}

// DemoTasks returns n suspended tasks spread one minute apart, newest at now.
func DemoTasks(n int, now time.Time) []model.Task {
	out := make([]model.Task, 0, n)
	for i := 0; i < n; i++ {
		wf := demoWorkflows[i%len(demoWorkflows)]
		ts := now.Add(-time.Duration(i) * time.Minute).UTC().Format(time.RFC3339Nano)
		st := model.StatusSuspended
		if i%9 == 4 {
			st = model.StatusRunning
		}
		out = append(out, model.Task{
			ID:            model.TaskID(uuid.NewString()),
			WorkflowID:    wf.id,
			WorkflowRunID: uuid.NewString(),
			NodeID:        model.StringPtr(wf.node),
			Status:        st,
			CreatedAt:     ts,
			UpdatedAt:     ts,
			EntryFields:   wf.fields(i),
		})
	}
	return out
}

// SeedIfEmpty stores tasks only when the repository has none. It reports how
// many were written.
func SeedIfEmpty(ctx context.Context, repo Repo, tasks []model.Task) (int, error) {
	n, err := repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	for i, t := range tasks {
		if _, err := repo.Upsert(ctx, t); err != nil {
			return i, fmt.Errorf("seed task %s: %w", t.ID, err)
		}
	}
	return len(tasks), nil
}
