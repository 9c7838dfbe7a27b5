package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

type TaskID string

type WorkflowStatus string

const (
	StatusRunning        WorkflowStatus = "RUNNING"
	StatusSuspended      WorkflowStatus = "SUSPENDED"
	StatusFailed         WorkflowStatus = "FAILED"
	StatusCancelled      WorkflowStatus = "CANCELLED"
	StatusCompleted      WorkflowStatus = "COMPLETED"
	StatusTerminated     WorkflowStatus = "TERMINATED"
	StatusTimedOut       WorkflowStatus = "TIMED_OUT"
	StatusContinuedAsNew WorkflowStatus = "CONTINUED_AS_NEW"
)

// WorkflowStatuses lists every status in display order.
var WorkflowStatuses = []WorkflowStatus{
	StatusRunning,
	StatusSuspended,
	StatusFailed,
	StatusCancelled,
	StatusCompleted,
	StatusTerminated,
	StatusTimedOut,
	StatusContinuedAsNew,
}

func (s WorkflowStatus) Valid() bool {
	for _, v := range WorkflowStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the workflow can no longer make progress.
// TIMED_OUT is not terminal: the run may still be retried upstream.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusCompleted, StatusTerminated:
		return true
	default:
		return false
	}
}

func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	st := WorkflowStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown workflow status %q", s)
	}
	return st, nil
}

type EditableConfig struct {
	IsEditable    bool    `json:"is_editable"`
	IsRequired    bool    `json:"is_required"`
	HumanContents *string `json:"human_contents,omitempty"`
}

type EntryField struct {
	ID             string         `json:"id"`
	DisplayName    *string        `json:"display_name,omitempty"`
	Description    *string        `json:"description,omitempty"`
	Contents       *string        `json:"contents,omitempty"`
	EditableConfig EditableConfig `json:"editable_config"`
}

// DisplayValue is what a reviewer sees: their own override when present,
// otherwise the machine output.
func (f EntryField) DisplayValue() string {
	if f.EditableConfig.HumanContents != nil {
		return *f.EditableConfig.HumanContents
	}
	if f.Contents != nil {
		return *f.Contents
	}
	return ""
}

func (f EntryField) Label() string {
	if f.DisplayName != nil && *f.DisplayName != "" {
		return *f.DisplayName
	}
	return f.ID
}

type Task struct {
	ID            TaskID         `json:"id"`
	WorkflowID    string         `json:"workflowId"`
	WorkflowRunID string         `json:"workflowRunId"`
	NodeID        *string        `json:"nodeId,omitempty"`
	Status        WorkflowStatus `json:"status"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
	EntryFields   []EntryField   `json:"entryFields"`
}

// Field returns the entry field with the given id.
func (t Task) Field(id string) (EntryField, bool) {
	for _, f := range t.EntryFields {
		if f.ID == id {
			return f, true
		}
	}
	return EntryField{}, false
}

// Clone returns a deep copy so cached pages never share field slices with
// callers.
func (t Task) Clone() Task {
	out := t
	out.NodeID = cloneStr(t.NodeID)
	out.EntryFields = make([]EntryField, len(t.EntryFields))
	for i, f := range t.EntryFields {
		f.DisplayName = cloneStr(f.DisplayName)
		f.Description = cloneStr(f.Description)
		f.Contents = cloneStr(f.Contents)
		f.EditableConfig.HumanContents = cloneStr(f.EditableConfig.HumanContents)
		out.EntryFields[i] = f
	}
	return out
}

func (t Task) CreatedTime() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, t.CreatedAt)
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func StringPtr(s string) *string {
	return &s
}

type ListTasksRequest struct {
	PageSize   int     `json:"pageSize"`
	PageCursor *string `json:"pageCursor,omitempty"`
}

type ListTasksResponse struct {
	Tasks         []Task      `json:"tasks"`
	NextPageToken *string     `json:"nextPageToken,omitempty"`
	TotalEntries  *TotalCount `json:"totalEntries,omitempty"`
}

// HasNextPage reports whether the server handed out a continuation token.
func (r ListTasksResponse) HasNextPage() bool {
	return r.NextPageToken != nil
}

var ErrNegativeCount = errors.New("total count must be non-negative")

// TotalCount is an arbitrary-precision, non-negative entry count. It decodes
// from either a JSON string or a JSON number and always encodes as a string.
type TotalCount struct {
	n big.Int
}

func NewTotalCount(n int64) *TotalCount {
	c := &TotalCount{}
	c.n.SetInt64(n)
	return c
}

func ParseTotalCount(s string) (*TotalCount, error) {
	c := &TotalCount{}
	if _, ok := c.n.SetString(strings.TrimSpace(s), 10); !ok {
		return nil, fmt.Errorf("invalid total count %q", s)
	}
	if c.n.Sign() < 0 {
		return nil, ErrNegativeCount
	}
	return c, nil
}

func (c *TotalCount) Int() *big.Int {
	return new(big.Int).Set(&c.n)
}

func (c *TotalCount) String() string {
	if c == nil {
		return ""
	}
	return c.n.String()
}

func (c *TotalCount) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.n.String())
}

func (c *TotalCount) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := ParseTotalCount(raw)
	if err != nil {
		return err
	}
	c.n.Set(&parsed.n)
	return nil
}
