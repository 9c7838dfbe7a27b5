// Package ledger records the opaque continuation cursors discovered while
// paging forward through a task list. Entry n is the cursor that fetches
// page n; entry 0 is always the empty cursor for the first page.
package ledger

import (
	"errors"
	"fmt"
)

var ErrOutOfBounds = errors.New("page cursor not discovered yet")

type Ledger struct {
	entries []*string
}

func New() *Ledger {
	l := &Ledger{}
	l.Reset()
	return l
}

// Reset drops every discovered cursor.
func (l *Ledger) Reset() {
	first := ""
	l.entries = []*string{&first}
}

func (l *Ledger) Len() int {
	return len(l.entries)
}

// Get returns the cursor for a page. Asking for a page whose cursor has not
// been discovered is a caller bug and fails rather than guessing.
func (l *Ledger) Get(index int) (*string, error) {
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("%w: page %d, %d known", ErrOutOfBounds, index, len(l.entries))
	}
	return copyToken(l.entries[index]), nil
}

func (l *Ledger) Last() *string {
	return copyToken(l.entries[len(l.entries)-1])
}

// Append adds token unless it equals the last entry. A nil token against a
// set last entry counts as different. It reports whether the ledger grew.
func (l *Ledger) Append(token *string) bool {
	if sameToken(l.entries[len(l.entries)-1], token) {
		return false
	}
	l.entries = append(l.entries, copyToken(token))
	return true
}

func (l *Ledger) Snapshot() []*string {
	out := make([]*string, len(l.entries))
	for i, e := range l.entries {
		out[i] = copyToken(e)
	}
	return out
}

func sameToken(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyToken(t *string) *string {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
