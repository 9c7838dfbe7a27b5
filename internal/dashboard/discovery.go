package dashboard

import (
	"github.com/gofixpoint/fixpoint/internal/ledger"
)

// CursorDiscovery maps page indexes to cursors for one page size, growing
// its ledger as responses reveal the next page's token. Page i+1 only
// becomes reachable after page i has been observed.
type CursorDiscovery struct {
	pageSize int
	ledger   *ledger.Ledger
}

func NewCursorDiscovery(pageSize int) *CursorDiscovery {
	return &CursorDiscovery{pageSize: pageSize, ledger: ledger.New()}
}

func (d *CursorDiscovery) PageSize() int {
	return d.pageSize
}

// SetPageSize switches page size. Cursors are only valid for the page size
// they were issued under, so a change discards all of them.
func (d *CursorDiscovery) SetPageSize(n int) bool {
	if n == d.pageSize {
		return false
	}
	d.pageSize = n
	d.ledger.Reset()
	return true
}

func (d *CursorDiscovery) Reset() {
	d.ledger.Reset()
}

// Cursor resolves a page index; it fails with ledger.ErrOutOfBounds for
// pages whose cursor has not been discovered.
func (d *CursorDiscovery) Cursor(pageIndex int) (*string, error) {
	return d.ledger.Get(pageIndex)
}

func (d *CursorDiscovery) Key(pageIndex int) (PageKey, error) {
	c, err := d.Cursor(pageIndex)
	if err != nil {
		return PageKey{}, err
	}
	return KeyFor(d.pageSize, c), nil
}

// Observe feeds a settled page result back into the ledger. Only a
// successful response for the last known page can extend it, and only with a
// token distinct from the current last entry.
func (d *CursorDiscovery) Observe(pageIndex int, res PageResult) bool {
	if res.Status != StatusSuccess {
		return false
	}
	if pageIndex != d.ledger.Len()-1 {
		return false
	}
	if res.Page.NextPageToken == nil {
		return false
	}
	return d.ledger.Append(res.Page.NextPageToken)
}

// CanAdvance reports whether the cursor for the page after pageIndex has
// been discovered.
func (d *CursorDiscovery) CanAdvance(pageIndex int) bool {
	return pageIndex >= 0 && pageIndex+1 < d.ledger.Len()
}

func (d *CursorDiscovery) KnownPages() int {
	return d.ledger.Len()
}

func (d *CursorDiscovery) Cursors() []*string {
	return d.ledger.Snapshot()
}
