package store

import (
	"context"
	"sync"
	"time"
)

// InboundDedup records channel message ids so a message redelivered by the
// transport is answered only once.
type InboundDedup interface {
	// ClaimInbound records messageID for sessionID. It returns false when the
	// id was already recorded.
	ClaimInbound(ctx context.Context, messageID, sessionID string) (bool, error)
	// MarkProcessed stamps the time the message's turn finished.
	MarkProcessed(ctx context.Context, messageID string) error
}

// Pruner drops bookkeeping rows that are no longer needed: dedup records
// received before a cutoff and outbox replies delivered before it.
type Pruner interface {
	PruneInbound(ctx context.Context, before time.Time) (int, error)
	PruneSentReplies(ctx context.Context, before time.Time) (int, error)
}

// MemoryDedup is an InboundDedup for the in-memory backend. It keeps at most
// limit ids and forgets the oldest first.
type MemoryDedup struct {
	mu    sync.Mutex
	seen  map[string]bool
	order []string
	limit int
}

// DefaultDedupLimit bounds the ids remembered by MemoryDedup.
const DefaultDedupLimit = 10000

// Compile-time check that MemoryDedup implements InboundDedup.
var _ InboundDedup = (*MemoryDedup)(nil)

// NewMemoryDedup creates a MemoryDedup; a non-positive limit uses DefaultDedupLimit.
func NewMemoryDedup(limit int) *MemoryDedup {
	if limit <= 0 {
		limit = DefaultDedupLimit
	}
	return &MemoryDedup{seen: make(map[string]bool), limit: limit}
}

func (d *MemoryDedup) ClaimInbound(_ context.Context, messageID, _ string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[messageID] {
		return false, nil
	}
	d.seen[messageID] = true
	d.order = append(d.order, messageID)
	if len(d.order) > d.limit {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return true, nil
}

func (d *MemoryDedup) MarkProcessed(context.Context, string) error {
	return nil
}
