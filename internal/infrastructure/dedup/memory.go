package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
)

// DefaultTTL is how long a delivery key is remembered
const DefaultTTL = 10 * time.Minute

// MemoryDeduper remembers deliveries in process; used when Redis is not configured
type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	seen    map[string]time.Time
	sweepAt time.Time
}

var _ port.DeliveryDeduper = (*MemoryDeduper)(nil)

// NewMemoryDeduper creates an in-process deduper
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryDeduper{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// FirstSeen implements port.DeliveryDeduper
func (d *MemoryDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.After(d.sweepAt) {
		d.sweep(now)
		d.sweepAt = now.Add(d.ttl)
	}

	if expires, ok := d.seen[key]; ok && now.Before(expires) {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}

// Close implements io.Closer
func (d *MemoryDeduper) Close() error { return nil }

func (d *MemoryDeduper) sweep(now time.Time) {
	for k, expires := range d.seen {
		if !now.Before(expires) {
			delete(d.seen, k)
		}
	}
}

// Len reports how many keys are currently remembered
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
