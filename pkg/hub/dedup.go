package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// dedupWindow remembers recently seen correlation ids per subscriber.
// A correlation id counts as duplicate while it is within the ttl and
// has not been pushed out of the bounded capacity.
type dedupWindow struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	ttl      time.Duration
	capacity int
	seen     map[uuid.UUID]time.Time
	order    []uuid.UUID
}

func newDedupWindow(clock clockwork.Clock, capacity int, ttl time.Duration) *dedupWindow {
	return &dedupWindow{
		clock:    clock,
		ttl:      ttl,
		capacity: capacity,
		seen:     make(map[uuid.UUID]time.Time, capacity),
	}
}

// observe records the correlation id and reports whether it was
// already seen within the window.
func (d *dedupWindow) observe(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if at, ok := d.seen[id]; ok && now.Sub(at) <= d.ttl {
		return true
	}
	if _, ok := d.seen[id]; !ok {
		d.order = append(d.order, id)
	}
	d.seen[id] = now
	d.expire(now)
	return false
}

// expire drops entries beyond capacity or ttl. Called with the lock
// held.
func (d *dedupWindow) expire(now time.Time) {
	for len(d.order) > 0 {
		oldest := d.order[0]
		at, ok := d.seen[oldest]
		overCap := len(d.order) > d.capacity
		if !ok || overCap || now.Sub(at) > d.ttl {
			d.order = d.order[1:]
			if ok && (overCap || now.Sub(at) > d.ttl) {
				delete(d.seen, oldest)
			}
			continue
		}
		break
	}
}
