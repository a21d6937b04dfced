package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/wire"
)

type enqueueResult int

const (
	enqueueOK enqueueResult = iota
	enqueueDuplicate
	enqueueSaturated
)

// Subscriber is a live session registered for broadcast envelopes.
// The transport layer consumes C() and terminates when Done() is
// closed. The outbound channel preserves submission order (FIFO per
// subscriber).
type Subscriber struct {
	session  *auth.Session
	out      chan *wire.Envelope
	dedup    *dedupWindow
	lastSeen atomic.Int64 // unix nanos

	closeOnce sync.Once
	done      chan struct{}
}

func (s *Subscriber) Session() *auth.Session { return s.session }

// C is the outbound envelope stream for this subscriber.
func (s *Subscriber) C() <-chan *wire.Envelope { return s.out }

// Done is closed when the subscriber has been evicted or
// unsubscribed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Subscriber) lastActivity() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// enqueue appends the envelope to the outbound queue without ever
// blocking. Duplicates within the dedup window are suppressed, a
// saturated queue is reported so the hub can evict.
func (s *Subscriber) enqueue(env *wire.Envelope) enqueueResult {
	if s.dedup.observe(env.CorrelationID) {
		return enqueueDuplicate
	}
	select {
	case s.out <- env:
		return enqueueOK
	default:
		return enqueueSaturated
	}
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
