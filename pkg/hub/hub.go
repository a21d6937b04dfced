// Package hub tracks connected sessions and fans out envelopes to the
// eligible subset. It is the exclusive owner of the subscriber set.
package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/fpvtiming/racehub/log"
	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/wire"
)

const (
	defaultQueueSize = 256
	defaultDedupSize = 256
	defaultDedupTTL  = 60 * time.Second
)

type (
	// ForwardFunc receives every locally published envelope, used by
	// the relay to distribute envelopes to other instances.
	ForwardFunc func(env *wire.Envelope, required auth.Permission)

	Hub struct {
		mu   sync.RWMutex
		subs map[uuid.UUID]*Subscriber

		clock      clockwork.Clock
		queueSize  int
		dedupSize  int
		dedupTTL   time.Duration
		authorizer auth.Authorizer
		forward    atomic.Pointer[ForwardFunc]
		l          *log.Logger

		numRcv   atomic.Int64
		numSnd   atomic.Int64
		numSkip  atomic.Int64
		numEvict atomic.Int64
	}
	Option func(*Hub)
)

func WithClock(arg clockwork.Clock) Option {
	return func(h *Hub) {
		h.clock = arg
	}
}

func WithQueueSize(arg int) Option {
	return func(h *Hub) {
		h.queueSize = arg
	}
}

// WithDedupWindow configures the per subscriber dedup window: a
// correlation id is remembered for at most capacity entries and ttl.
func WithDedupWindow(capacity int, ttl time.Duration) Option {
	return func(h *Hub) {
		h.dedupSize = capacity
		h.dedupTTL = ttl
	}
}

func WithAuthorizer(arg auth.Authorizer) Option {
	return func(h *Hub) {
		h.authorizer = arg
	}
}

func WithLogger(arg *log.Logger) Option {
	return func(h *Hub) {
		h.l = arg
	}
}

func NewHub(opts ...Option) *Hub {
	ret := &Hub{
		subs:      make(map[uuid.UUID]*Subscriber),
		clock:     clockwork.NewRealClock(),
		queueSize: defaultQueueSize,
		dedupSize: defaultDedupSize,
		dedupTTL:  defaultDedupTTL,
		l:         log.Default().Named("hub"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.setupMetrics()
	return ret
}

// SetForward installs the relay tap. May be called once the relay is
// connected, safe while publishes are in flight.
func (h *Hub) SetForward(fn ForwardFunc) {
	h.forward.Store(&fn)
}

// Subscribe registers the session. Subscribing an already registered
// session id returns the existing subscriber (no-op).
func (h *Hub) Subscribe(sess *auth.Session) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[sess.ID()]; ok {
		return sub
	}
	sub := &Subscriber{
		session: sess,
		out:     make(chan *wire.Envelope, h.queueSize),
		dedup:   newDedupWindow(h.clock, h.dedupSize, h.dedupTTL),
		done:    make(chan struct{}),
	}
	sub.touch(h.clock.Now())
	h.subs[sess.ID()] = sub
	h.l.Info("subscriber registered",
		log.String("session", sess.ID().String()),
		log.Int("subscribers", len(h.subs)))
	return sub
}

// Unsubscribe removes the session from the registry. Unknown ids are
// a no-op.
func (h *Hub) Unsubscribe(sessionID uuid.UUID) {
	h.mu.Lock()
	sub, ok := h.subs[sessionID]
	if ok {
		delete(h.subs, sessionID)
	}
	remaining := len(h.subs)
	h.mu.Unlock()

	if ok {
		sub.close()
		h.l.Info("subscriber unregistered",
			log.String("session", sessionID.String()),
			log.Int("subscribers", remaining))
	}
}

// Publish delivers the envelope to every registered session whose
// permission set satisfies required (PermNone means everyone).
// Ordering of successive Publish calls from the same goroutine is
// preserved per subscriber. A subscriber with a saturated outbound
// queue is evicted, publishing never blocks on a single subscriber.
func (h *Hub) Publish(env *wire.Envelope, required auth.Permission) {
	h.publish(env, required)
	if fn := h.forward.Load(); fn != nil {
		(*fn)(env, required)
	}
}

// PublishLocal is Publish without the relay tap. Used for envelopes
// that arrived from a remote instance.
func (h *Hub) PublishLocal(env *wire.Envelope, required auth.Permission) {
	h.publish(env, required)
}

func (h *Hub) publish(env *wire.Envelope, required auth.Permission) {
	h.numRcv.Add(1)

	// a permissions update re-resolves every session before the
	// envelope fans out, no matter whether it was raised locally or
	// arrived via the relay
	if env.Kind == wire.KindPermissionsUpdate {
		h.refreshSessions(context.Background())
	}

	// snapshot the eligible subscribers, then enqueue without the lock
	h.mu.RLock()
	eligible := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.session.Satisfies(required) {
			eligible = append(eligible, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range eligible {
		switch sub.enqueue(env) {
		case enqueueOK:
			h.numSnd.Add(1)
		case enqueueDuplicate:
			h.numSkip.Add(1)
		case enqueueSaturated:
			h.numSkip.Add(1)
			h.l.Warn("subscriber queue saturated, evicting",
				log.String("session", sub.session.ID().String()),
				log.Stringer("kind", env.Kind))
			h.evict(sub)
		}
	}
}

func (h *Hub) evict(sub *Subscriber) {
	h.numEvict.Add(1)
	h.Unsubscribe(sub.session.ID())
}

// Touch records inbound activity of a session, keeping it alive for
// the heartbeat monitor.
func (h *Hub) Touch(sessionID uuid.UUID) {
	h.mu.RLock()
	sub, ok := h.subs[sessionID]
	h.mu.RUnlock()
	if ok {
		sub.touch(h.clock.Now())
	}
}

// staleSince returns the subscribers without activity since the
// cutoff.
func (h *Hub) staleSince(cutoff time.Time) []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ret []*Subscriber
	for _, sub := range h.subs {
		if sub.lastActivity().Before(cutoff) {
			ret = append(ret, sub)
		}
	}
	return ret
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// RefreshPermissions broadcasts a permissions-update envelope. The
// publish path re-resolves every registered session through the
// authorizer before fan-out, see publish.
func (h *Hub) RefreshPermissions() {
	h.Publish(wire.NewEnvelope(wire.KindPermissionsUpdate), auth.PermNone)
}

func (h *Hub) refreshSessions(ctx context.Context) {
	if h.authorizer == nil {
		return
	}
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		perms, err := h.authorizer.PermissionsFor(ctx, sub.session.Username())
		if err != nil {
			h.l.Error("could not refresh permissions",
				log.String("username", sub.session.Username()),
				log.ErrorField(err))
			continue
		}
		sub.session.SetPermissions(perms)
	}
}

// Close evicts all subscribers. Used on server shutdown after the
// shutdown envelope was published.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uuid.UUID]*Subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	h.l.Info("hub closed",
		log.Int("rcv", int(h.numRcv.Load())),
		log.Int("snd", int(h.numSnd.Load())),
		log.Int("skip", int(h.numSkip.Load())))
}
