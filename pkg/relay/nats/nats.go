// Package nats relays envelopes between racehub instances over NATS,
// so subscribers of any instance see broadcasts originating on every
// instance.
package nats

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/fpvtiming/racehub/log"
	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/hub"
	"github.com/fpvtiming/racehub/pkg/wire"
)

const subjectPrefix = "racehub.events"

type (
	// frame is the relay payload: the encoded envelope plus the
	// originating instance and the permission the local hub applied.
	frame struct {
		Origin   string `cbor:"origin"`
		Required string `cbor:"required"`
		Data     []byte `cbor:"data"`
	}

	Relay struct {
		conn   *nats.Conn
		hub    *hub.Hub
		origin string
		sub    *nats.Subscription
		l      *log.Logger
	}
	Option func(*Relay)
)

func WithLogger(arg *log.Logger) Option {
	return func(r *Relay) {
		r.l = arg
	}
}

// WithOrigin overrides the generated instance id. Useful in tests.
func WithOrigin(arg string) Option {
	return func(r *Relay) {
		r.origin = arg
	}
}

// NewRelay connects the hub to the NATS fabric: local publishes are
// forwarded to "racehub.events.<kind>", remote publishes are replayed
// into the local hub. The per subscriber dedup window suppresses the
// occasional double delivery.
func NewRelay(conn *nats.Conn, h *hub.Hub, opts ...Option) (*Relay, error) {
	ret := &Relay{
		conn:   conn,
		hub:    h,
		origin: uuid.NewString(),
		l:      log.Default().Named("relay.nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	sub, err := conn.Subscribe(subjectPrefix+".>", ret.handleInbound)
	if err != nil {
		return nil, fmt.Errorf("could not subscribe to relay subject: %w", err)
	}
	ret.sub = sub
	h.SetForward(ret.forward)
	ret.l.Info("relay connected",
		log.String("origin", ret.origin),
		log.String("server", conn.ConnectedUrl()))
	return ret, nil
}

// forward ships a locally published envelope to the other instances.
// Heartbeats stay local, liveness is a per instance concern.
func (r *Relay) forward(env *wire.Envelope, required auth.Permission) {
	if env.Kind == wire.KindHeartbeat {
		return
	}
	data, err := wire.Encode(env)
	if err != nil {
		r.l.Error("could not encode envelope for relay",
			log.Stringer("kind", env.Kind), log.ErrorField(err))
		return
	}
	payload, err := wire.EncodeMessage(&frame{
		Origin:   r.origin,
		Required: string(required),
		Data:     data,
	})
	if err != nil {
		r.l.Error("could not encode relay frame", log.ErrorField(err))
		return
	}
	subject := fmt.Sprintf("%s.%s", subjectPrefix, env.Kind)
	if err := r.conn.Publish(subject, payload); err != nil {
		r.l.Error("relay publish failed",
			log.String("subject", subject), log.ErrorField(err))
	}
}

func (r *Relay) handleInbound(msg *nats.Msg) {
	f, err := wire.DecodeMessage[frame](msg.Data)
	if err != nil {
		r.l.Warn("dropping malformed relay frame", log.ErrorField(err))
		return
	}
	if f.Origin == r.origin {
		return
	}
	env, err := wire.Decode(f.Data)
	if err != nil {
		r.l.Warn("dropping malformed relayed envelope", log.ErrorField(err))
		return
	}
	r.hub.PublishLocal(env, auth.Permission(f.Required))
}

func (r *Relay) Close() {
	if r.sub != nil {
		//nolint:errcheck // connection is being torn down
		r.sub.Unsubscribe()
	}
	r.conn.Close()
	r.l.Info("relay closed")
}
