// Package ws exposes the event stream over websocket and routes
// inbound command envelopes to their handlers.
package ws

import (
	"errors"
	"fmt"

	"github.com/fpvtiming/racehub/log"
	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/wire"
)

// ErrPermissionDenied is returned when a session submits a command
// envelope its permission set does not cover. The command is dropped.
var ErrPermissionDenied = errors.New("permission denied")

type (
	// HandlerFunc processes a single inbound command envelope.
	HandlerFunc func(sess *auth.Session, env *wire.Envelope) error

	route struct {
		required auth.Permission
		fn       HandlerFunc
	}

	// Router maps envelope kinds to handlers, each guarded by a
	// permission. Kinds without a route are silently ignored, clients
	// may send newer kinds than this instance knows.
	Router struct {
		routes map[wire.Kind]route
		l      *log.Logger
	}
	RouterOption func(*Router)
)

func WithRouterLogger(arg *log.Logger) RouterOption {
	return func(r *Router) {
		r.l = arg
	}
}

func NewRouter(opts ...RouterOption) *Router {
	ret := &Router{
		routes: make(map[wire.Kind]route),
		l:      log.Default().Named("ws.router"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Handle registers a handler for kind. Commands of that kind are only
// dispatched when the submitting session satisfies required.
func (r *Router) Handle(kind wire.Kind, required auth.Permission, fn HandlerFunc) {
	r.routes[kind] = route{required: required, fn: fn}
}

// Dispatch routes one inbound envelope. Unknown or unrouted kinds are
// dropped without error.
func (r *Router) Dispatch(sess *auth.Session, env *wire.Envelope) error {
	rt, ok := r.routes[env.Kind]
	if !ok {
		r.l.Debug("no route for inbound envelope, ignoring",
			log.Stringer("kind", env.Kind))
		return nil
	}
	if !sess.Satisfies(rt.required) {
		r.l.Warn("inbound command rejected",
			log.Stringer("kind", env.Kind),
			log.String("username", sess.Username()),
			log.String("required", string(rt.required)))
		return fmt.Errorf("%w: %s requires %s", ErrPermissionDenied, env.Kind, rt.required)
	}
	return rt.fn(sess, env)
}
