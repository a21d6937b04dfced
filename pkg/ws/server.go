package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fpvtiming/racehub/log"
	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/hub"
	"github.com/fpvtiming/racehub/pkg/wire"
)

const (
	defaultWriteTimeout   = 10 * time.Second
	defaultPongTimeout    = 60 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultMaxMessageSize = 4096
)

type (
	// Server upgrades authenticated HTTP requests to websocket event
	// streams. Each stream is backed by a hub subscriber, outbound
	// envelopes go out as binary frames, inbound frames are decoded and
	// dispatched through the router.
	Server struct {
		store  *auth.SessionStore
		hub    *hub.Hub
		router *Router

		upgrader       websocket.Upgrader
		writeTimeout   time.Duration
		pongTimeout    time.Duration
		pingInterval   time.Duration
		maxMessageSize int64
		l              *log.Logger
	}
	Option func(*Server)
)

func WithLogger(arg *log.Logger) Option {
	return func(s *Server) {
		s.l = arg
	}
}

func WithPingInterval(arg time.Duration) Option {
	return func(s *Server) {
		s.pingInterval = arg
		s.pongTimeout = 2 * arg
	}
}

func WithMaxMessageSize(arg int64) Option {
	return func(s *Server) {
		s.maxMessageSize = arg
	}
}

func WithCheckOrigin(arg func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = arg
	}
}

func NewServer(store *auth.SessionStore, h *hub.Hub, router *Router, opts ...Option) *Server {
	ret := &Server{
		store:  store,
		hub:    h,
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		writeTimeout:   defaultWriteTimeout,
		pongTimeout:    defaultPongTimeout,
		pingInterval:   defaultPingInterval,
		maxMessageSize: defaultMaxMessageSize,
		l:              log.Default().Named("ws"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// sessionToken extracts the token from the session header. Browser
// websocket clients cannot set headers, they pass the token in the
// "session" query parameter instead.
func sessionToken(r *http.Request) string {
	if token := r.Header.Get(auth.SessionHeader); token != "" {
		return token
	}
	return r.URL.Query().Get("session")
}

// ServeHTTP authenticates the request, requires the event stream
// permission and hands the connection over to the pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Lookup(sessionToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !sess.Satisfies(auth.PermEventStream) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.l.Error("websocket upgrade failed", log.ErrorField(err))
		return
	}
	sub := s.hub.Subscribe(sess)
	s.l.Info("event stream opened",
		log.String("username", sess.Username()),
		log.String("session", sess.ID().String()))

	go s.writePump(conn, sub)
	s.readPump(conn, sub)
}

// readPump consumes inbound frames until the connection dies. Each
// frame counts as session activity. Malformed frames are dropped, the
// connection stays up.
func (s *Server) readPump(conn *websocket.Conn, sub *hub.Subscriber) {
	defer func() {
		s.hub.Unsubscribe(sub.Session().ID())
		//nolint:errcheck // connection is going away
		conn.Close()
	}()
	conn.SetReadLimit(s.maxMessageSize)
	//nolint:errcheck // deadline on a fresh connection
	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		s.hub.Touch(sub.Session().ID())
		return conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.l.Warn("event stream read error", log.ErrorField(err))
			}
			return
		}
		s.hub.Touch(sub.Session().ID())
		//nolint:errcheck // deadline refresh on live connection
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		if msgType != websocket.BinaryMessage {
			continue
		}
		env, err := wire.Decode(data)
		if err != nil {
			s.l.Debug("dropping malformed inbound frame",
				log.String("session", sub.Session().ID().String()),
				log.ErrorField(err))
			continue
		}
		if err := s.router.Dispatch(sub.Session(), env); err != nil {
			if !errors.Is(err, ErrPermissionDenied) {
				s.l.Error("inbound command failed",
					log.Stringer("kind", env.Kind),
					log.ErrorField(err))
			}
		}
	}
}

// writePump drains the subscriber queue onto the wire and keeps the
// connection alive with pings. Returns when the subscriber is evicted
// or the connection fails.
func (s *Server) writePump(conn *websocket.Conn, sub *hub.Subscriber) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		//nolint:errcheck // connection is going away
		conn.Close()
	}()

	for {
		select {
		case env := <-sub.C():
			data, err := wire.Encode(env)
			if err != nil {
				s.l.Error("could not encode outbound envelope",
					log.Stringer("kind", env.Kind),
					log.ErrorField(err))
				continue
			}
			//nolint:errcheck // failure surfaces on the write below
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				s.l.Debug("event stream write failed", log.ErrorField(err))
				s.hub.Unsubscribe(sub.Session().ID())
				return
			}
		case <-sub.Done():
			//nolint:errcheck // best effort close frame
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "evicted"),
				time.Now().Add(s.writeTimeout))
			return
		case <-ticker.C:
			//nolint:errcheck // failure surfaces on the write below
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Unsubscribe(sub.Session().ID())
				return
			}
		}
	}
}
