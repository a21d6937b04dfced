// Package session provides the HTTP endpoints for login, logout and
// password reset. Request and response bodies use the same binary
// encoding as the event stream.
package session

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/fpvtiming/racehub/log"
	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/wire"
)

const (
	contentType = "application/cbor"
	maxBodySize = 4096
)

type (
	// Evictor detaches a session's event stream when the session ends.
	Evictor interface {
		Unsubscribe(sessionID uuid.UUID)
	}

	Manager struct {
		store         *auth.SessionStore
		authenticator *auth.Authenticator
		evictor       Evictor
		l             *log.Logger
	}
	Option func(*Manager)
)

func WithEvictor(arg Evictor) Option {
	return func(m *Manager) {
		m.evictor = arg
	}
}

func WithLogger(arg *log.Logger) Option {
	return func(m *Manager) {
		m.l = arg
	}
}

func NewManager(store *auth.SessionStore, authenticator *auth.Authenticator, opts ...Option) *Manager {
	ret := &Manager{
		store:         store,
		authenticator: authenticator,
		l:             log.Default().Named("endpoints.session"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", m.handleLogin)
	mux.HandleFunc("POST /auth/logout", m.handleLogout)
	mux.HandleFunc("POST /auth/reset-password", m.handleResetPassword)
}

func (m *Manager) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := readMessage[wire.LoginRequest](w, r)
	if !ok {
		return
	}
	sess, err := m.authenticator.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountLocked):
			writeMessage(w, http.StatusLocked, &wire.StatusResponse{Status: false})
		default:
			writeMessage(w, http.StatusUnauthorized, &wire.StatusResponse{Status: false})
		}
		return
	}
	token := m.store.Add(sess)
	w.Header().Set(auth.SessionHeader, token)
	m.l.Info("login", log.String("username", sess.Username()))
	writeMessage(w, http.StatusOK, &wire.LoginResponse{
		Status:                true,
		PasswordResetRequired: sess.ResetRequired(),
	})
}

func (m *Manager) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(auth.SessionHeader)
	if sess, err := m.store.Lookup(token); err == nil {
		if m.evictor != nil {
			m.evictor.Unsubscribe(sess.ID())
		}
		m.l.Info("logout", log.String("username", sess.Username()))
	}
	// removing an unknown token is fine, logout is idempotent
	m.store.Remove(token)
	writeMessage(w, http.StatusOK, &wire.StatusResponse{Status: true})
}

func (m *Manager) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	sess, err := m.store.Lookup(r.Header.Get(auth.SessionHeader))
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, &wire.StatusResponse{Status: false})
		return
	}
	req, ok := readMessage[wire.ResetPasswordRequest](w, r)
	if !ok {
		return
	}
	if err := m.authenticator.ResetPassword(r.Context(), sess, req.OldPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeMessage(w, http.StatusBadRequest, &wire.StatusResponse{Status: false})
		default:
			writeMessage(w, http.StatusUnauthorized, &wire.StatusResponse{Status: false})
		}
		return
	}
	m.l.Info("password reset", log.String("username", sess.Username()))
	writeMessage(w, http.StatusOK, &wire.StatusResponse{Status: true})
}

func readMessage[T any](w http.ResponseWriter, r *http.Request) (*T, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	msg, err := wire.DecodeMessage[T](body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	return msg, true
}

func writeMessage[T any](w http.ResponseWriter, status int, msg *T) {
	data, err := wire.EncodeMessage(msg)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	//nolint:errcheck // response write failure is the client's problem
	w.Write(data)
}
