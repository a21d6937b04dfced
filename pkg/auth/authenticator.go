package auth

import (
	"context"
	"time"

	"github.com/fpvtiming/racehub/log"
)

type (
	// CredentialVerifier is the external authentication boundary.
	// Implementations are expected to return ErrAuthFailed,
	// ErrAccountLocked or ErrWeakPassword (wrapped or plain) for the
	// respective conditions.
	CredentialVerifier interface {
		VerifyCredentials(ctx context.Context, username, password string) (
			*VerifiedUser, error)
		ChangePassword(ctx context.Context, username, old, new string) error
	}

	// Authorizer resolves the current permission set of a user. Used
	// when a permissions-update is distributed.
	Authorizer interface {
		PermissionsFor(ctx context.Context, username string) (PermissionSet, error)
	}

	// Authenticator drives login and password reset against the
	// external credential boundary and issues sessions.
	Authenticator struct {
		verifier CredentialVerifier
		timeout  time.Duration
		l        *log.Logger
	}
	Option func(*Authenticator)
)

func WithVerifyTimeout(arg time.Duration) Option {
	return func(a *Authenticator) {
		a.timeout = arg
	}
}

func WithLogger(arg *log.Logger) Option {
	return func(a *Authenticator) {
		a.l = arg
	}
}

func NewAuthenticator(verifier CredentialVerifier, opts ...Option) *Authenticator {
	ret := &Authenticator{
		verifier: verifier,
		timeout:  5 * time.Second,
		l:        log.Default().Named("auth"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Login verifies the credentials and creates a session carrying the
// resolved permission set. The credential check is bounded by the
// configured timeout.
func (a *Authenticator) Login(ctx context.Context, username, password string) (
	*Session, error,
) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	user, err := a.verifier.VerifyCredentials(ctx, username, password)
	if err != nil {
		a.l.Debug("login rejected",
			log.String("username", username), log.ErrorField(err))
		return nil, err
	}
	sess := NewSession(user)
	a.l.Info("session established",
		log.String("username", username),
		log.String("session", sess.ID().String()))
	return sess, nil
}

// ResetPassword changes the password of the session user. Other
// sessions of the same user stay valid.
func (a *Authenticator) ResetPassword(
	ctx context.Context, sess *Session, oldPassword, newPassword string,
) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.verifier.ChangePassword(
		ctx, sess.Username(), oldPassword, newPassword); err != nil {
		return err
	}
	sess.SetResetRequired(false)
	a.l.Info("password changed", log.String("username", sess.Username()))
	return nil
}
