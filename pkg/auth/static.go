package auth

import (
	"context"
	"crypto/subtle"
	"sync"
)

const (
	minPasswordLen   = 8
	maxLoginAttempts = 5
)

type (
	staticAccount struct {
		password      string
		perms         PermissionSet
		resetRequired bool
		failures      int
	}

	// StaticVerifier keeps accounts in memory, configured at startup.
	// It implements both CredentialVerifier and Authorizer. An account
	// locks after repeated failed logins and stays locked until the
	// server restarts.
	StaticVerifier struct {
		mu       sync.Mutex
		accounts map[string]*staticAccount
	}
)

func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{accounts: make(map[string]*staticAccount)}
}

// AddAccount registers an account. resetRequired marks the password as
// provisional, the client is told to change it on first login.
func (v *StaticVerifier) AddAccount(
	username, password string, resetRequired bool, perms ...Permission,
) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accounts[username] = &staticAccount{
		password:      password,
		perms:         NewPermissionSet(perms...),
		resetRequired: resetRequired,
	}
}

func (v *StaticVerifier) VerifyCredentials(
	_ context.Context, username, password string,
) (*VerifiedUser, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct, ok := v.accounts[username]
	if !ok {
		return nil, ErrAuthFailed
	}
	if acct.failures >= maxLoginAttempts {
		return nil, ErrAccountLocked
	}
	if subtle.ConstantTimeCompare([]byte(acct.password), []byte(password)) != 1 {
		acct.failures++
		if acct.failures >= maxLoginAttempts {
			return nil, ErrAccountLocked
		}
		return nil, ErrAuthFailed
	}
	acct.failures = 0
	return &VerifiedUser{
		Username:      username,
		Permissions:   acct.perms.Clone(),
		ResetRequired: acct.resetRequired,
	}, nil
}

func (v *StaticVerifier) ChangePassword(
	_ context.Context, username, oldPassword, newPassword string,
) error {
	if len(newPassword) < minPasswordLen {
		return ErrWeakPassword
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	acct, ok := v.accounts[username]
	if !ok {
		return ErrAuthFailed
	}
	if subtle.ConstantTimeCompare([]byte(acct.password), []byte(oldPassword)) != 1 {
		return ErrAuthFailed
	}
	acct.password = newPassword
	acct.resetRequired = false
	return nil
}

func (v *StaticVerifier) PermissionsFor(
	_ context.Context, username string,
) (PermissionSet, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if acct, ok := v.accounts[username]; ok {
		return acct.perms.Clone(), nil
	}
	return nil, ErrAuthFailed
}
