package auth

import (
	"errors"

	"github.com/samber/lo"
)

// Permission is a capability tag bound to a session. Broadcast
// eligibility and inbound command routing are filtered by these tags.
type Permission string

const (
	// PermNone marks a broadcast as unrestricted.
	PermNone Permission = ""

	PermAuthenticated Permission = "authenticated"
	PermEventStream   Permission = "event_stream"
	PermSystemControl Permission = "system_control"
	PermRaceControl   Permission = "race_control"
	PermReadPilots    Permission = "read_pilots"
	PermWritePilots   Permission = "write_pilots"
)

var (
	ErrAuthFailed    = errors.New("authentication failed")
	ErrAccountLocked = errors.New("account locked")
	ErrWeakPassword  = errors.New("password rejected by policy")
	ErrNoSession     = errors.New("no valid session")
)

// PermissionSet is the set of capability tags of a session.
type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	return lo.SliceToMap(perms,
		func(p Permission) (Permission, struct{}) { return p, struct{}{} })
}

// Satisfies reports whether the set covers the required permission.
// An empty requirement is satisfied by every set.
func (ps PermissionSet) Satisfies(required Permission) bool {
	if required == PermNone {
		return true
	}
	_, ok := ps[required]
	return ok
}

func (ps PermissionSet) Clone() PermissionSet {
	return lo.Assign(PermissionSet{}, ps)
}

func (ps PermissionSet) Values() []Permission {
	return lo.Keys(ps)
}

// VerifiedUser is the result of a successful credential check at the
// external authentication boundary.
type VerifiedUser struct {
	Username      string
	Permissions   PermissionSet
	ResetRequired bool
}
