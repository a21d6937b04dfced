package hub

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/wire"
)

func testSession(perms ...auth.Permission) *auth.Session {
	return auth.NewSession(&auth.VerifiedUser{
		Username:    "tester",
		Permissions: auth.NewPermissionSet(perms...),
	})
}

// drain collects everything currently queued for the subscriber.
func drain(sub *Subscriber) []*wire.Envelope {
	var ret []*wire.Envelope
	for {
		select {
		case env := <-sub.C():
			ret = append(ret, env)
		default:
			return ret
		}
	}
}

func kindsOf(envs []*wire.Envelope) []wire.Kind {
	ret := make([]wire.Kind, 0, len(envs))
	for _, env := range envs {
		ret = append(ret, env.Kind)
	}
	return ret
}

func TestHub_SubscribeIdempotent(t *testing.T) {
	h := NewHub()
	sess := testSession(auth.PermEventStream)

	first := h.Subscribe(sess)
	second := h.Subscribe(sess)
	assert.Same(t, first, second)
	assert.Equal(t, 1, h.Subscribers())
}

func TestHub_UnsubscribeIdempotent(t *testing.T) {
	h := NewHub()
	sess := testSession(auth.PermEventStream)
	sub := h.Subscribe(sess)

	h.Unsubscribe(sess.ID())
	h.Unsubscribe(sess.ID())
	h.Unsubscribe(uuid.New())
	assert.Equal(t, 0, h.Subscribers())

	select {
	case <-sub.Done():
	default:
		t.Fatal("done channel must be closed after unsubscribe")
	}
}

func TestHub_FIFOPerSubscriber(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(testSession(auth.PermEventStream))

	published := []wire.Kind{
		wire.KindRaceScheduled,
		wire.KindRaceStaged,
		wire.KindRaceStarted,
		wire.KindRaceFinished,
	}
	for _, kind := range published {
		h.Publish(wire.NewEnvelope(kind), auth.PermNone)
	}
	assert.Equal(t, published, kindsOf(drain(sub)))
}

func TestHub_PermissionFiltering(t *testing.T) {
	tests := []struct {
		name     string
		perms    []auth.Permission
		required auth.Permission
		want     int
	}{
		{"unrestricted reaches everyone", nil, auth.PermNone, 1},
		{"matching permission", []auth.Permission{auth.PermSystemControl}, auth.PermSystemControl, 1},
		{"missing permission", []auth.Permission{auth.PermEventStream}, auth.PermSystemControl, 0},
		{"empty set unrestricted only", nil, auth.PermReadPilots, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub()
			sub := h.Subscribe(testSession(tt.perms...))

			h.Publish(wire.NewEnvelope(wire.KindStartup), tt.required)
			assert.Len(t, drain(sub), tt.want)
		})
	}
}

func TestHub_PermissionIsolation(t *testing.T) {
	h := NewHub()
	privileged := h.Subscribe(testSession(auth.PermEventStream, auth.PermSystemControl))
	plain := h.Subscribe(testSession(auth.PermEventStream))

	h.Publish(wire.NewEnvelope(wire.KindRestart), auth.PermSystemControl)
	h.Publish(wire.NewEnvelope(wire.KindStartup), auth.PermNone)

	assert.Equal(t,
		[]wire.Kind{wire.KindRestart, wire.KindStartup}, kindsOf(drain(privileged)))
	assert.Equal(t,
		[]wire.Kind{wire.KindStartup}, kindsOf(drain(plain)))
}

func TestHub_DedupSuppression(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(testSession())

	env := wire.NewEnvelope(wire.KindRaceStarted)
	h.Publish(env, auth.PermNone)
	h.Publish(env, auth.PermNone)
	other := wire.NewEnvelope(wire.KindRaceStarted)
	h.Publish(other, auth.PermNone)

	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, env.CorrelationID, got[0].CorrelationID)
	assert.Equal(t, other.CorrelationID, got[1].CorrelationID)
}

func TestHub_DedupIsPerSubscriber(t *testing.T) {
	h := NewHub()
	first := h.Subscribe(testSession())
	env := wire.NewEnvelope(wire.KindRaceStarted)
	h.Publish(env, auth.PermNone)

	// a later subscriber has its own window and still gets the envelope
	second := h.Subscribe(testSession())
	h.Publish(env, auth.PermNone)

	assert.Len(t, drain(first), 1)
	assert.Len(t, drain(second), 1)
}

func TestHub_SaturatedSubscriberEvicted(t *testing.T) {
	h := NewHub(WithQueueSize(2))
	slow := h.Subscribe(testSession())
	healthy := h.Subscribe(testSession())

	received := 0
	for range 5 {
		h.Publish(wire.NewEnvelope(wire.KindRaceStarted), auth.PermNone)
		received += len(drain(healthy))
	}

	assert.Equal(t, 1, h.Subscribers())
	select {
	case <-slow.Done():
	default:
		t.Fatal("saturated subscriber must be evicted")
	}
	// fan-out to the healthy subscriber kept working throughout
	assert.Equal(t, 5, received)
}

func TestHub_ForwardTap(t *testing.T) {
	h := NewHub()
	var forwarded []*wire.Envelope
	h.SetForward(func(env *wire.Envelope, _ auth.Permission) {
		forwarded = append(forwarded, env)
	})

	h.Publish(wire.NewEnvelope(wire.KindRaceStarted), auth.PermNone)
	h.PublishLocal(wire.NewEnvelope(wire.KindRaceStopped), auth.PermNone)

	require.Len(t, forwarded, 1)
	assert.Equal(t, wire.KindRaceStarted, forwarded[0].Kind)
}

func TestHub_RefreshPermissions(t *testing.T) {
	authorizer := &stubAuthorizer{
		perms: auth.NewPermissionSet(auth.PermEventStream, auth.PermRaceControl),
	}
	h := NewHub(WithAuthorizer(authorizer))
	sess := testSession(auth.PermEventStream)
	sub := h.Subscribe(sess)

	h.RefreshPermissions()

	assert.True(t, sess.Satisfies(auth.PermRaceControl))
	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, wire.KindPermissionsUpdate, got[0].Kind)
}

func TestHub_PermissionsUpdateRefreshesOnLocalPublish(t *testing.T) {
	authorizer := &stubAuthorizer{
		perms: auth.NewPermissionSet(auth.PermEventStream, auth.PermSystemControl),
	}
	h := NewHub(WithAuthorizer(authorizer))
	sess := testSession(auth.PermEventStream)
	sub := h.Subscribe(sess)

	// PublishLocal is the relay's delivery path: a permissions update
	// from a remote instance must update the server-side session, not
	// just notify the client
	h.PublishLocal(wire.NewEnvelope(wire.KindPermissionsUpdate), auth.PermNone)

	assert.True(t, sess.Satisfies(auth.PermSystemControl))
	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, wire.KindPermissionsUpdate, got[0].Kind)
}

type stubAuthorizer struct {
	perms auth.PermissionSet
}

func (s *stubAuthorizer) PermissionsFor(
	_ context.Context, _ string,
) (auth.PermissionSet, error) {
	return s.perms.Clone(), nil
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(testSession())

	h.Close()
	assert.Equal(t, 0, h.Subscribers())
	select {
	case <-sub.Done():
	default:
		t.Fatal("done channel must be closed")
	}
}

func TestDedupWindow_TTLExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := newDedupWindow(clock, 16, time.Minute)
	id := uuid.New()

	assert.False(t, w.observe(id))
	assert.True(t, w.observe(id))

	clock.Advance(61 * time.Second)
	assert.False(t, w.observe(id), "expired id counts as new")
}

func TestDedupWindow_CapacityBound(t *testing.T) {
	clock := clockwork.NewFakeClock()
	w := newDedupWindow(clock, 3, time.Hour)

	first := uuid.New()
	assert.False(t, w.observe(first))
	for range 3 {
		w.observe(uuid.New())
	}
	assert.False(t, w.observe(first), "pushed out of the window")
}
