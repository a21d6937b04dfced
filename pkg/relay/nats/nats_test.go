package nats

import (
	"context"
	"testing"

	natsio "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpvtiming/racehub/log"
	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/hub"
	"github.com/fpvtiming/racehub/pkg/wire"
)

func testRelay(h *hub.Hub, origin string) *Relay {
	return &Relay{
		hub:    h,
		origin: origin,
		l:      log.Default().Named("relay.test"),
	}
}

func testSession(perms ...auth.Permission) *auth.Session {
	return auth.NewSession(&auth.VerifiedUser{
		Username:    "tester",
		Permissions: auth.NewPermissionSet(perms...),
	})
}

func encodeFrame(t *testing.T, origin string, required auth.Permission,
	env *wire.Envelope,
) []byte {
	t.Helper()
	data, err := wire.Encode(env)
	require.NoError(t, err)
	payload, err := wire.EncodeMessage(&frame{
		Origin:   origin,
		Required: string(required),
		Data:     data,
	})
	require.NoError(t, err)
	return payload
}

func TestRelay_InboundRemoteFrame(t *testing.T) {
	h := hub.NewHub()
	sub := h.Subscribe(testSession(auth.PermEventStream))
	r := testRelay(h, "local-instance")

	env := wire.NewEnvelope(wire.KindRaceStarted)
	r.handleInbound(&natsio.Msg{
		Data: encodeFrame(t, "remote-instance", auth.PermNone, env),
	})

	select {
	case got := <-sub.C():
		assert.Equal(t, wire.KindRaceStarted, got.Kind)
		assert.Equal(t, env.CorrelationID, got.CorrelationID)
	default:
		t.Fatal("remote envelope must reach local subscribers")
	}
}

func TestRelay_DropsSelfOrigin(t *testing.T) {
	h := hub.NewHub()
	sub := h.Subscribe(testSession(auth.PermEventStream))
	r := testRelay(h, "local-instance")

	env := wire.NewEnvelope(wire.KindRaceStarted)
	r.handleInbound(&natsio.Msg{
		Data: encodeFrame(t, "local-instance", auth.PermNone, env),
	})

	select {
	case <-sub.C():
		t.Fatal("self-originated frames must be dropped")
	default:
	}
}

func TestRelay_PreservesRequiredPermission(t *testing.T) {
	h := hub.NewHub()
	privileged := h.Subscribe(testSession(auth.PermSystemControl))
	plain := h.Subscribe(testSession(auth.PermEventStream))
	r := testRelay(h, "local-instance")

	env := wire.NewEnvelope(wire.KindRestart)
	r.handleInbound(&natsio.Msg{
		Data: encodeFrame(t, "remote-instance", auth.PermSystemControl, env),
	})

	select {
	case <-privileged.C():
	default:
		t.Fatal("privileged subscriber must receive the envelope")
	}
	select {
	case <-plain.C():
		t.Fatal("permission gate must survive the relay hop")
	default:
	}
}

type grantingAuthorizer struct {
	perms auth.PermissionSet
}

func (g *grantingAuthorizer) PermissionsFor(
	_ context.Context, _ string,
) (auth.PermissionSet, error) {
	return g.perms.Clone(), nil
}

func TestRelay_PermissionsUpdateRefreshesSessions(t *testing.T) {
	authorizer := &grantingAuthorizer{
		perms: auth.NewPermissionSet(auth.PermEventStream, auth.PermRaceControl),
	}
	h := hub.NewHub(hub.WithAuthorizer(authorizer))
	sess := testSession(auth.PermEventStream)
	sub := h.Subscribe(sess)
	r := testRelay(h, "local-instance")

	r.handleInbound(&natsio.Msg{
		Data: encodeFrame(t, "remote-instance", auth.PermNone,
			wire.NewEnvelope(wire.KindPermissionsUpdate)),
	})

	// the server-side session is updated, not just the client notified
	assert.True(t, sess.Satisfies(auth.PermRaceControl))
	select {
	case got := <-sub.C():
		assert.Equal(t, wire.KindPermissionsUpdate, got.Kind)
	default:
		t.Fatal("permissions update must reach local subscribers")
	}
}

func TestRelay_ForwardSkipsHeartbeats(t *testing.T) {
	r := testRelay(hub.NewHub(), "local-instance")

	// no connection is wired up: a heartbeat must return before any
	// publish attempt, liveness is a per instance concern
	r.forward(wire.NewEnvelope(wire.KindHeartbeat), auth.PermNone)
}

func TestRelay_DropsMalformedFrames(t *testing.T) {
	h := hub.NewHub()
	sub := h.Subscribe(testSession(auth.PermEventStream))
	r := testRelay(h, "local-instance")

	r.handleInbound(&natsio.Msg{Data: []byte{0xde, 0xad, 0xbe, 0xef}})

	select {
	case <-sub.C():
		t.Fatal("malformed frames must be dropped")
	default:
	}
}
