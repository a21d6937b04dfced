package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/hub"
	"github.com/fpvtiming/racehub/pkg/race"
	"github.com/fpvtiming/racehub/pkg/wire"
)

type wsFixture struct {
	store *auth.SessionStore
	hub   *hub.Hub
	srv   *httptest.Server
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	store := auth.NewSessionStore()
	distHub := hub.NewHub()
	bcst := &collectingBroadcaster{}
	router := DefaultRouter(distHub, race.NewControl(bcst), &stubLifecycle{})

	mux := http.NewServeMux()
	mux.Handle("GET /ws/events", NewServer(store, distHub, router))
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		distHub.Close()
	})
	return &wsFixture{store: store, hub: distHub, srv: srv}
}

func (f *wsFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/events"
}

func (f *wsFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set(auth.SessionHeader, token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *wire.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	env, err := wire.Decode(data)
	require.NoError(t, err)
	return env
}

func TestWS_RejectsMissingSession(t *testing.T) {
	f := newWSFixture(t)

	//nolint:bodyclose // no response body on failed handshake
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWS_RejectsSessionWithoutEventStream(t *testing.T) {
	f := newWSFixture(t)
	sess := auth.NewSession(&auth.VerifiedUser{
		Username:    "tester",
		Permissions: auth.NewPermissionSet(auth.PermAuthenticated),
	})
	token := f.store.Add(sess)

	header := http.Header{}
	header.Set(auth.SessionHeader, token)
	//nolint:bodyclose // no response body on failed handshake
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWS_TokenViaQueryParam(t *testing.T) {
	f := newWSFixture(t)
	token := f.store.Add(session(auth.PermEventStream))

	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL()+"?session="+token, nil)
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()
}

func TestWS_DeliversBroadcasts(t *testing.T) {
	f := newWSFixture(t)
	token := f.store.Add(session(auth.PermEventStream))
	conn := f.dial(t, token)

	// the subscriber is registered during the upgrade
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	published := wire.NewEnvelope(wire.KindRaceStarted)
	f.hub.Publish(published, auth.PermNone)

	got := readEnvelope(t, conn)
	assert.Equal(t, wire.KindRaceStarted, got.Kind)
	assert.Equal(t, published.CorrelationID, got.CorrelationID)
}

func TestWS_HeartbeatEcho(t *testing.T) {
	f := newWSFixture(t)
	token := f.store.Add(session(auth.PermEventStream))
	conn := f.dial(t, token)

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	ping := wire.NewEnvelope(wire.KindHeartbeat)
	data, err := wire.Encode(ping)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))

	echo := readEnvelope(t, conn)
	assert.Equal(t, wire.KindHeartbeat, echo.Kind)
	assert.Equal(t, ping.CorrelationID, echo.CorrelationID)
}

func TestWS_MalformedFrameKeepsConnection(t *testing.T) {
	f := newWSFixture(t)
	token := f.store.Add(session(auth.PermEventStream))
	conn := f.dial(t, token)

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t,
		conn.WriteMessage(websocket.BinaryMessage, []byte{0xde, 0xad}))

	// the connection survives and keeps receiving broadcasts
	f.hub.Publish(wire.NewEnvelope(wire.KindRaceStaged), auth.PermNone)
	got := readEnvelope(t, conn)
	assert.Equal(t, wire.KindRaceStaged, got.Kind)
}

func TestWS_DisconnectUnsubscribes(t *testing.T) {
	f := newWSFixture(t)
	token := f.store.Add(session(auth.PermEventStream))
	conn := f.dial(t, token)

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 0 },
		2*time.Second, 10*time.Millisecond)
}
