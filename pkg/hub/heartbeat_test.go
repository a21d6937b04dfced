package hub

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/wire"
)

func TestMonitor_TickPublishesHeartbeat(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHub(WithClock(clock))
	sub := h.Subscribe(testSession())
	m := NewMonitor(h, WithInterval(10*time.Second))

	m.tick()

	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, wire.KindHeartbeat, got[0].Kind)
}

func TestMonitor_EvictsStaleSessions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHub(WithClock(clock))
	stale := h.Subscribe(testSession())
	fresh := h.Subscribe(testSession())
	m := NewMonitor(h, WithInterval(10*time.Second)) // timeout 30s

	clock.Advance(31 * time.Second)
	h.Touch(fresh.Session().ID())
	m.tick()

	assert.Equal(t, 1, h.Subscribers())
	select {
	case <-stale.Done():
	default:
		t.Fatal("stale subscriber must be evicted")
	}
	select {
	case <-fresh.Done():
		t.Fatal("fresh subscriber must stay")
	default:
	}

	// publishes after eviction only reach the survivor
	drain(fresh)
	drain(stale)
	h.Publish(wire.NewEnvelope(wire.KindRaceStarted), auth.PermNone)
	assert.Len(t, drain(fresh), 1)
	assert.Empty(t, drain(stale))
}

func TestMonitor_RunStopsOnContextCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHub(WithClock(clock))
	m := NewMonitor(h, WithInterval(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
