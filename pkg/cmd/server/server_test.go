package server

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_RepeatedRequestsDoNotBlock(t *testing.T) {
	lc := &lifecycle{sigChan: make(chan os.Signal, 1)}

	lc.RequestShutdown()
	// a second command while the first signal is still pending must
	// return instead of parking the caller
	lc.RequestRestart()
	lc.RequestShutdown()

	assert.Equal(t, syscall.SIGTERM, <-lc.sigChan)
	select {
	case <-lc.sigChan:
		t.Fatal("only one signal may be pending")
	default:
	}
}

func TestServerCmd_SessionTimeoutOutlivesClientPongs(t *testing.T) {
	cmd := NewServerCmd()

	timeout, err := time.ParseDuration(
		cmd.Flags().Lookup("session-timeout").DefValue)
	require.NoError(t, err)

	// a listen-only client's first pong arrives one ping interval
	// (30s) after connect, the eviction cutoff must land well after
	assert.Greater(t, timeout, 60*time.Second)
}
