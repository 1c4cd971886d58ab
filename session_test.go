package meshberry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/meshberry/internal/meshtest"
	"github.com/blockberries/meshberry/pkg/discovery"
)

func waitForKind(t *testing.T, events <-chan ConnectionEvent, kind string, timeout time.Duration) ConnectionEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-events:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", kind)
		}
	}
}

func TestSessionHostAndClientBootstrapAndMessage(t *testing.T) {
	registry := discovery.NewRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostCfg := NewSessionConfig("alice", meshtest.SessionName, meshtest.Passcode,
		WithCoordinatorPort(meshtest.FreePort(t)),
		WithNodePort(meshtest.FreePort(t)))
	host, err := newHost(ctx, hostCfg, registry.NewPublisher())
	require.NoError(t, err)
	defer host.Close()

	clientCfg := NewSessionConfig("bob", meshtest.SessionName, meshtest.Passcode,
		WithNodePort(meshtest.FreePort(t)))
	client, err := newClientWithBrowser(ctx, clientCfg, registry.NewBrowser())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, host.StartMesh())

	waitForKind(t, host.Events(), "session-started", 5*time.Second)
	waitForKind(t, client.Events(), "session-started", 5*time.Second)

	require.NoError(t, host.SendMessage("bob", "hi"))
	evt := waitForKind(t, client.Events(), "message", 5*time.Second)
	require.Equal(t, "alice", evt.Username)
	require.Equal(t, "hi", evt.Text)

	require.True(t, host.IsHost())
	require.False(t, client.IsHost())

	health := host.Health()
	require.Len(t, health.Neighbors, 1)
	require.True(t, health.Neighbors[0].FullyHealthy)
	require.NotEmpty(t, health.Neighbors[0].KeyConfirmation)

	require.Equal(t, int64(1), host.Stats().MessagesSent())
	require.Equal(t, int64(1), client.Stats().MessagesReceived())
}

func TestSessionConfigValidateRejectsEmptyFields(t *testing.T) {
	cfg := &SessionConfig{}
	err := cfg.Validate()
	require.Error(t, err)

	var merr *Error
	require.ErrorAs(t, err, &merr)
	require.Equal(t, ErrCodeInvalidConfig, merr.Code)
}
