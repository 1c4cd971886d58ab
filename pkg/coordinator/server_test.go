package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/meshberry/internal/meshtest"
)

func newTestServer(t *testing.T) (*Server, int) {
	t.Helper()
	key := meshtest.GenerateKey(t)
	srv, err := NewServer(ServerConfig{
		SessionName: meshtest.SessionName,
		Passcode:    meshtest.Passcode,
		Key:         key,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Listen(0))
	return srv, srv.Port()
}

func TestCoordinatorPasscodeSuccess(t *testing.T) {
	srv, port := newTestServer(t)
	defer srv.Close()
	srv.SetHostNodePort(5000)

	client := NewClient(ClientConfig{
		Username:    "frulf",
		Passcode:    meshtest.Passcode,
		SessionName: meshtest.SessionName,
		NodePort:    6000,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := client.Start(ctx, "127.0.0.1", port)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, meshtest.SessionName, result.Info.UserName)
	assert.Equal(t, 5000, result.Info.Port)
	assert.Len(t, result.Key, 32)

	members := srv.ExportUsers()
	require.Len(t, members, 1)
	assert.Equal(t, "frulf", members[0].Username)
	assert.Equal(t, 6000, members[0].Port)
	assert.Equal(t, result.Key, members[0].SessionKey)
}

func TestCoordinatorBadPasscodeFails(t *testing.T) {
	srv, port := newTestServer(t)
	defer srv.Close()

	client := NewClient(ClientConfig{
		Username:    "frulf",
		Passcode:    "654321",
		SessionName: meshtest.SessionName,
		NodePort:    6000,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := client.Start(ctx, "127.0.0.1", port)
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Empty(t, srv.ExportUsers())
}

func TestCoordinatorUsernameCollisionFromDifferentIP(t *testing.T) {
	srv, port := newTestServer(t)
	defer srv.Close()
	srv.SetHostNodePort(5000)

	first := NewClient(ClientConfig{Username: "dup", Passcode: meshtest.Passcode, SessionName: meshtest.SessionName, NodePort: 6001})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := first.Start(ctx, "127.0.0.1", port)
	require.NoError(t, err)

	// A loopback test can't present a genuinely different source IP, so
	// the collision rule itself is exercised directly: "dup" is already
	// registered from 127.0.0.1 above, and a different IP reusing it must
	// be classified as a collision, not a retry.
	srv.mu.Lock()
	collision, retry := srv.classifyRound1Locked("dup", "203.0.113.5")
	srv.mu.Unlock()
	assert.True(t, collision)
	assert.False(t, retry)
}

func TestCoordinatorRetryLockout(t *testing.T) {
	srv, port := newTestServer(t)
	defer srv.Close()
	srv.SetHostNodePort(5000)

	for i := 0; i < maxRetriesPerIP; i++ {
		client := NewClient(ClientConfig{Username: "retry-user", Passcode: "000000", SessionName: meshtest.SessionName, NodePort: 6000})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := client.Start(ctx, "127.0.0.1", port)
		cancel()
		assert.Error(t, err)
	}

	// The fourth attempt, even with the correct passcode, is locked out.
	client := NewClient(ClientConfig{Username: "retry-user", Passcode: meshtest.Passcode, SessionName: meshtest.SessionName, NodePort: 6000})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Start(ctx, "127.0.0.1", port)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Too many failed authentication attempts")
}
