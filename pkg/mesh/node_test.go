package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/meshberry/internal/eventbus"
	"github.com/blockberries/meshberry/internal/meshtest"
)

func waitForEvent(t *testing.T, events <-chan eventbus.Event, kind string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case raw := <-events:
			if evt, ok := raw.(Event); ok && evt.Kind() == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", kind)
		}
	}
}

func TestMeshTwoNodeHelloAndMessage(t *testing.T) {
	hostPort := meshtest.FreePort(t)
	clientPort := meshtest.FreePort(t)
	hostKey := meshtest.GenerateKey(t)
	clientKey := meshtest.GenerateKey(t)

	sessionKey := []byte("01234567890123456789012345678901") // 32 bytes, an AES-256 key
	sessionKey = sessionKey[:32]

	host := NewHostNode(Config{Username: "host", SessionName: meshtest.SessionName, Key: hostKey})
	require.NoError(t, host.Listen(hostPort))

	client := NewClientNode(Config{Username: "client", SessionName: meshtest.SessionName, Key: clientKey}, sessionKey,
		HelloNodeEntry{Username: "client", IP: "127.0.0.1", Port: clientPort, SendKey: hexKey(sessionKey), ReceiveKey: hexKey(sessionKey)})
	require.NoError(t, client.Listen(clientPort))

	// The client already knows the host's (ip, port) from its coordinator
	// handshake result before any mesh traffic exists, so it registers the
	// host as a neighbor first — matching real bootstrap ordering.
	client.AddHostAsNeighbor("host", "127.0.0.1", hostPort)
	require.NoError(t, host.Start([]HostRosterEntry{
		{Username: "client", IP: "127.0.0.1", ServerPort: clientPort, SessionKey: sessionKey},
	}))

	waitForEvent(t, host.Events(), "session-started", 3*time.Second)
	waitForEvent(t, client.Events(), "session-started", 3*time.Second)

	require.NoError(t, host.SendMessage("client", "hi"))
	evt := waitForEvent(t, client.Events(), "message", 3*time.Second)
	msg := evt.(MessageReceived)
	require.Equal(t, "host", msg.From)
	require.Equal(t, "hi", msg.Text)

	_ = host.Destroy()
	_ = client.Destroy()
}
