package tlschannel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/meshberry/pkg/cryptoprim"
)

func newTestChannelPair(t *testing.T, sessionName string) (*Channel, *Channel, *clock.Mock) {
	t.Helper()

	listenerKey, err := cryptoprim.GenerateKeypair()
	require.NoError(t, err)
	dialerKey, err := cryptoprim.GenerateKeypair()
	require.NoError(t, err)

	mockClock := clock.NewMock()

	listenerCh := New(Config{SessionName: sessionName, Key: listenerKey, Clock: mockClock})
	dialerCh := New(Config{SessionName: sessionName, Key: dialerKey, Clock: mockClock})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, acceptErr := ln.Accept()
		require.NoError(t, acceptErr)
		accepted <- conn
	}()

	connectErrCh := make(chan error, 1)
	go func() {
		connectErrCh <- dialerCh.Connect(context.Background(), "127.0.0.1", port, sessionName)
	}()

	rawConn := <-accepted
	require.NoError(t, listenerCh.Listen(context.Background(), rawConn))
	require.NoError(t, <-connectErrCh)
	require.NoError(t, ln.Close())

	return listenerCh, dialerCh, mockClock
}

func TestChannelHandshakeAndDataDelivery(t *testing.T) {
	listenerCh, dialerCh, _ := newTestChannelPair(t, "test-session")
	defer listenerCh.Destroy()
	defer dialerCh.Destroy()

	require.NoError(t, dialerCh.Send([]byte("hello")))

	select {
	case evt := <-listenerCh.Events():
		_, ok := evt.(TLSConnected)
		require.True(t, ok, "expected TLSConnected event first, got %T", evt)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tls-connected event")
	}

	select {
	case evt := <-listenerCh.Events():
		data, ok := evt.(Data)
		require.True(t, ok, "expected Data event, got %T", evt)
		require.Equal(t, "hello", string(data.Bytes))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data event")
	}
}

func TestChannelConnectRejectsWrongSessionName(t *testing.T) {
	listenerKey, err := cryptoprim.GenerateKeypair()
	require.NoError(t, err)
	dialerKey, err := cryptoprim.GenerateKeypair()
	require.NoError(t, err)

	listenerCh := New(Config{SessionName: "real-session", Key: listenerKey})
	dialerCh := New(Config{SessionName: "real-session", Key: dialerKey})
	defer listenerCh.Destroy()
	defer dialerCh.Destroy()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr == nil {
			accepted <- conn
		}
	}()

	err = dialerCh.Connect(context.Background(), "127.0.0.1", port, "wrong-session")
	require.Error(t, err)

	select {
	case conn := <-accepted:
		_ = listenerCh.Listen(context.Background(), conn)
	case <-time.After(time.Second):
	}
	require.NoError(t, ln.Close())
}

func TestChannelDestroyIsIdempotent(t *testing.T) {
	listenerCh, dialerCh, _ := newTestChannelPair(t, "test-session")
	require.NoError(t, dialerCh.Destroy())
	require.NoError(t, dialerCh.Destroy())
	require.NoError(t, listenerCh.Destroy())
}

func TestChannelRebuildAllowsReconnect(t *testing.T) {
	listenerCh, dialerCh, _ := newTestChannelPair(t, "test-session")
	defer listenerCh.Destroy()

	dialerCh.Rebuild()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	defer ln.Close()

	newListenerKey, err := cryptoprim.GenerateKeypair()
	require.NoError(t, err)
	newListenerCh := New(Config{SessionName: "test-session", Key: newListenerKey})
	defer newListenerCh.Destroy()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, acceptErr := ln.Accept()
		require.NoError(t, acceptErr)
		accepted <- conn
	}()

	connectErrCh := make(chan error, 1)
	go func() {
		connectErrCh <- dialerCh.Connect(context.Background(), "127.0.0.1", port, "test-session")
	}()

	rawConn := <-accepted
	require.NoError(t, newListenerCh.Listen(context.Background(), rawConn))
	require.NoError(t, <-connectErrCh)
}

func TestHeartbeatLivenessEventAfterPeerDestroyed(t *testing.T) {
	listenerCh, dialerCh, mockClock := newTestChannelPair(t, "test-session")
	defer listenerCh.Destroy()
	defer dialerCh.Destroy()

	// Drain the handshake-adjacent events before driving the heartbeat
	// clock so assertions below only see heartbeat-driven events.
	drain := func(ch *Channel) {
		for {
			select {
			case <-ch.Events():
			default:
				return
			}
		}
	}
	drain(listenerCh)
	drain(dialerCh)

	// Advance past one retransmit interval so the dialer sends a
	// challenge, then past a second interval without the listener
	// answering (its heartbeat machine answers automatically in readLoop,
	// so to observe a real disconnect we instead destroy the listener's
	// socket out from under it first).
	require.NoError(t, listenerCh.Destroy())

	mockClock.Add(heartbeatInterval)
	mockClock.Add(heartbeatInterval)

	select {
	case evt := <-dialerCh.Events():
		switch evt.(type) {
		case Disconnected, TLSClosed, SocketClosed, TLSError:
		default:
			t.Fatalf("unexpected event type %T", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for liveness event")
	}
}
