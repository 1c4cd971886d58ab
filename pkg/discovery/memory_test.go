package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryRegistryPublishThenBrowseSeesExisting(t *testing.T) {
	reg := NewRegistry()
	pub := reg.NewPublisher()
	require.NoError(t, pub.Publish(context.Background(), "host-1", "_meshberry._tcp", 6000, TXTPayload{CoordinatorPort: 7000}))

	browser := reg.NewBrowser()
	events, err := browser.Browse(context.Background(), "_meshberry._tcp")
	require.NoError(t, err)

	select {
	case evt := <-events:
		require.Equal(t, EventResolved, evt.Kind)
		require.Equal(t, "host-1", evt.Resolved.Name)
		require.Equal(t, 7000, evt.Resolved.TXT.CoordinatorPort)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for existing publication")
	}
}

func TestMemoryRegistryBrowseSeesLivePublish(t *testing.T) {
	reg := NewRegistry()
	browser := reg.NewBrowser()
	events, err := browser.Browse(context.Background(), "_meshberry._tcp")
	require.NoError(t, err)

	pub := reg.NewPublisher()
	require.NoError(t, pub.Publish(context.Background(), "host-2", "_meshberry._tcp", 6001, TXTPayload{CoordinatorPort: 7001}))

	select {
	case evt := <-events:
		require.Equal(t, EventResolved, evt.Kind)
		require.Equal(t, "host-2", evt.Resolved.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live publication")
	}

	require.NoError(t, pub.Unpublish())
	select {
	case evt := <-events:
		require.Equal(t, EventRemoved, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for removal")
	}
}
