package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTXTRoundTrip(t *testing.T) {
	txt := encodeTXT(TXTPayload{CoordinatorPort: 54321})
	payload, err := decodeTXT(txt)
	require.NoError(t, err)
	require.Equal(t, 54321, payload.CoordinatorPort)
}

func TestFirstUsableIPv4SkipsLoopback(t *testing.T) {
	require.Equal(t, "", firstUsableIPv4([]net.IP{net.ParseIP("127.0.0.1")}))
	require.Equal(t, "192.168.1.5", firstUsableIPv4([]net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("192.168.1.5")}))
}
