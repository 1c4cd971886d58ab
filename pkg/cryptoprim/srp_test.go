package cryptoprim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSRPHandshakeSucceedsWithMatchingPasscode(t *testing.T) {
	const username = "frulf"
	const passcode = "123456"

	salt, err := RandomBytes(16)
	require.NoError(t, err)

	verifier, err := DeriveVerifier(salt, username, passcode)
	require.NoError(t, err)

	client, clientPub, err := NewClientSession(username, passcode)
	require.NoError(t, err)

	server, serverPub, err := NewServerSession(username, verifier)
	require.NoError(t, err)

	clientKey, err := client.ComputeKey(salt, serverPub)
	require.NoError(t, err)

	serverKey, err := server.ComputeKey(clientPub)
	require.NoError(t, err)

	assert.Equal(t, clientKey, serverKey)

	clientProof := client.ClientProof()
	assert.True(t, server.VerifyClientProof(clientProof))

	serverProof := server.ServerProof(clientProof)
	assert.True(t, client.VerifyServerProof(serverProof))
}

func TestSRPHandshakeFailsWithWrongPasscode(t *testing.T) {
	const username = "frulf"

	salt, err := RandomBytes(16)
	require.NoError(t, err)

	verifier, err := DeriveVerifier(salt, username, "123456")
	require.NoError(t, err)

	client, clientPub, err := NewClientSession(username, "654321")
	require.NoError(t, err)

	server, serverPub, err := NewServerSession(username, verifier)
	require.NoError(t, err)

	clientKey, err := client.ComputeKey(salt, serverPub)
	require.NoError(t, err)

	serverKey, err := server.ComputeKey(clientPub)
	require.NoError(t, err)

	assert.NotEqual(t, clientKey, serverKey)
	assert.False(t, server.VerifyClientProof(client.ClientProof()))
}

func TestSessionKeyHexIsSixtyFourHexChars(t *testing.T) {
	key := make([]byte, 32)
	hexKey := SessionKeyHex(key)
	assert.Len(t, hexKey, 64)
}
