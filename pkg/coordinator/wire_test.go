package coordinator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientHandshake1WireShape(t *testing.T) {
	msg := ClientHandshake1{
		Type: TypeHandshake1,
		Payload: ClientHandshake1Payload{
			Username:              "frulf",
			Salt:                  "ab12",
			ClientEphemeralPublic: "cd34",
		},
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "srp-handshake_1", decoded["type"])
	payload := decoded["payload"].(map[string]any)
	assert.Equal(t, "frulf", payload["username"])
	assert.Equal(t, "ab12", payload["salt"])
	assert.Equal(t, "cd34", payload["clientEphemeralPublic"])
}

func TestServerHandshake2ErrorHasNullPayload(t *testing.T) {
	msg := ServerHandshake2{Type: TypeHandshake2, Status: StatusError, Error: errString("nope")}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "error", decoded["status"])
	assert.Nil(t, decoded["payload"])
	assert.Equal(t, "nope", decoded["error"])
}
