// Package mesh implements MeshNode/HostNode/ClientNode (spec.md §4.3) and
// the reconnection controller (spec.md §4.4): the TLS mesh formed once
// every member has authenticated through pkg/coordinator.
package mesh

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/blockberries/meshberry/pkg/cryptoprim"
)

// Envelope message types, spec.md §6.3. Field names are exact.
const (
	TypeHello     = "hello"
	TypeAckHello  = "ack-hello"
	TypeMessage   = "message"
	TypeBroadcast = "broadcast"
)

// Envelope is the exact JSON wire shape of every node-to-node message.
type Envelope struct {
	Type             string `json:"type"`
	EncryptedMessage string `json:"encryptedMessage"`
	IV               string `json:"iv"`
	From             string `json:"from"`
}

// HelloPayload is the decrypted "hello" payload the host sends, spec.md
// §6.3.
type HelloPayload struct {
	Nodes []HelloNodeEntry `json:"nodes"`
}

type HelloNodeEntry struct {
	Username   string `json:"username"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	SendKey    string `json:"sendKey"`
	ReceiveKey string `json:"receiveKey"`
}

// encryptText builds one Envelope: the plaintext is base64-encoded, then
// AES-CBC encrypted under key, then the ciphertext is base64-encoded again
// for the wire field — the same "base64 within base64" shape
// pkg/coordinator's round-2 payload uses, spec.md §4.3's exact phrase:
// "encryptedMessage is AES-CBC(sendKey..., iv, base64(message-bytes))".
func encryptText(envType string, key []byte, from string, plaintext []byte) (Envelope, error) {
	iv, err := cryptoprim.RandomIV()
	if err != nil {
		return Envelope{}, fmt.Errorf("mesh: iv: %w", err)
	}
	inner := []byte(base64.StdEncoding.EncodeToString(plaintext))
	ciphertext, err := cryptoprim.Encrypt(key, iv, inner)
	if err != nil {
		return Envelope{}, fmt.Errorf("mesh: encrypt: %w", err)
	}
	return Envelope{
		Type:             envType,
		EncryptedMessage: base64.StdEncoding.EncodeToString(ciphertext),
		IV:               base64.StdEncoding.EncodeToString(iv),
		From:             from,
	}, nil
}

// decryptText reverses encryptText.
func decryptText(env Envelope, key []byte) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("mesh: iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.EncryptedMessage)
	if err != nil {
		return nil, fmt.Errorf("mesh: ciphertext: %w", err)
	}
	inner, err := cryptoprim.Decrypt(key, iv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("mesh: decrypt: %w", err)
	}
	plaintext, err := base64.StdEncoding.DecodeString(string(inner))
	if err != nil {
		return nil, fmt.Errorf("mesh: inner base64: %w", err)
	}
	return plaintext, nil
}

func encodeHelloPayload(payload HelloPayload) ([]byte, error) {
	return json.Marshal(payload)
}

func decodeHelloPayload(raw []byte) (HelloPayload, error) {
	var p HelloPayload
	err := json.Unmarshal(raw, &p)
	return p, err
}

func hexKey(b []byte) string              { return hex.EncodeToString(b) }
func keyFromHex(s string) ([]byte, error) { return hex.DecodeString(s) }
