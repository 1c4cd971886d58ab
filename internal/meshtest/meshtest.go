// Package meshtest provides shared fixtures for pkg/coordinator and
// pkg/mesh tests: a deterministic passcode and session name, RSA key
// generation, and free TCP ports. Grounded on the teacher's
// internal/testutil package.
package meshtest

import (
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/meshberry/pkg/cryptoprim"
)

// Passcode is the fixed SRP passcode used across deterministic tests, in
// the same six-decimal-digit shape GeneratePasscode produces.
const Passcode = "123456"

// SessionName is the fixed session identifier used across deterministic
// tests.
const SessionName = "test-session"

// GenerateKey generates an RSA keypair or fails the test immediately.
func GenerateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := cryptoprim.GenerateKeypair()
	require.NoError(t, err)
	return key
}

// FreePort asks the OS for an unused TCP port by binding to :0 and
// immediately releasing it. Racy under heavy parallel test load, same
// tradeoff the teacher's own test helpers accept.
func FreePort(t *testing.T) int {
	t.Helper()
	port, err := freePortOnce()
	require.NoError(t, err)
	return port
}
