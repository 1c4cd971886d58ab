package cryptoprim

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyConfirmationSize is the length of the confirmation tag derived by
// ConfirmKey.
const KeyConfirmationSize = 8

// ConfirmKey derives a short, non-secret fingerprint of an SRP session key
// via HKDF-SHA256, so two sides (or a diagnostics dump) can confirm they
// derived the same key without ever comparing or logging the key itself.
func ConfirmKey(sessionKey []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, sessionKey, nil, []byte("meshberry key-confirmation"))
	tag := make([]byte, KeyConfirmationSize)
	if _, err := io.ReadFull(reader, tag); err != nil {
		return nil, fmt.Errorf("cryptoprim: key confirmation: %w", err)
	}
	return tag, nil
}
