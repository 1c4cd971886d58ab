package cryptoprim

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// IVSize is the size in bytes of an AES-CBC initialization vector.
const IVSize = 16

// PasscodeSeedSize is the number of random bytes used to derive the
// 6-decimal-digit session passcode (spec.md §3).
const PasscodeSeedSize = 3

// CertSerialSize is the size in bytes of a certificate serial number
// (spec.md §6.4).
const CertSerialSize = 20

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("cryptoprim: random bytes: %w", err)
	}
	return b, nil
}

// RandomIV returns a fresh 16-byte IV suitable for one AES-CBC message.
func RandomIV() ([]byte, error) {
	return RandomBytes(IVSize)
}

// GeneratePasscode derives a 6-decimal-digit passcode from 3 random bytes,
// zero-padded, per spec.md §3.
func GeneratePasscode() (string, error) {
	seed, err := RandomBytes(PasscodeSeedSize)
	if err != nil {
		return "", err
	}
	n := (uint32(seed[0])<<16 | uint32(seed[1])<<8 | uint32(seed[2])) % 1000000
	return fmt.Sprintf("%06d", n), nil
}

// RandomCertSerial returns a 20-byte certificate serial: a UUID-derived
// collision-resistant prefix composed with crypto-random suffix bytes, as
// wired in SPEC_FULL.md §2.
func RandomCertSerial() ([]byte, error) {
	id := uuid.New()
	idBytes, err := id.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: cert serial uuid: %w", err)
	}
	suffix, err := RandomBytes(CertSerialSize - len(idBytes))
	if err != nil {
		return nil, err
	}
	return append(idBytes, suffix...), nil
}

// RandomIdentifier returns a short mnemonic-free random identifier string:
// the first eight characters of a random UUID.
func RandomIdentifier() string {
	return uuid.New().String()[:8]
}
