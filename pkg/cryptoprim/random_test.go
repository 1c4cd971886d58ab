package cryptoprim

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePasscodeIsSixDigits(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 50; i++ {
		p, err := GeneratePasscode()
		require.NoError(t, err)
		assert.Regexp(t, re, p)
	}
}

func TestRandomCertSerialLength(t *testing.T) {
	serial, err := RandomCertSerial()
	require.NoError(t, err)
	assert.Len(t, serial, CertSerialSize)
}

func TestRandomIVLength(t *testing.T) {
	iv, err := RandomIV()
	require.NoError(t, err)
	assert.Len(t, iv, IVSize)
}

func TestRandomIdentifierNonEmpty(t *testing.T) {
	id := RandomIdentifier()
	assert.NotEmpty(t, id)
	// Two calls should (overwhelmingly likely) differ.
	assert.NotEqual(t, id, RandomIdentifier())
}
