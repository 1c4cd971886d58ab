package cryptoprim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESCBCRoundTrip(t *testing.T) {
	for _, keySize := range []int{KeySize128, KeySize256} {
		key, err := RandomBytes(keySize)
		require.NoError(t, err)
		iv, err := RandomIV()
		require.NoError(t, err)

		plaintext := []byte("hi, this is a mesh message")
		ciphertext, err := Encrypt(key, iv, plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, ciphertext)

		decrypted, err := Decrypt(key, iv, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestAESCBCEmptyPlaintext(t *testing.T) {
	key, _ := RandomBytes(KeySize256)
	iv, _ := RandomIV()

	ciphertext, err := Encrypt(key, iv, nil)
	require.NoError(t, err)

	decrypted, err := Decrypt(key, iv, ciphertext)
	require.NoError(t, err)
	assert.Empty(t, decrypted)
}

func TestAESCBCRejectsBadKeySize(t *testing.T) {
	_, err := NewCipher(make([]byte, 10))
	assert.Error(t, err)
}

func TestAESCBCRejectsBadIVSize(t *testing.T) {
	c, err := NewCipher(make([]byte, KeySize128))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Encrypt(make([]byte, 4), []byte("x"))
	assert.Error(t, err)
}

func TestAESCBCWrongKeyFailsToDecryptCleanly(t *testing.T) {
	key1, _ := RandomBytes(KeySize128)
	key2, _ := RandomBytes(KeySize128)
	iv, _ := RandomIV()

	ciphertext, err := Encrypt(key1, iv, []byte("secret payload"))
	require.NoError(t, err)

	// Decrypting under the wrong key either errors (bad padding) or
	// produces garbage; it must never equal the original plaintext.
	decrypted, err := Decrypt(key2, iv, ciphertext)
	if err == nil {
		assert.NotEqual(t, []byte("secret payload"), decrypted)
	}
}

func TestCipherCloseZeroesKey(t *testing.T) {
	key, _ := RandomBytes(KeySize128)
	c, err := NewCipher(key)
	require.NoError(t, err)

	internal := c.key
	c.Close()
	_, err = c.Encrypt(make([]byte, 16), []byte("x"))
	assert.Error(t, err)
	assert.Equal(t, make([]byte, KeySize128), internal)
}
