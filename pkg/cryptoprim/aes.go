package cryptoprim

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// KeySize128 and KeySize256 are the supported AES-CBC key sizes in bytes
// (spec.md §2: "AES-128/256-CBC").
const (
	KeySize128 = 16
	KeySize256 = 32
)

// Cipher provides AES-CBC encrypt/decrypt with PKCS#7 padding under a
// single symmetric key. It is safe for concurrent use (it holds no mutable
// state beyond the key bytes).
//
// Call Close to zero the retained key copy when the cipher is no longer
// needed.
type Cipher struct {
	key    []byte
	closed bool
}

// NewCipher creates an AES-CBC cipher with the given key. len(key) must be
// KeySize128 or KeySize256.
func NewCipher(key []byte) (*Cipher, error) {
	switch len(key) {
	case KeySize128, KeySize256:
	default:
		return nil, fmt.Errorf("cryptoprim: invalid AES key size: expected %d or %d bytes, got %d",
			KeySize128, KeySize256, len(key))
	}
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)
	return &Cipher{key: keyCopy}, nil
}

// Encrypt PKCS#7-pads plaintext and encrypts it with AES-CBC under the
// given IV. The IV must be exactly 16 bytes (the AES block size) and must
// never be reused with the same key (spec.md §3: "IVs are 16 random bytes
// per message").
func (c *Cipher) Encrypt(iv, plaintext []byte) ([]byte, error) {
	if c.closed {
		return nil, fmt.Errorf("cryptoprim: cipher is closed")
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("cryptoprim: invalid IV size: expected %d bytes, got %d", aes.BlockSize, len(iv))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: aes.NewCipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// Decrypt decrypts AES-CBC ciphertext under the given IV and strips the
// PKCS#7 padding.
func (c *Cipher) Decrypt(iv, ciphertext []byte) ([]byte, error) {
	if c.closed {
		return nil, fmt.Errorf("cryptoprim: cipher is closed")
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("cryptoprim: invalid IV size: expected %d bytes, got %d", aes.BlockSize, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cryptoprim: ciphertext is not a multiple of the block size")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: aes.NewCipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext)
}

// Close zeros the retained key copy. After Close the cipher must not be
// used.
func (c *Cipher) Close() {
	if c.closed {
		return
	}
	c.closed = true
	SecureZero(c.key)
	c.key = nil
}

// Encrypt is a convenience wrapper that builds a temporary Cipher. For
// repeated encryption under the same key, construct a Cipher instead.
func Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Encrypt(iv, plaintext)
}

// Decrypt is a convenience wrapper that builds a temporary Cipher. For
// repeated decryption under the same key, construct a Cipher instead.
func Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Decrypt(iv, ciphertext)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, fmt.Errorf("cryptoprim: cannot unpad empty data")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > n || padLen > aes.BlockSize {
		return nil, fmt.Errorf("cryptoprim: invalid PKCS#7 padding")
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("cryptoprim: invalid PKCS#7 padding")
		}
	}
	return data[:n-padLen], nil
}
