package cryptoprim

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// RSAKeySize is the RSA modulus size meshberry generates, per spec.md §2
// ("RSA keypair generation (2048-bit)").
const RSAKeySize = 2048

// KeypairResult carries the outcome of an asynchronous RSA keypair
// generation.
type KeypairResult struct {
	Key *rsa.PrivateKey
	Err error
}

// GenerateKeypair blocks the calling goroutine while generating a 2048-bit
// RSA keypair. Callers on the cooperative single-threaded loop described in
// spec.md §5 should use GenerateKeypairAsync instead so the hot path never
// blocks.
func GenerateKeypair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, RSAKeySize)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: rsa keygen: %w", err)
	}
	return key, nil
}

// GenerateKeypairAsync issues RSA keypair generation on a worker goroutine
// and returns a channel that receives exactly one KeypairResult, per
// spec.md §5's "keygen must be issued on a worker and surfaced as a
// future". The channel is buffered so the worker never blocks on an
// uninterested receiver.
func GenerateKeypairAsync() <-chan KeypairResult {
	out := make(chan KeypairResult, 1)
	go func() {
		key, err := GenerateKeypair()
		out <- KeypairResult{Key: key, Err: err}
	}()
	return out
}
