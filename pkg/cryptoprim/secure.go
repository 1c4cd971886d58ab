// Package cryptoprim provides the cryptographic primitives meshberry builds
// its protocol on: AES-CBC symmetric encryption, RSA keypair generation for
// TLS certificates, SRP-6a password-authenticated key exchange, and
// crypto-random helpers for IVs, passcodes, and certificate serials.
package cryptoprim

// SecureZero overwrites b with zeros to prevent sensitive key material
// (AES keys, RSA private key bytes, SRP session keys) from lingering in
// memory after use.
//
// Go's garbage collector does not guarantee memory is zeroed when freed,
// so explicit zeroing is necessary for security-sensitive data.
func SecureZero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SecureZeroMultiple zeros several byte slices in one call.
func SecureZeroMultiple(slices ...[]byte) {
	for _, b := range slices {
		SecureZero(b)
	}
}
