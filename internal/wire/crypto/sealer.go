// Package crypto implements header encryption for the wire codec's
// static-key and user-password modes: AEAD sealing with
// chacha20poly1305, keys derived with curve25519 rather than a
// hand-rolled KDF.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEADSealer implements wire.Sealer with chacha20poly1305.
type AEADSealer struct{}

// NewAEADSealer builds the default Sealer.
func NewAEADSealer() *AEADSealer { return &AEADSealer{} }

// Seal encrypts header with a fresh random nonce prefixed to the output.
func (AEADSealer) Seal(key, header []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("header sealer: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("header sealer: nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, header, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Open decrypts a blob produced by Seal. consumed is always
// nonceSize+len(header)+tagSize since the sealed header has a fixed
// plaintext length (kind+ttl+flags+community), letting the caller slice
// the remaining datagram bytes as the body.
func (AEADSealer) Open(key, data []byte) ([]byte, int, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, 0, fmt.Errorf("header sealer: %w", err)
	}
	ns := aead.NonceSize()
	if len(data) < ns+aead.Overhead() {
		return nil, 0, fmt.Errorf("header sealer: sealed header too short")
	}
	nonce := data[:ns]
	// The sealed header has a known fixed plaintext length (3 +
	// CommunityNameLen, see wire.headerLen), so the ciphertext boundary
	// is ns + plaintextLen + Overhead.
	const plaintextLen = 3 + 16 // kind+ttl+flags + community name width
	end := ns + plaintextLen + aead.Overhead()
	if len(data) < end {
		return nil, 0, fmt.Errorf("header sealer: sealed header truncated")
	}
	clear, err := aead.Open(nil, nonce, data[ns:end], nil)
	if err != nil {
		return nil, 0, fmt.Errorf("header sealer: authentication failed: %w", err)
	}
	return clear, end, nil
}
