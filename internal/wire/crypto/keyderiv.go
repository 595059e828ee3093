package crypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// DeriveUserKey derives the per-(community,username) header-encryption
// key from the username's stored public key and the supernode's own
// X25519 keypair, lazily, the first time that (community, username)
// pair is seen.
//
// The community's per-user key table (internal/acl) stores each user's
// X25519 public key directly rather than an Ed25519 signing key
// converted to Montgomery form, avoiding a fragile, hand-rolled
// Edwards-to-Montgomery coordinate conversion for a header-only use
// case that never needs signature verification.
func DeriveUserKey(supernodePriv [32]byte, userPub [32]byte, community string) ([]byte, error) {
	shared, err := curve25519.X25519(supernodePriv[:], userPub[:])
	if err != nil {
		return nil, fmt.Errorf("keyderiv: x25519: %w", err)
	}

	h := sha256.New()
	h.Write(shared)
	h.Write([]byte(community))
	return h.Sum(nil), nil
}
