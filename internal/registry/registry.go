package registry

import (
	"fmt"
	"net/netip"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Logan007/n3n/internal/acl"
	"github.com/Logan007/n3n/internal/coreerr"
	"github.com/Logan007/n3n/internal/wire"
	"github.com/Logan007/n3n/internal/wire/crypto"
)

// AuthContext carries what the dispatch/session layer already knows about
// the inbound registration that find_or_create needs to decide whether a
// brand-new community may be created.
type AuthContext struct {
	// UserPasswordAuthOK is true if header decryption already succeeded
	// in user-password mode for this community name.
	UserPasswordAuthOK bool
}

// Registry is the community registry. It owns the ACL and the auto-IP
// pool and is the single place communities are created.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]*Community
	acl        *acl.ACL // nil = open mode
	poolMin    uint32
	poolMax    uint32
	poolBits   int // prefix length shared by the pool bounds
	federation string

	supernodePriv [32]byte // zero value until SetSupernodeKey is called

	defaultHeaderEnc wire.HeaderEncMode // mode a never-configured community adopts
	defaultStaticKey []byte            // key used when defaultHeaderEnc == HeaderEncStatic

	sf singleflight.Group // collapses concurrent find_or_create for the same new name
}

// SetDefaultHeaderEncryption installs the header-encryption mode and
// static key a newly created community adopts when its ACL entry (if
// any) carries no keyfile of its own. staticKey is only consulted when
// mode is HeaderEncStatic; it is ignored otherwise.
func (r *Registry) SetDefaultHeaderEncryption(mode wire.HeaderEncMode, staticKey []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHeaderEnc = mode
	r.defaultStaticKey = staticKey
}

// SetSupernodeKey installs the supernode's own X25519 private key, used to
// derive per-user header-encryption keys from each ACL keyfile's stored
// public keys. Must be called before the first user-password community is
// created; the zero key derives a (non-secret) key from an all-zero DH
// input, which is only appropriate for tests.
func (r *Registry) SetSupernodeKey(priv [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supernodePriv = priv
}

// New builds a Registry over an optional ACL (nil means open/permissive
// mode) and an auto-IP pool expressed as the first and last /poolBits
// subnet base addresses, plus the reserved federation community name.
func New(a *acl.ACL, poolMin, poolMax uint32, poolBits int, federationName string) *Registry {
	r := &Registry{
		byName:     make(map[string]*Community),
		acl:        a,
		poolMin:    poolMin,
		poolMax:    poolMax,
		poolBits:   poolBits,
		federation: federationName,
	}
	return r
}

// NewFromPool builds a Registry from the configured auto-IP pool bounds
// expressed as netip.Prefix (auto_ip_pool_min/auto_ip_pool_max), which
// must share a prefix length.
func NewFromPool(a *acl.ACL, poolMin, poolMax netip.Prefix, federationName string) *Registry {
	bits := poolMin.Bits()
	return New(a, subnetBase(poolMin, bits), subnetBase(poolMax, bits), bits, federationName)
}

func subnetBase(p netip.Prefix, bits int) uint32 {
	a4 := p.Addr().As4()
	v := uint32(a4[0])<<24 | uint32(a4[1])<<16 | uint32(a4[2])<<8 | uint32(a4[3])
	return v >> (32 - bits)
}

// EnsureFederation creates the federation community if absent: the
// federation community is always present.
func (r *Registry) EnsureFederation() *Community {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byName[r.federation]; ok {
		return c
	}
	c := newCommunity(r.federation, true)
	c.AutoIPNet = r.assignAutoIPLocked(r.federation)
	r.byName[r.federation] = c
	return c
}

// Find looks up a community by name without creating it.
func (r *Registry) Find(name string) (*Community, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// FindOrCreate resolves name to a Community, creating it if permitted.
// Federation names can never be created through this path.
func (r *Registry) FindOrCreate(name string, auth AuthContext) (*Community, error) {
	r.mu.RLock()
	c, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	if IsFederationName(name) {
		return nil, coreerr.NewPolicyError("federation community names are reserved", coreerr.ErrCommunityDenied)
	}

	v, err, _ := r.sf.Do(name, func() (any, error) {
		r.mu.RLock()
		if c, ok := r.byName[name]; ok {
			r.mu.RUnlock()
			return c, nil
		}
		r.mu.RUnlock()

		allowed, passwordCommunity := r.mayCreate(name, auth)
		if !allowed {
			return nil, coreerr.NewPolicyError(fmt.Sprintf("community %q not permitted", name), coreerr.ErrCommunityDenied)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.byName[name]; ok {
			return existing, nil
		}
		nc := newCommunity(name, false)
		nc.AutoIPNet = r.assignAutoIPLocked(name)
		switch {
		case passwordCommunity != nil && len(passwordCommunity.StaticKey) > 0:
			nc.HeaderEnc = wire.HeaderEncStatic
			nc.StaticKey = passwordCommunity.StaticKey
		case passwordCommunity != nil && len(passwordCommunity.UserKeys) > 0:
			nc.HeaderEnc = wire.HeaderEncUserPassword
			nc.UserKeys = r.deriveUserKeysLocked(name, passwordCommunity.UserKeys)
		case r.defaultHeaderEnc == wire.HeaderEncStatic && len(r.defaultStaticKey) > 0:
			nc.HeaderEnc = wire.HeaderEncStatic
			nc.StaticKey = r.defaultStaticKey
		}
		r.byName[name] = nc
		return nc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Community), nil
}

// deriveUserKeysLocked turns each ACL entry's stored raw X25519 public
// key into the actual per-(community,username) header-encryption key via
// Diffie-Hellman against the supernode's own key (internal/wire/crypto).
// Callers must hold r.mu.
func (r *Registry) deriveUserKeysLocked(community string, stored []wire.UserKey) []wire.UserKey {
	out := make([]wire.UserKey, 0, len(stored))
	for _, uk := range stored {
		var pub [32]byte
		copy(pub[:], uk.Key)
		derived, err := crypto.DeriveUserKey(r.supernodePriv, pub, community)
		if err != nil {
			continue
		}
		out = append(out, wire.UserKey{Username: uk.Username, Key: derived})
	}
	return out
}

// mayCreate implements the three conditions under which a never-seen
// community may be created: (a) open mode (no ACL configured, or its
// file absent), (b) explicitly listed in the ACL, or (c) a user-password
// community whose auth already succeeded.
func (r *Registry) mayCreate(name string, auth AuthContext) (bool, *acl.Entry) {
	if r.acl.Open() {
		return true, nil
	}
	entry, listed := r.acl.Lookup(name)
	if listed {
		return true, entry
	}
	if auth.UserPasswordAuthOK {
		return true, nil
	}
	return false, nil
}

// ReloadACL re-reads the ACL file atomically. Communities
// removed from the ACL remain joinable=false going forward; communities
// newly present become joinable immediately. Parse errors leave the
// in-memory ACL untouched.
func (r *Registry) ReloadACL(path string) error {
	newACL, err := acl.Load(path)
	if err != nil {
		return fmt.Errorf("reload acl: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, c := range r.byName {
		if c.IsFederation {
			continue
		}
		_, listed := newACL.Lookup(name)
		if newACL.Open() || listed {
			c.Joinable = true
		} else {
			c.Joinable = false
		}
	}
	r.acl = newACL
	return nil
}

// PreloadACL materialises a Community for every ACL entry that carries a
// keyfile, so its derived header-encryption keys exist before the first
// REGISTER for that community arrives (wire.KeyResolver.Mode otherwise
// has nothing to report for a never-seen name). Entries with no keyfile
// are left to be created lazily on first registration, matching their
// default header-encryption mode (none).
func (r *Registry) PreloadACL() {
	if r.acl == nil {
		return
	}
	for _, e := range r.acl.Entries() {
		if len(e.UserKeys) == 0 && len(e.StaticKey) == 0 {
			continue
		}
		_, _ = r.FindOrCreate(e.Name, AuthContext{})
	}
}

// Communities returns a snapshot of every community, for the management
// API's get_communities method.
func (r *Registry) Communities() []*Community {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Community, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	return out
}
