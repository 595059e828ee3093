package registry

import (
	"sort"

	"github.com/Logan007/n3n/internal/wire"
)

// KeyResolver adapts a Registry to wire.KeyResolver, the seam the pure
// wire codec uses to find a community's header-encryption key material
// without depending on the registry package directly.
type KeyResolver struct {
	Reg *Registry
}

// Mode reports HeaderEncNone, ok=true for any community the registry
// hasn't seen yet. A brand-new community's header-encryption mode can't
// be known before it exists, and community existence itself is decided
// by find_or_create, which runs after decode succeeds, so decode-time
// "unknown community" rejection would make a never-seen open community
// undecodable. Policy enforcement for closed/unlisted communities
// happens one layer up, in session.RegisterEdge's NAK path.
func (k KeyResolver) Mode(community string) (wire.HeaderEncMode, bool) {
	c, ok := k.Reg.Find(community)
	if !ok {
		return wire.HeaderEncNone, true
	}
	return c.HeaderEnc, true
}

func (k KeyResolver) StaticKey(community string) ([]byte, bool) {
	c, ok := k.Reg.Find(community)
	if !ok || c.StaticKey == nil {
		return nil, false
	}
	return c.StaticKey, true
}

func (k KeyResolver) UserKeys(community string) []wire.UserKey {
	c, ok := k.Reg.Find(community)
	if !ok {
		return nil
	}
	return c.UserKeys
}

// Candidates enumerates every (community, key) pair across all known
// communities whose header encryption mode is static or user-password,
// in a fixed order (communities sorted by name, static key before user
// keys, user keys in their stored order). Decode uses this to recover a
// sealed header's community without first knowing its cleartext name.
func (k KeyResolver) Candidates() []wire.Candidate {
	communities := k.Reg.Communities()
	sort.Slice(communities, func(i, j int) bool { return communities[i].Name < communities[j].Name })

	var out []wire.Candidate
	for _, c := range communities {
		switch c.HeaderEnc {
		case wire.HeaderEncStatic:
			if c.StaticKey != nil {
				out = append(out, wire.Candidate{Community: c.Name, Key: c.StaticKey})
			}
		case wire.HeaderEncUserPassword:
			for _, uk := range c.UserKeys {
				out = append(out, wire.Candidate{Community: c.Name, Username: uk.Username, Key: uk.Key})
			}
		}
	}
	return out
}
