// Package registry implements the community registry: named communities,
// their edge tables, ACL lookup, and the deterministic auto-IP allocator.
package registry

import (
	"net/netip"
	"strings"

	"github.com/Logan007/n3n/internal/peer"
	"github.com/Logan007/n3n/internal/wire"
)

// Community is a named overlay segment.
type Community struct {
	Name string

	HeaderEnc  wire.HeaderEncMode
	StaticKey  []byte
	UserKeys   []wire.UserKey // username -> derived key, in try order

	AutoIPNet netip.Prefix

	IsFederation bool

	// Purgeable marks whether a community could in principle be torn
	// down; communities are never torn down mid-process (destroyed only
	// on daemon restart), so this is tracked for completeness but never
	// actioned by the purge sweep.
	Purgeable bool

	// Joinable is cleared when a community is removed from the ACL on
	// reload: it keeps serving existing edges but refuses new ones. A
	// later reload that lists the community again sets it back to true.
	Joinable bool

	Edges *peer.Table
}

// IsFederationName reports whether name is reserved for federation
// communities: a leading `*` denotes a federation community.
func IsFederationName(name string) bool {
	return strings.HasPrefix(name, "*")
}

func newCommunity(name string, isFederation bool) *Community {
	return &Community{
		Name:         name,
		IsFederation: isFederation,
		Joinable:     true,
		Edges:        peer.NewTable(),
	}
}
