package session

import (
	"net/netip"
	"testing"
	"time"

	"github.com/Logan007/n3n/internal/peer"
	"github.com/Logan007/n3n/internal/wire"
)

func TestInstallAnchors_UnresolvableStillInserted(t *testing.T) {
	e, reg := testEngine(t)
	federation := reg.EnsureFederation()
	now := time.Now()

	e.InstallAnchors(federation, []Anchor{{DialBack: "no-such-host.invalid:7777"}}, now)

	// Anchors carry a zero MAC and live only in the socket index, so they
	// are reached through Anchors rather than Iter.
	var found *peer.Record
	for _, r := range federation.Edges.Anchors() {
		if r.DialBack == "no-such-host.invalid:7777" {
			found = r
		}
	}
	if found == nil {
		t.Fatal("expected an anchor record even when resolution fails")
	}
	if found.Purgeable {
		t.Fatal("anchors must never be purgeable")
	}
}

func TestRegisterSupernode_MergesAdvertisedCommunities(t *testing.T) {
	e, reg := testEngine(t)
	federation := reg.EnsureFederation()
	now := time.Now()
	from := netip.MustParseAddrPort("198.51.100.1:7777")

	body := wire.RegisterSuperBody{MAC: [6]byte{9, 9, 9, 9, 9, 9}, Version: "1.0", Edges: []string{"alpha", "beta"}}
	res := e.RegisterSupernode(federation, body, from, now, 0.5)
	if res.Ack == nil {
		t.Fatal("expected an ack")
	}
	if res.Ack.SelectionCriterion != 0.5 {
		t.Fatalf("expected selection criterion echoed back, got %f", res.Ack.SelectionCriterion)
	}

	rec, ok := federation.Edges.Get(peer.MAC(body.MAC))
	if !ok {
		t.Fatal("expected the remote supernode to be recorded")
	}
	if len(rec.Communities) != 2 || rec.Communities[0] != "alpha" || rec.Communities[1] != "beta" {
		t.Fatalf("expected advertised communities recorded, got %v", rec.Communities)
	}

	if _, ok := reg.Find("alpha"); !ok {
		t.Fatal("expected alpha to be merged into the local registry")
	}
	if _, ok := reg.Find("beta"); !ok {
		t.Fatal("expected beta to be merged into the local registry")
	}
}

func TestUnregisterSupernode_RemovesPeer(t *testing.T) {
	e, reg := testEngine(t)
	federation := reg.EnsureFederation()
	now := time.Now()
	from := netip.MustParseAddrPort("198.51.100.2:7777")
	mac := peer.MAC{7, 7, 7, 7, 7, 7}

	e.RegisterSupernode(federation, wire.RegisterSuperBody{MAC: mac}, from, now, 0)
	if _, ok := federation.Edges.Get(mac); !ok {
		t.Fatal("expected the peer to be registered first")
	}

	e.UnregisterSupernode(federation, mac, now)
	if _, ok := federation.Edges.Get(mac); ok {
		t.Fatal("expected the peer to be removed")
	}
}
