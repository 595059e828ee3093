package session

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Logan007/n3n/internal/acl"
	"github.com/Logan007/n3n/internal/config"
	"github.com/Logan007/n3n/internal/corelog"
	"github.com/Logan007/n3n/internal/registry"
	"github.com/Logan007/n3n/internal/wire"
)

func testEngine(t *testing.T) (*Engine, *registry.Registry) {
	t.Helper()
	min, max := netip.MustParsePrefix("10.0.0.0/24"), netip.MustParsePrefix("10.0.255.0/24")
	reg := registry.NewFromPool(nil, min, max, "*supernodes")
	cfg := config.Core{
		RegistrationTTL:    30 * time.Second,
		SpoofingProtection: true,
		SnVersionString:    "test",
	}
	e := NewEngine(cfg, reg, corelog.NewStdLogger(0), NoopEventBus{}, NoopCounters{})
	return e, reg
}

func TestRegisterEdge_NewPeerGetsAck(t *testing.T) {
	e, _ := testEngine(t)
	now := time.Now()
	from := netip.MustParseAddrPort("192.0.2.1:7777")

	res, err := e.RegisterEdge("alpha", wire.RegisterBody{MAC: [6]byte{1, 2, 3, 4, 5, 6}, Version: "1.0"}, from, false, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Nak != nil {
		t.Fatalf("unexpected nak: %+v", res.Nak)
	}
	if res.Ack == nil || res.Ack.AssignedIP == "" {
		t.Fatal("expected an ack with an assigned ip")
	}
	if res.Ack.ObservedSocket != from.String() {
		t.Fatalf("expected observed socket %s, got %s", from, res.Ack.ObservedSocket)
	}
}

func TestRegisterEdge_SameMACSameCommunityRefreshes(t *testing.T) {
	e, _ := testEngine(t)
	now := time.Now()
	mac := [6]byte{1, 2, 3, 4, 5, 6}
	from1 := netip.MustParseAddrPort("192.0.2.1:7777")
	from2 := netip.MustParseAddrPort("192.0.2.2:7777")

	if _, err := e.RegisterEdge("alpha", wire.RegisterBody{MAC: mac}, from1, false, now); err != nil {
		t.Fatalf("first register: %v", err)
	}
	res, err := e.RegisterEdge("alpha", wire.RegisterBody{MAC: mac}, from2, false, now.Add(time.Second))
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if res.Nak != nil {
		t.Fatalf("expected a move, not a nak: %+v", res.Nak)
	}
	if res.Ack.ObservedSocket != from2.String() {
		t.Fatalf("expected socket updated to %s, got %s", from2, res.Ack.ObservedSocket)
	}
}

func TestRegisterEdge_SpoofedMACAcrossCommunitiesIsNaked(t *testing.T) {
	e, _ := testEngine(t)
	now := time.Now()
	mac := [6]byte{1, 2, 3, 4, 5, 6}
	from1 := netip.MustParseAddrPort("192.0.2.1:7777")
	from2 := netip.MustParseAddrPort("192.0.2.2:7777")

	if _, err := e.RegisterEdge("alpha", wire.RegisterBody{MAC: mac}, from1, false, now); err != nil {
		t.Fatalf("first register: %v", err)
	}
	res, err := e.RegisterEdge("beta", wire.RegisterBody{MAC: mac}, from2, false, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Nak == nil || res.Nak.Reason != wire.NakMACInUse {
		t.Fatalf("expected MAC_IN_USE nak, got %+v", res.Nak)
	}
}

func TestRegisterEdge_ClosedCommunityDeniesNewEdge(t *testing.T) {
	min, max := netip.MustParsePrefix("10.0.0.0/24"), netip.MustParsePrefix("10.0.255.0/24")
	a := loadTestACL(t, "alpha\n")
	reg := registry.NewFromPool(a, min, max, "*supernodes")
	cfg := config.Core{RegistrationTTL: 30 * time.Second, SpoofingProtection: true}
	e := NewEngine(cfg, reg, corelog.NewStdLogger(0), NoopEventBus{}, NoopCounters{})

	now := time.Now()
	from := netip.MustParseAddrPort("192.0.2.1:7777")
	res, err := e.RegisterEdge("not-listed", wire.RegisterBody{MAC: [6]byte{1, 2, 3, 4, 5, 6}}, from, false, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Nak == nil || res.Nak.Reason != wire.NakCommunity {
		t.Fatalf("expected COMMUNITY nak for unlisted community, got %+v", res.Nak)
	}
}

func TestPurgeSweep_RemovesStaleRefreshesFresh(t *testing.T) {
	e, reg := testEngine(t)
	now := time.Now()
	stale := [6]byte{1, 1, 1, 1, 1, 1}
	fresh := [6]byte{2, 2, 2, 2, 2, 2}
	from := netip.MustParseAddrPort("192.0.2.1:7777")

	if _, err := e.RegisterEdge("alpha", wire.RegisterBody{MAC: stale}, from, false, now); err != nil {
		t.Fatalf("register stale: %v", err)
	}
	if _, err := e.RegisterEdge("alpha", wire.RegisterBody{MAC: fresh}, from, false, now.Add(40*time.Second)); err != nil {
		t.Fatalf("register fresh: %v", err)
	}

	e.PurgeSweep(now.Add(40*time.Second), 3)

	comm, _ := reg.Find("alpha")
	if _, ok := comm.Edges.Get(stale); ok {
		t.Fatal("expected stale peer to be purged")
	}
	if _, ok := comm.Edges.Get(fresh); !ok {
		t.Fatal("expected fresh peer to survive the purge")
	}
}

func loadTestACL(t *testing.T, contents string) *acl.ACL {
	t.Helper()
	path := filepath.Join(t.TempDir(), "communities.conf")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := acl.Load(path)
	if err != nil {
		t.Fatalf("load acl: %v", err)
	}
	return a
}
