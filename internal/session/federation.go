package session

import (
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/Logan007/n3n/internal/peer"
	"github.com/Logan007/n3n/internal/registry"
	"github.com/Logan007/n3n/internal/wire"
)

// Anchor is a statically-configured, non-purgeable federation peer.
// DialBack is the configured host:port from -l; it may be unresolvable
// at startup.
type Anchor struct {
	DialBack string
}

// InstallAnchors materialises each configured anchor as a non-purgeable
// peer record in the federation community at startup. An anchor whose
// host:port does not resolve is still inserted (socket left zero-value)
// so the periodic tick can retry resolution later; unresolvable anchors
// are retained rather than dropped.
func (e *Engine) InstallAnchors(federation *registry.Community, anchors []Anchor, now time.Time) {
	for _, a := range anchors {
		sock, _ := resolveHostPort(a.DialBack) // best-effort; zero value on failure
		rec, _ := federation.Edges.Upsert(peer.MAC{}, sock, now)
		rec.DialBack = a.DialBack
		rec.Purgeable = false
	}
}

// ReresolveAnchors retries DNS resolution for any anchor whose socket is
// still the zero value, called from the periodic federation tick.
func (e *Engine) ReresolveAnchors(federation *registry.Community, now time.Time) {
	for _, r := range federation.Edges.Anchors() {
		if r.DialBack == "" || r.Socket.IsValid() {
			continue
		}
		if sock, err := resolveHostPort(r.DialBack); err == nil {
			federation.Edges.Reindex(r, sock)
			e.log.Printf("resolved anchor %s -> %s", r.DialBack, sock)
		}
	}
}

// RefreshAnchor handles an inbound REGISTER_SUPER_ACK from an anchor:
// it refreshes last_seen on the anchor record reached by the socket the
// ACK arrived from and records the advertised selection criterion. The
// anchor record is looked up by socket rather than MAC since it was
// installed at startup before any MAC was known.
func (e *Engine) RefreshAnchor(federation *registry.Community, from netip.AddrPort, ack wire.RegisterSuperAckBody, now time.Time) {
	rec, ok := federation.Edges.GetBySocket(from)
	if !ok {
		return
	}
	rec.LastSeen = now
	rec.SelectionCriterion = ack.SelectionCriterion
	rec.Communities = ack.Edges
}

func resolveHostPort(hostport string) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return netip.AddrPort{}, err
	}
	ips, err := net.LookupHost(host)
	if err != nil || len(ips) == 0 {
		return netip.AddrPort{}, err
	}
	addr, err := netip.ParseAddr(ips[0])
	if err != nil {
		return netip.AddrPort{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}

// RegisterSupernodeResult mirrors RegisterResult for the supernode-to-
// supernode peering path.
type RegisterSupernodeResult struct {
	Ack *wire.RegisterSuperAckBody
	Nak *wire.RegisterSuperNakBody
}

// RegisterSupernode handles an inbound REGISTER_SUPER from a remote
// supernode: refreshes the sender's federation peer record, records its
// advertised community list on that record, and creates locally any of
// those communities the registry permits. Merged communities are not
// flagged IsFederation.
func (e *Engine) RegisterSupernode(
	federation *registry.Community,
	body wire.RegisterSuperBody,
	srcSock netip.AddrPort,
	now time.Time,
	localSelectionCriterion float64,
) RegisterSupernodeResult {
	mac := peer.MAC(body.MAC)
	rec, outcome := federation.Edges.Upsert(mac, srcSock, now)
	rec.Version = body.Version
	rec.Communities = body.Edges
	if outcome == peer.Created {
		rec.Purgeable = true
		publishPeerEvent(e.bus, now, federation.Name, macString(mac), PeerJoin)
	}

	// Merge unknown communities the remote advertises by creating them
	// locally. Broadcast relaying to this supernode is decided from
	// rec.Communities (dispatch.forwardBroadcast); the merged communities
	// themselves keep IsFederation false.
	for _, name := range body.Edges {
		if registry.IsFederationName(name) {
			continue
		}
		if _, err := e.reg.FindOrCreate(name, registry.AuthContext{}); err != nil {
			continue // unknown/denied locally; skip merging it
		}
	}

	return RegisterSupernodeResult{Ack: &wire.RegisterSuperAckBody{SelectionCriterion: localSelectionCriterion}}
}

// UnregisterSupernode handles UNREGISTER_SUPER / an edge goodbye: the
// peer record transitions to Unregistered (removed) regardless of its
// prior state.
func (e *Engine) UnregisterSupernode(community *registry.Community, mac peer.MAC, now time.Time) {
	if _, ok := community.Edges.Get(mac); !ok {
		return
	}
	community.Edges.Remove(mac)
	e.releaseMAC(mac)
	publishPeerEvent(e.bus, now, community.Name, macString(mac), PeerLeave)
}
