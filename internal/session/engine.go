package session

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/Logan007/n3n/internal/config"
	"github.com/Logan007/n3n/internal/corelog"
	"github.com/Logan007/n3n/internal/peer"
	"github.com/Logan007/n3n/internal/registry"
	"github.com/Logan007/n3n/internal/wire"
)

// Engine implements the registration/session state machine: REGISTER
// (edge) and REGISTER_SUPER (peer supernode) handling, keep-alive
// refresh, MAC-spoofing checks, and the purge sweep. All of its
// exported methods are meant to run on the single dispatch goroutine;
// it holds no internal locking of its own beyond the cross-community
// MAC ownership index, which nothing outside this engine touches.
type Engine struct {
	cfg  config.Core
	reg  *registry.Registry
	log  corelog.Logger
	bus  EventBus
	ctr  Counters

	macOwnerMu sync.Mutex
	macOwner   map[peer.MAC]string // MAC -> owning community name, for cross-community spoof checks
}

// NewEngine builds a session Engine. bus/ctr may be Noop implementations
// if no event stream or metrics sink is wired.
func NewEngine(cfg config.Core, reg *registry.Registry, log corelog.Logger, bus EventBus, ctr Counters) *Engine {
	return &Engine{
		cfg:      cfg,
		reg:      reg,
		log:      log,
		bus:      bus,
		ctr:      ctr,
		macOwner: make(map[peer.MAC]string),
	}
}

// RegisterResult is what the dispatch engine needs to know to build and
// send a reply after RegisterEdge returns.
type RegisterResult struct {
	Ack        *wire.RegisterAckBody
	Nak        *wire.RegisterNakBody
	Community  string
}

// RegisterEdge implements the edge registration sequence. Header
// decoding (and its AUTH failure case) has already happened by the time
// this is called; userPasswordAuthOK reflects whether the packet's
// header decryption succeeded under user-password mode for this
// community (feeds registry.AuthContext).
func (e *Engine) RegisterEdge(
	communityName string,
	body wire.RegisterBody,
	srcSock netip.AddrPort,
	userPasswordAuthOK bool,
	now time.Time,
) (RegisterResult, error) {
	comm, err := e.reg.FindOrCreate(communityName, registry.AuthContext{UserPasswordAuthOK: userPasswordAuthOK})
	if err != nil {
		e.ctr.IncRegNak()
		return RegisterResult{Nak: &wire.RegisterNakBody{Reason: wire.NakCommunity}, Community: communityName}, nil
	}
	if !comm.Joinable {
		// ACL-removed community: existing edges keep being served, new
		// registrations are refused.
		if _, known := comm.Edges.Get(peer.MAC(body.MAC)); !known {
			e.ctr.IncRegNak()
			return RegisterResult{Nak: &wire.RegisterNakBody{Reason: wire.NakCommunity}, Community: communityName}, nil
		}
	}

	mac := peer.MAC(body.MAC)

	if e.cfg.SpoofingProtection {
		if denied := e.checkSpoof(mac, communityName); denied {
			e.ctr.IncRegNak()
			return RegisterResult{Nak: &wire.RegisterNakBody{Reason: wire.NakMACInUse}, Community: communityName}, nil
		}
	}

	existing, hadExisting := comm.Edges.Get(mac)
	prevSock := netip.AddrPort{}
	if hadExisting {
		prevSock = existing.Socket
	}

	rec, outcome := comm.Edges.Upsert(mac, srcSock, now)
	rec.Version = body.Version
	rec.PublicKey = body.PublicKey
	rec.Purgeable = true

	e.claimMAC(mac, communityName)

	switch {
	case outcome == peer.Created:
		publishPeerEvent(e.bus, now, communityName, macString(mac), PeerJoin)
	case hadExisting && prevSock != srcSock:
		publishPeerEvent(e.bus, now, communityName, macString(mac), PeerMove)
	}

	autoIP := registry.AssignHostInSubnet(comm.AutoIPNet, body.MAC)
	rec.AutoIP = autoIP

	ack := &wire.RegisterAckBody{
		AssignedIP:     autoIP.String(),
		ObservedSocket: srcSock.String(),
		Version:        e.cfg.SnVersionString,
	}
	return RegisterResult{Ack: ack, Community: communityName}, nil
}

// checkSpoof reports whether mac is already bound to a different
// community than communityName. A MAC may move freely within the same
// community (that's just a refresh/move) but never hop communities
// while spoofing protection is enabled.
func (e *Engine) checkSpoof(mac peer.MAC, communityName string) (denied bool) {
	e.macOwnerMu.Lock()
	defer e.macOwnerMu.Unlock()
	owner, ok := e.macOwner[mac]
	return ok && owner != communityName
}

func (e *Engine) claimMAC(mac peer.MAC, communityName string) {
	e.macOwnerMu.Lock()
	defer e.macOwnerMu.Unlock()
	e.macOwner[mac] = communityName
}

func (e *Engine) releaseMAC(mac peer.MAC) {
	e.macOwnerMu.Lock()
	defer e.macOwnerMu.Unlock()
	delete(e.macOwner, mac)
}

// PurgeSweep runs the purge tick: every community's edge table is
// purged at the configured TTL; the federation
// community's peer-supernode entries purge at a longer TTL, and anchors
// (Purgeable=false) never expire. Empty non-federation communities are
// never torn down, preserving deterministic auto-IP assignment for the
// process lifetime.
func (e *Engine) PurgeSweep(now time.Time, federationTTLMultiplier int) {
	for _, comm := range e.reg.Communities() {
		ttl := e.cfg.RegistrationTTL
		if comm.IsFederation {
			ttl = ttl * time.Duration(federationTTLMultiplier)
		}
		var purged []peer.MAC
		comm.Edges.Iter(func(r *peer.Record) {
			if r.Purgeable && now.Sub(r.LastSeen) > ttl {
				purged = append(purged, r.MAC)
			}
		})
		for _, mac := range purged {
			comm.Edges.Remove(mac)
			e.releaseMAC(mac)
			publishPeerEvent(e.bus, now, comm.Name, macString(mac), PeerLeave)
		}
	}
}

func macString(m peer.MAC) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}
