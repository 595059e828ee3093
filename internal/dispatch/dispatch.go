// Package dispatch implements the classify/forward engine: it
// interprets a decoded wire.Message and drives the session engine and
// registry to produce zero or more outbound datagrams. One handler per
// decoded message kind, rather than one handler per connection, since a
// supernode is connectionless on its main UDP path.
package dispatch

import (
	"net/netip"
	"time"

	"github.com/Logan007/n3n/internal/corelog"
	"github.com/Logan007/n3n/internal/peer"
	"github.com/Logan007/n3n/internal/registry"
	"github.com/Logan007/n3n/internal/session"
	"github.com/Logan007/n3n/internal/wire"
)

// Sender is the seam dispatch needs to emit a reply; satisfied by both
// transport.UDPTransport and a per-connection TCP writer, so the same
// forwarding logic runs over either transport: dispatch semantics are
// identical whether a datagram arrived over UDP or the aux TCP path.
type Sender interface {
	SendTo(data []byte, addr netip.AddrPort) error
}

// Engine ties the wire codec, session engine and community registry
// together into the classify/forward loop. All of its methods are meant
// to run on the single dispatch goroutine (internal/loop).
type Engine struct {
	reg   *registry.Registry
	sess  *session.Engine
	codec *wire.Codec
	log   corelog.Logger
	ctr   session.Counters

	selfMAC            peer.MAC
	versionString      string
	selectionCriterion float64
}

// New builds a dispatch Engine. selfMAC identifies this supernode in the
// REGISTER_SUPER messages it sends to its anchors; versionString is
// advertised the same way REGISTER_ACK advertises it to edges.
func New(reg *registry.Registry, sess *session.Engine, codec *wire.Codec, log corelog.Logger, ctr session.Counters, selfMAC peer.MAC, versionString string) *Engine {
	return &Engine{reg: reg, sess: sess, codec: codec, log: log, ctr: ctr, selfMAC: selfMAC, versionString: versionString}
}

// Handle classifies one decoded datagram and drives the reply. self is
// the supernode's own listening socket, used to skip this node when
// relaying to federation peers (forwarded packets leave through send, so
// their outer source is already this node's socket), and send is where
// responses for this inbound datagram are sent: UDP
// replies always go to the inbound peer's socket; callers pass a Sender
// bound to the transport the datagram arrived on.
func (e *Engine) Handle(data []byte, from netip.AddrPort, self netip.AddrPort, send Sender, now time.Time) {
	msg, err := e.codec.Decode(data)
	if err != nil {
		e.ctr.IncRxError()
		e.log.Debugf("decode from %s: %v", from, err)
		return
	}

	switch msg.Header.Kind {
	case wire.KindRegister:
		e.handleRegister(msg, from, send, now)
	case wire.KindRegisterSuper:
		e.handleRegisterSuper(msg, from, send, now)
	case wire.KindUnregisterSuper:
		e.handleUnregisterSuper(msg, now)
	case wire.KindRegisterSuperAck:
		e.handleRegisterSuperAck(msg, from, now)
	case wire.KindRegisterSuperNak:
		e.handleRegisterSuperNak(msg, from)
	case wire.KindQueryPeer:
		e.handleQueryPeer(msg, from, self, send, now)
	case wire.KindPacket:
		e.handlePacket(msg, from, self, send, now)
	case wire.KindPeerInfo:
		// No outstanding relayed QUERY_PEER in this implementation (the
		// local QUERY_PEER handler never forwards to other supernodes,
		// so an unsolicited PEER_INFO has no original requester to
		// relay to); drop it rather than fabricate a destination.
		e.log.Debugf("peer_info from %s with no pending relay, dropping", from)
	default:
		e.ctr.IncRxError()
		e.log.Debugf("unknown kind %d from %s", msg.Header.Kind, from)
	}
}

func (e *Engine) handleRegister(msg wire.Message, from netip.AddrPort, send Sender, now time.Time) {
	var body wire.RegisterBody
	if err := wire.DecodeBody(msg.Body, &body); err != nil {
		e.ctr.IncRxError()
		return
	}
	res, err := e.sess.RegisterEdge(msg.Header.Community, body, from, msg.Identity != "", now)
	if err != nil {
		e.ctr.IncRxError()
		return
	}
	if res.Nak != nil {
		e.reply(wire.KindRegisterNak, msg.Header.Community, res.Nak, from, send)
		return
	}
	e.reply(wire.KindRegisterAck, msg.Header.Community, res.Ack, from, send)
}

func (e *Engine) handleRegisterSuper(msg wire.Message, from netip.AddrPort, send Sender, now time.Time) {
	var body wire.RegisterSuperBody
	if err := wire.DecodeBody(msg.Body, &body); err != nil {
		e.ctr.IncRxError()
		return
	}
	federation := e.reg.EnsureFederation()
	res := e.sess.RegisterSupernode(federation, body, from, now, e.selectionCriterion)
	if res.Nak != nil {
		e.reply(wire.KindRegisterSuperNak, federation.Name, res.Nak, from, send)
		return
	}
	e.reply(wire.KindRegisterSuperAck, federation.Name, res.Ack, from, send)
}

func (e *Engine) handleUnregisterSuper(msg wire.Message, now time.Time) {
	comm, ok := e.reg.Find(msg.Header.Community)
	if !ok {
		return
	}
	var body wire.RegisterBody
	if err := wire.DecodeBody(msg.Body, &body); err != nil {
		return
	}
	e.sess.UnregisterSupernode(comm, peer.MAC(body.MAC), now)
}

func (e *Engine) handleRegisterSuperAck(msg wire.Message, from netip.AddrPort, now time.Time) {
	var body wire.RegisterSuperAckBody
	if err := wire.DecodeBody(msg.Body, &body); err != nil {
		e.ctr.IncRxError()
		return
	}
	federation := e.reg.EnsureFederation()
	e.sess.RefreshAnchor(federation, from, body, now)
}

func (e *Engine) handleRegisterSuperNak(msg wire.Message, from netip.AddrPort) {
	var body wire.RegisterSuperNakBody
	if err := wire.DecodeBody(msg.Body, &body); err != nil {
		e.ctr.IncRxError()
		return
	}
	e.log.Debugf("register_super nak from %s: %s", from, body.Reason)
}

// SendRegisterSuper emits REGISTER_SUPER to every federation anchor with
// a resolved socket, called once per tick (internal/loop). It advertises
// this supernode's own MAC and the non-federation communities it
// locally serves, so the anchor can merge them into its own registry.
func (e *Engine) SendRegisterSuper(federation *registry.Community, send Sender) {
	body := &wire.RegisterSuperBody{
		MAC:     e.selfMAC,
		Version: e.versionString,
		Edges:   e.localCommunityNames(),
	}
	encoded, err := wire.EncodeBody(body)
	if err != nil {
		e.log.Errorf("encode register_super body: %v", err)
		return
	}
	out, err := e.codec.Encode(wire.Message{
		Header: wire.Header{Kind: wire.KindRegisterSuper, Community: federation.Name},
		Body:   encoded,
	})
	if err != nil {
		e.log.Errorf("encode register_super: %v", err)
		return
	}
	for _, anchor := range federation.Edges.Anchors() {
		if !anchor.Socket.IsValid() {
			continue
		}
		_ = send.SendTo(out, anchor.Socket)
	}
}

func (e *Engine) localCommunityNames() []string {
	var names []string
	for _, c := range e.reg.Communities() {
		if !c.IsFederation {
			names = append(names, c.Name)
		}
	}
	return names
}

func (e *Engine) handleQueryPeer(msg wire.Message, from netip.AddrPort, self netip.AddrPort, send Sender, now time.Time) {
	var body wire.QueryPeerBody
	if err := wire.DecodeBody(msg.Body, &body); err != nil {
		e.ctr.IncRxError()
		return
	}
	comm, ok := e.reg.Find(msg.Header.Community)
	if !ok {
		return
	}
	rec, ok := comm.Edges.Get(peer.MAC(body.MAC))
	if !ok {
		return // unknown in this community: drop
	}
	info := &wire.PeerInfoBody{MAC: body.MAC, Socket: rec.Socket.String()}
	e.reply(wire.KindPeerInfo, msg.Header.Community, info, from, send)
}

// handlePacket implements the PACKET forwarding rules: unicast
// rewrite-and-send, broadcast/multicast local fan-out plus one
// federation relay pass, and unknown-destination TTL-decremented
// federation forward.
func (e *Engine) handlePacket(msg wire.Message, from netip.AddrPort, self netip.AddrPort, send Sender, now time.Time) {
	var body wire.PacketBody
	if err := wire.DecodeBody(msg.Body, &body); err != nil {
		e.ctr.IncRxError()
		return
	}
	comm, ok := e.reg.Find(msg.Header.Community)
	if !ok {
		e.ctr.IncRxError()
		return
	}

	srcMAC := peer.MAC(body.SrcMAC)
	if _, known := comm.Edges.Get(srcMAC); !known {
		// Source unknown despite valid header auth: resync is the
		// edge's responsibility.
		nak := &wire.RegisterNakBody{Reason: wire.NakCommunity}
		e.reply(wire.KindRegisterNak, msg.Header.Community, nak, from, send)
		return
	}

	dstMAC := peer.MAC(body.DstMAC)

	switch {
	case dstMAC.IsBroadcast() || dstMAC.IsMulticast():
		e.forwardBroadcast(comm, msg, body, srcMAC, self, send)
	case !dstMAC.IsZero():
		if rec, known := comm.Edges.Get(dstMAC); known {
			e.forwardUnicast(msg, body, rec, send)
			return
		}
		if msg.Header.TTL > 0 {
			e.forwardFederation(msg, body, self, send)
		}
	}
}

func (e *Engine) forwardUnicast(msg wire.Message, body wire.PacketBody, rec *peer.Record, send Sender) {
	out, err := e.encodePacket(msg.Header.Community, msg.Header.TTL, 0, body)
	if err != nil {
		e.ctr.IncRxError()
		return
	}
	if err := send.SendTo(out, rec.Socket); err == nil {
		e.ctr.IncFwd()
	}
}

func (e *Engine) forwardBroadcast(comm *registry.Community, msg wire.Message, body wire.PacketBody, srcMAC peer.MAC, self netip.AddrPort, send Sender) {
	var targets []*peer.Record
	comm.Edges.Iter(func(r *peer.Record) {
		if r.MAC != srcMAC {
			targets = append(targets, r)
		}
	})
	local, err := e.encodePacket(msg.Header.Community, msg.Header.TTL, 0, body)
	if err == nil {
		for _, r := range targets {
			_ = send.SendTo(local, r.Socket)
		}
		e.ctr.IncBroadcast()
	}

	// Supernode-to-supernode broadcast: forward once more to every other
	// federation peer advertising this community, with the no-rebroadcast
	// flag set so it isn't fanned out again on the far side.
	if msg.Header.Flags&wire.FlagNoRebroadcast != 0 {
		return
	}
	federation := e.reg.EnsureFederation()
	relayed, err := e.encodePacket(msg.Header.Community, msg.Header.TTL, wire.FlagNoRebroadcast, body)
	if err != nil {
		return
	}
	federation.Edges.Iter(func(r *peer.Record) {
		if !r.Socket.IsValid() || r.Socket == self {
			return
		}
		if hasCommunity(r.Communities, comm.Name) {
			_ = send.SendTo(relayed, r.Socket)
		}
	})
}

func (e *Engine) forwardFederation(msg wire.Message, body wire.PacketBody, self netip.AddrPort, send Sender) {
	if msg.Header.TTL == 0 {
		return
	}
	federation := e.reg.EnsureFederation()
	out, err := e.encodePacket(msg.Header.Community, msg.Header.TTL-1, msg.Header.Flags, body)
	if err != nil {
		return
	}
	federation.Edges.Iter(func(r *peer.Record) {
		if r.Socket.IsValid() && r.Socket != self {
			_ = send.SendTo(out, r.Socket)
		}
	})
}

func (e *Engine) encodePacket(community string, ttl uint8, flags byte, body wire.PacketBody) ([]byte, error) {
	encoded, err := wire.EncodeBody(body)
	if err != nil {
		return nil, err
	}
	return e.codec.Encode(wire.Message{
		Header: wire.Header{Kind: wire.KindPacket, TTL: ttl, Flags: flags, Community: community},
		Body:   encoded,
	})
}

func (e *Engine) reply(kind wire.MsgKind, community string, body any, to netip.AddrPort, send Sender) {
	encoded, err := wire.EncodeBody(body)
	if err != nil {
		e.log.Errorf("encode %s body: %v", kind, err)
		return
	}
	out, err := e.codec.Encode(wire.Message{
		Header: wire.Header{Kind: kind, Community: community},
		Body:   encoded,
	})
	if err != nil {
		e.log.Errorf("encode %s: %v", kind, err)
		return
	}
	if err := send.SendTo(out, to); err != nil {
		e.log.Debugf("send %s to %s: %v", kind, to, err)
	}
}

func hasCommunity(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

