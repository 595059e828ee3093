package dispatch

import (
	"net/netip"
	"testing"
	"time"

	"github.com/Logan007/n3n/internal/config"
	"github.com/Logan007/n3n/internal/corelog"
	"github.com/Logan007/n3n/internal/peer"
	"github.com/Logan007/n3n/internal/registry"
	"github.com/Logan007/n3n/internal/session"
	"github.com/Logan007/n3n/internal/wire"
)

// fakeSender records every outbound datagram instead of touching a real
// socket, so forwarding decisions can be asserted on directly.
type fakeSender struct {
	sent []sentDatagram
}

type sentDatagram struct {
	data []byte
	to   netip.AddrPort
}

func (f *fakeSender) SendTo(data []byte, addr netip.AddrPort) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, sentDatagram{data: cp, to: addr})
	return nil
}

// countingCounters records rx_error increments; the other counters are
// discarded.
type countingCounters struct {
	session.NoopCounters
	rxError int
}

func (c *countingCounters) IncRxError() { c.rxError++ }

func testEngine(t *testing.T) (*Engine, *registry.Registry) {
	t.Helper()
	min, max := netip.MustParsePrefix("10.0.0.0/24"), netip.MustParsePrefix("10.0.255.0/24")
	reg := registry.NewFromPool(nil, min, max, "*supernodes")
	cfg := config.Core{RegistrationTTL: 30 * time.Second, SpoofingProtection: true, SnVersionString: "test"}
	sess := session.NewEngine(cfg, reg, corelog.NewStdLogger(0), session.NoopEventBus{}, session.NoopCounters{})
	codec := wire.NewCodec(registry.KeyResolver{Reg: reg}, nil)
	selfMAC := peer.MAC{0xa0, 0, 0, 0, 0, 1}
	return New(reg, sess, codec, corelog.NewStdLogger(0), session.NoopCounters{}, selfMAC, "test"), reg
}

func encode(t *testing.T, codec *wire.Codec, kind wire.MsgKind, community string, ttl uint8, flags byte, body any) []byte {
	t.Helper()
	encoded, err := wire.EncodeBody(body)
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	out, err := codec.Encode(wire.Message{Header: wire.Header{Kind: kind, TTL: ttl, Flags: flags, Community: community}, Body: encoded})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return out
}

func TestHandle_RegisterProducesAck(t *testing.T) {
	e, reg := testEngine(t)
	codec := wire.NewCodec(registry.KeyResolver{Reg: reg}, nil)
	self := netip.MustParseAddrPort("203.0.113.1:7777")
	from := netip.MustParseAddrPort("198.51.100.10:4444")

	data := encode(t, codec, wire.KindRegister, "alpha", 0, 0, wire.RegisterBody{MAC: [6]byte{1, 2, 3, 4, 5, 6}, Version: "1.0"})

	send := &fakeSender{}
	e.Handle(data, from, self, send, time.Now())

	if len(send.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(send.sent))
	}
	reply, err := codec.Decode(send.sent[0].data)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Header.Kind != wire.KindRegisterAck {
		t.Fatalf("expected REGISTER_ACK, got %s", reply.Header.Kind)
	}
	if send.sent[0].to != from {
		t.Fatalf("expected ack sent back to %s, got %s", from, send.sent[0].to)
	}
}

func TestHandle_PacketUnicastForwardsToKnownEdge(t *testing.T) {
	e, reg := testEngine(t)
	codec := wire.NewCodec(registry.KeyResolver{Reg: reg}, nil)
	self := netip.MustParseAddrPort("203.0.113.1:7777")

	srcSock := netip.MustParseAddrPort("198.51.100.10:4444")
	dstSock := netip.MustParseAddrPort("198.51.100.20:5555")
	srcMAC := [6]byte{1, 1, 1, 1, 1, 1}
	dstMAC := [6]byte{2, 2, 2, 2, 2, 2}

	send := &fakeSender{}
	e.Handle(encode(t, codec, wire.KindRegister, "alpha", 0, 0, wire.RegisterBody{MAC: srcMAC}), srcSock, self, send, time.Now())
	e.Handle(encode(t, codec, wire.KindRegister, "alpha", 0, 0, wire.RegisterBody{MAC: dstMAC}), dstSock, self, send, time.Now())
	send.sent = nil

	pkt := encode(t, codec, wire.KindPacket, "alpha", 8, 0, wire.PacketBody{SrcMAC: srcMAC, DstMAC: dstMAC, Payload: []byte("hi")})
	e.Handle(pkt, srcSock, self, send, time.Now())

	if len(send.sent) != 1 {
		t.Fatalf("expected exactly one forwarded datagram, got %d", len(send.sent))
	}
	if send.sent[0].to != dstSock {
		t.Fatalf("expected forward to %s, got %s", dstSock, send.sent[0].to)
	}
}

func TestHandle_PacketFromUnknownSourceNaks(t *testing.T) {
	e, reg := testEngine(t)
	codec := wire.NewCodec(registry.KeyResolver{Reg: reg}, nil)
	self := netip.MustParseAddrPort("203.0.113.1:7777")
	from := netip.MustParseAddrPort("198.51.100.10:4444")

	// Create the community via a register, but send a PACKET from a
	// different, never-registered MAC.
	knownMAC := [6]byte{3, 3, 3, 3, 3, 3}
	unknownMAC := [6]byte{9, 9, 9, 9, 9, 9}
	send := &fakeSender{}
	e.Handle(encode(t, codec, wire.KindRegister, "alpha", 0, 0, wire.RegisterBody{MAC: knownMAC}), from, self, send, time.Now())
	send.sent = nil

	pkt := encode(t, codec, wire.KindPacket, "alpha", 8, 0, wire.PacketBody{SrcMAC: unknownMAC, DstMAC: knownMAC, Payload: []byte("hi")})
	e.Handle(pkt, from, self, send, time.Now())

	if len(send.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(send.sent))
	}
	reply, err := codec.Decode(send.sent[0].data)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Header.Kind != wire.KindRegisterNak {
		t.Fatalf("expected REGISTER_NAK for unknown source, got %s", reply.Header.Kind)
	}
}

func TestHandle_BroadcastFansOutToOtherLocalEdgesOnly(t *testing.T) {
	e, reg := testEngine(t)
	codec := wire.NewCodec(registry.KeyResolver{Reg: reg}, nil)
	self := netip.MustParseAddrPort("203.0.113.1:7777")

	srcSock := netip.MustParseAddrPort("198.51.100.10:4444")
	peerSock := netip.MustParseAddrPort("198.51.100.20:5555")
	srcMAC := [6]byte{1, 1, 1, 1, 1, 1}
	peerMAC := [6]byte{2, 2, 2, 2, 2, 2}

	send := &fakeSender{}
	e.Handle(encode(t, codec, wire.KindRegister, "alpha", 0, 0, wire.RegisterBody{MAC: srcMAC}), srcSock, self, send, time.Now())
	e.Handle(encode(t, codec, wire.KindRegister, "alpha", 0, 0, wire.RegisterBody{MAC: peerMAC}), peerSock, self, send, time.Now())
	send.sent = nil

	pkt := encode(t, codec, wire.KindPacket, "alpha", 8, 0, wire.PacketBody{SrcMAC: srcMAC, DstMAC: [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, Payload: []byte("hi")})
	e.Handle(pkt, srcSock, self, send, time.Now())

	var toPeer int
	for _, s := range send.sent {
		if s.to == peerSock {
			toPeer++
		}
		if s.to == srcSock {
			t.Fatal("broadcast must not be echoed back to its own sender")
		}
	}
	if toPeer != 1 {
		t.Fatalf("expected broadcast delivered once to the other local edge, got %d", toPeer)
	}
}

func TestSendRegisterSuper_ReachesResolvedAnchor(t *testing.T) {
	e, reg := testEngine(t)
	federation := reg.EnsureFederation()
	anchorSock := netip.MustParseAddrPort("198.51.100.50:7777")
	rec, _ := federation.Edges.Upsert(peer.MAC{}, anchorSock, time.Now())
	rec.DialBack = "anchor.example:7777"
	rec.Purgeable = false

	send := &fakeSender{}
	e.SendRegisterSuper(federation, send)

	if len(send.sent) != 1 {
		t.Fatalf("expected one REGISTER_SUPER sent to the anchor, got %d", len(send.sent))
	}
	if send.sent[0].to != anchorSock {
		t.Fatalf("expected send to %s, got %s", anchorSock, send.sent[0].to)
	}
	codec := wire.NewCodec(registry.KeyResolver{Reg: reg}, nil)
	msg, err := codec.Decode(send.sent[0].data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Header.Kind != wire.KindRegisterSuper {
		t.Fatalf("expected REGISTER_SUPER, got %s", msg.Header.Kind)
	}
}

func TestHandle_RegisterSuperAckRefreshesAnchor(t *testing.T) {
	e, reg := testEngine(t)
	codec := wire.NewCodec(registry.KeyResolver{Reg: reg}, nil)
	federation := reg.EnsureFederation()
	anchorSock := netip.MustParseAddrPort("198.51.100.60:7777")
	rec, _ := federation.Edges.Upsert(peer.MAC{}, anchorSock, time.Time{})
	rec.DialBack = "anchor2.example:7777"
	rec.Purgeable = false

	self := netip.MustParseAddrPort("203.0.113.1:7777")
	ack := wire.RegisterSuperAckBody{SelectionCriterion: 0.42, Edges: []string{"beta"}}
	data := encode(t, codec, wire.KindRegisterSuperAck, federation.Name, 0, 0, ack)

	send := &fakeSender{}
	now := time.Now()
	e.Handle(data, anchorSock, self, send, now)

	got, ok := federation.Edges.GetBySocket(anchorSock)
	if !ok {
		t.Fatal("anchor record vanished")
	}
	if got.SelectionCriterion != 0.42 {
		t.Fatalf("expected selection criterion 0.42, got %v", got.SelectionCriterion)
	}
	if len(got.Communities) != 1 || got.Communities[0] != "beta" {
		t.Fatalf("expected communities [beta], got %v", got.Communities)
	}
	if !got.LastSeen.Equal(now) {
		t.Fatalf("expected last_seen refreshed to %v, got %v", now, got.LastSeen)
	}
}

func TestHandle_UnknownKindIncrementsRxError(t *testing.T) {
	e, reg := testEngine(t)
	codec := wire.NewCodec(registry.KeyResolver{Reg: reg}, nil)
	self := netip.MustParseAddrPort("203.0.113.1:7777")
	from := netip.MustParseAddrPort("198.51.100.10:4444")

	ctr := &countingCounters{}
	e.ctr = ctr

	data := encode(t, codec, wire.MsgKind(99), "alpha", 0, 0, struct{}{})
	send := &fakeSender{}
	e.Handle(data, from, self, send, time.Now())

	if len(send.sent) != 0 {
		t.Fatalf("expected no reply for an unclassifiable kind, got %d", len(send.sent))
	}
	if ctr.rxError != 1 {
		t.Fatalf("expected rx_error incremented once, got %d", ctr.rxError)
	}
}
