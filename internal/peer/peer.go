// Package peer implements the dual-indexed peer record table: records
// looked up by MAC or, for the zero-MAC case, by last-observed socket.
package peer

import (
	"net/netip"
	"time"
)

// Transport tags which socket family a peer is reachable over.
type Transport byte

const (
	TransportUDP Transport = iota
	TransportTCP
)

// MAC is a fixed-size 6-byte Ethernet address.
type MAC [6]byte

// IsZero reports whether m is the null MAC (find-or-insert falls back
// to looking up by socket when MAC is zero).
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// Broadcast is the all-ones MAC, never a valid unicast destination.
var Broadcast = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IsBroadcast reports whether m is the broadcast address.
func (m MAC) IsBroadcast() bool { return m == Broadcast }

// IsMulticast reports whether m carries the multicast bit.
func (m MAC) IsMulticast() bool { return m[0]&0x01 == 1 }

// Record is a single peer's state. It belongs to exactly one owning
// Table.
type Record struct {
	MAC MAC

	// Socket is the last-observed public socket for this peer.
	Socket netip.AddrPort
	// Transport tags which path (UDP/TCP) Socket is reachable over.
	Transport Transport
	// TCPHandle is the live accepted connection backing Transport==TransportTCP.
	// nil for UDP peers or an anchor awaiting (re)resolution.
	TCPHandle any

	// DialBack is an optional textual host:port used to (re)initiate
	// contact with this peer (federation anchors).
	DialBack string

	// PublicKey is the peer's optional 128-bit public key identity.
	PublicKey []byte

	AutoIP netip.Addr

	LastSeen       time.Time
	LastP2P        time.Time
	LastSentQuery  time.Time
	UptimeAtReg    time.Time

	Version string // ≤19 bytes

	// Purgeable marks whether the purge sweep may remove this record.
	// Federated anchors are never purgeable.
	Purgeable bool

	// SelectionCriterion is the RTT/load scalar advertised by a
	// federated supernode, used by edges to choose among supernodes.
	SelectionCriterion float64

	// Communities is set only on federation-community records: the
	// community names this remote supernode last advertised serving
	// locally, used by the dispatch engine to decide which federation
	// peers a broadcast needs to be relayed to.
	Communities []string
}
