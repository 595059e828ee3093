// Package wire implements the overlay datagram codec: a common header
// followed by a message-type-specific body. The codec is pure and
// stateless given a KeyResolver.
package wire

// MsgKind tags the message-type-specific body that follows the common
// header.
type MsgKind byte

const (
	KindRegister MsgKind = iota + 1
	KindRegisterAck
	KindRegisterNak
	KindRegisterSuper
	KindRegisterSuperAck
	KindRegisterSuperNak
	KindUnregisterSuper
	KindPacket
	KindQueryPeer
	KindPeerInfo
	KindFederationInfo
)

func (k MsgKind) String() string {
	switch k {
	case KindRegister:
		return "REGISTER"
	case KindRegisterAck:
		return "REGISTER_ACK"
	case KindRegisterNak:
		return "REGISTER_NAK"
	case KindRegisterSuper:
		return "REGISTER_SUPER"
	case KindRegisterSuperAck:
		return "REGISTER_SUPER_ACK"
	case KindRegisterSuperNak:
		return "REGISTER_SUPER_NAK"
	case KindUnregisterSuper:
		return "UNREGISTER_SUPER"
	case KindPacket:
		return "PACKET"
	case KindQueryPeer:
		return "QUERY_PEER"
	case KindPeerInfo:
		return "PEER_INFO"
	case KindFederationInfo:
		return "FEDERATION_INFO"
	default:
		return "UNKNOWN"
	}
}

// HeaderEncMode is the per-community header protection scheme.
type HeaderEncMode byte

const (
	HeaderEncNone HeaderEncMode = iota
	HeaderEncStatic
	HeaderEncUserPassword
)

// NakReason enumerates the REGISTER_NAK / REGISTER_SUPER_NAK reasons the
// session engine emits.
type NakReason string

const (
	NakAuth      NakReason = "AUTH"
	NakCommunity NakReason = "COMMUNITY"
	NakMACInUse  NakReason = "MAC_IN_USE"
)

const (
	magicByte   byte = 0x37
	versionByte byte = 0x01

	// CommunityNameLen is the fixed, null-padded width of the community
	// name field in the common header. A name of exactly this length is
	// accepted; one byte longer is rejected.
	CommunityNameLen = 16

	macLen = 6

	// headerLen is magic(1) + version(1) + kind(1) + ttl(1) + flags(1) +
	// community(16).
	headerLen = 1 + 1 + 1 + 1 + 1 + CommunityNameLen
)

// Flag bits carried in the header's flags byte.
const (
	FlagNoRebroadcast byte = 1 << iota // suppresses supernode-to-supernode re-broadcast of a fanned-out PACKET
)

// Header is the common header every overlay datagram carries.
type Header struct {
	Kind      MsgKind
	TTL       uint8
	Flags     byte
	Community string // logical name, un-padded
}

// Message is a fully decoded datagram: header plus opaque body bytes. The
// dispatch engine interprets Body according to Kind.
type Message struct {
	Header   Header
	Body     []byte
	Identity string // AuthenticatedIdentity, set for user-password mode
}
