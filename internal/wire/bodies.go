package wire

import (
	"encoding/json"
	"fmt"
)

// Message bodies. The common header (magic, version, kind, TTL, flags,
// community) is the only fixed wire-level format; each message kind's
// body is message-type-specific by design. This implementation
// serializes bodies as JSON rather than hand-rolled binary structs: it
// keeps every body type self-describing and versionable without a
// parallel binary-layout spec, at the cost of a few extra bytes per
// datagram that this overlay's control-plane traffic (registration,
// keepalive, small queries) never needs to optimize away.

// RegisterBody is the REGISTER message body (edge -> supernode).
type RegisterBody struct {
	MAC       [6]byte `json:"mac"`
	PublicKey []byte  `json:"public_key,omitempty"`
	Version   string  `json:"version"`
}

// RegisterAckBody is the REGISTER_ACK reply.
type RegisterAckBody struct {
	AssignedIP       string `json:"assigned_ip"`
	ObservedSocket   string `json:"observed_socket"`
	FederationCookie string `json:"federation_cookie,omitempty"`
	Version          string `json:"version"`
}

// RegisterNakBody is the REGISTER_NAK reply.
type RegisterNakBody struct {
	Reason NakReason `json:"reason"`
}

// RegisterSuperBody is the REGISTER_SUPER message body (supernode ->
// supernode peering).
type RegisterSuperBody struct {
	MAC     [6]byte  `json:"mac"`
	Version string   `json:"version"`
	Edges   []string `json:"communities,omitempty"` // community names this supernode locally serves
}

// RegisterSuperAckBody is the REGISTER_SUPER_ACK reply, carrying the
// replying supernode's selection criterion (the scalar edges use to
// choose among candidate supernodes).
type RegisterSuperAckBody struct {
	SelectionCriterion float64  `json:"selection_criterion"`
	Edges              []string `json:"communities,omitempty"`
}

// RegisterSuperNakBody is the REGISTER_SUPER_NAK reply.
type RegisterSuperNakBody struct {
	Reason NakReason `json:"reason"`
}

// PacketBody is the PACKET message body: the payload itself is opaque
// to the supernode, but the Ethernet source/destination the
// dispatch engine needs for its forwarding decision travels alongside it
// rather than inside it, since the codec never parses payload bytes.
type PacketBody struct {
	SrcMAC  [6]byte `json:"src_mac"`
	DstMAC  [6]byte `json:"dst_mac"`
	Payload []byte  `json:"payload"`
}

// QueryPeerBody is the QUERY_PEER request body.
type QueryPeerBody struct {
	MAC [6]byte `json:"mac"`
}

// PeerInfoBody is the PEER_INFO reply body.
type PeerInfoBody struct {
	MAC    [6]byte `json:"mac"`
	Socket string  `json:"socket"`
}

// FederationInfoBody propagates a supernode's local community list during
// federation peering.
type FederationInfoBody struct {
	Communities []string `json:"communities"`
}

// EncodeBody marshals v as a message body.
func EncodeBody(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode body: %w", err)
	}
	return b, nil
}

// DecodeBody unmarshals data into v.
func DecodeBody(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: decode body: %w", err)
	}
	return nil
}
