package wire

import (
	"bytes"
	"fmt"

	"github.com/Logan007/n3n/internal/coreerr"
)

// KeyResolver supplies the key material the codec needs to authenticate or
// encrypt a header for a given community. It is the seam between the pure
// codec and the community registry's key material: the codec is pure and
// stateless given a key resolver.
type KeyResolver interface {
	// Mode returns the header-encryption mode configured for community.
	// ok is false if community is not known to the resolver at all (the
	// codec then reports ErrUnknownCommunity).
	Mode(community string) (HeaderEncMode, bool)

	// StaticKey returns the community-wide key for HeaderEncStatic mode.
	StaticKey(community string) ([]byte, bool)

	// UserKeys returns the set of per-username derived keys to try, in a
	// fixed order, for HeaderEncUserPassword mode. The returned slice
	// pairs a username with its derived key.
	UserKeys(community string) []UserKey

	// Candidates enumerates every (community, key) pair currently known
	// to the resolver whose community uses header encryption (static or
	// user-password), in a fixed try order. The community name is
	// encrypted along with the rest of the header in those modes, so
	// Decode cannot look a community up by its cleartext bytes; instead
	// it tries each candidate key against the sealed header and takes
	// the community name from whichever one successfully authenticates.
	Candidates() []Candidate
}

// UserKey pairs a username with its derived per-user header key.
type UserKey struct {
	Username string
	Key      []byte
}

// Candidate is one key Decode can try against a sealed header. Username
// is empty for a community-wide static key.
type Candidate struct {
	Community string
	Username  string
	Key       []byte
}

// Sealer performs the actual header encryption/decryption for a given
// mode. Implementations live in the wire/crypto subpackage; this
// indirection keeps the codec free of any concrete cipher dependency.
type Sealer interface {
	// Seal encrypts header bytes (everything after the magic/version
	// prefix) with key, returning the sealed header
	// (nonce+ciphertext+tag) as a new slice.
	Seal(key []byte, header []byte) ([]byte, error)
	// Open decrypts a sealed blob at the start of data with key, returning
	// the cleartext header bytes and the number of leading bytes of data
	// it consumed. An error means authentication failed.
	Open(key []byte, data []byte) (cleartext []byte, consumed int, err error)
}

// Codec encodes and decodes overlay datagrams. It holds no per-connection
// state; every call is independent, satisfying Decode(Encode(m)) == m
// for any message that round-trips through a given key resolver.
type Codec struct {
	keys   KeyResolver
	seal   Sealer
}

// NewCodec builds a Codec. seal may be nil if every community the resolver
// reports uses HeaderEncNone (useful for tests).
func NewCodec(keys KeyResolver, seal Sealer) *Codec {
	return &Codec{keys: keys, seal: seal}
}

func padCommunity(name string) ([CommunityNameLen]byte, error) {
	var out [CommunityNameLen]byte
	if len(name) > CommunityNameLen {
		return out, fmt.Errorf("community name %q exceeds %d bytes", name, CommunityNameLen)
	}
	copy(out[:], name)
	return out, nil
}

func unpadCommunity(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return string(b)
	}
	return string(b[:i])
}

// Encode serializes msg into wire bytes, applying header encryption per
// the community's configured mode.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	community, err := padCommunity(msg.Header.Community)
	if err != nil {
		return nil, coreerr.NewWireError(err)
	}

	header := make([]byte, headerLen)
	header[0] = magicByte
	header[1] = versionByte
	header[2] = byte(msg.Header.Kind)
	header[3] = msg.Header.TTL
	header[4] = msg.Header.Flags
	copy(header[5:], community[:])

	mode, known := c.keys.Mode(msg.Header.Community)
	if !known {
		mode = HeaderEncNone
	}

	switch mode {
	case HeaderEncNone:
		// clear
	case HeaderEncStatic:
		key, ok := c.keys.StaticKey(msg.Header.Community)
		if !ok || c.seal == nil {
			return nil, coreerr.NewWireError(fmt.Errorf("static key unavailable for %q", msg.Header.Community))
		}
		sealed, sErr := c.seal.Seal(key, header[2:])
		if sErr != nil {
			return nil, coreerr.NewWireError(sErr)
		}
		header = append(header[:2], sealed...)
	case HeaderEncUserPassword:
		keys := c.keys.UserKeys(msg.Header.Community)
		if len(keys) == 0 || c.seal == nil {
			return nil, coreerr.NewWireError(fmt.Errorf("no user keys for %q", msg.Header.Community))
		}
		// Encode with the first identity's key in the resolver's
		// order; msg.Identity (the user whose key decrypted an inbound
		// request) is not consulted.
		sealed, sErr := c.seal.Seal(keys[0].Key, header[2:])
		if sErr != nil {
			return nil, coreerr.NewWireError(sErr)
		}
		header = append(header[:2], sealed...)
	}

	out := make([]byte, 0, len(header)+len(msg.Body))
	out = append(out, header...)
	out = append(out, msg.Body...)
	return out, nil
}

// Decode parses wire bytes into a Message. The community name is itself
// part of the sealed header in static/user-password mode, so it cannot
// be read before decryption: Decode first tries every candidate key the
// resolver knows of against the sealed header, and only once none of
// them authenticate does it fall back to interpreting the header as
// clear (valid only if the cleartext community name actually resolves
// to HeaderEncNone). AuthFailure is returned if no key in the fixed try
// order decrypts a valid magic and the cleartext fallback doesn't apply.
func (c *Codec) Decode(data []byte) (Message, error) {
	if len(data) < headerLen {
		return Message{}, coreerr.NewWireError(fmt.Errorf("%w: have %d bytes, need %d", coreerr.ErrTruncated, len(data), headerLen))
	}
	if data[0] != magicByte || data[1] != versionByte {
		return Message{}, coreerr.NewWireError(fmt.Errorf("%w: magic=%x version=%x", coreerr.ErrUnknownMagic, data[0], data[1]))
	}

	if c.seal != nil {
		for _, cand := range c.keys.Candidates() {
			open, rest, err := c.tryOpen(cand.Key, data)
			if err != nil {
				continue
			}
			return Message{
				Header: Header{
					Kind:      open.kind,
					TTL:       open.ttl,
					Flags:     open.flags,
					Community: open.community,
				},
				Body:     rest,
				Identity: cand.Username,
			}, nil
		}
	}

	community := unpadCommunity(data[5:headerLen])
	mode, known := c.keys.Mode(community)
	if !known {
		return Message{}, coreerr.NewWireError(fmt.Errorf("%w: %q", coreerr.ErrUnknownCommunity, community))
	}
	if mode != HeaderEncNone {
		// This community requires header encryption but no candidate key
		// authenticated the sealed header above.
		return Message{}, coreerr.NewAuthError(string(NakAuth))
	}

	return Message{
		Header: Header{
			Kind:      MsgKind(data[2]),
			TTL:       data[3],
			Flags:     data[4],
			Community: community,
		},
		Body: data[headerLen:],
	}, nil
}

type openHeader struct {
	kind      MsgKind
	ttl       uint8
	flags     byte
	community string
}

// tryOpen decrypts the sealed header at the start of data[2:] (everything
// after the magic/version prefix) with key, returning the parsed
// cleartext header fields (including the community name, itself part of
// the sealed plaintext) and the remaining body bytes.
func (c *Codec) tryOpen(key []byte, data []byte) (*openHeader, []byte, error) {
	sealed := data[2:]
	clear, consumed, err := c.seal.Open(key, sealed)
	if err != nil {
		return nil, nil, err
	}
	if len(clear) < 3+CommunityNameLen {
		return nil, nil, fmt.Errorf("decrypted header too short")
	}
	h := &openHeader{
		kind:      MsgKind(clear[0]),
		ttl:       clear[1],
		flags:     clear[2],
		community: unpadCommunity(clear[3 : 3+CommunityNameLen]),
	}
	body := sealed[consumed:]
	return h, body, nil
}
