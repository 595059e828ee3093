package wire_test

import (
	"bytes"
	"sort"
	"testing"

	"github.com/Logan007/n3n/internal/wire"
	wirecrypto "github.com/Logan007/n3n/internal/wire/crypto"
)

type fakeResolver struct {
	modes      map[string]wire.HeaderEncMode
	staticKeys map[string][]byte
	userKeys   map[string][]wire.UserKey
}

func (f *fakeResolver) Mode(community string) (wire.HeaderEncMode, bool) {
	m, ok := f.modes[community]
	return m, ok
}

func (f *fakeResolver) StaticKey(community string) ([]byte, bool) {
	k, ok := f.staticKeys[community]
	return k, ok
}

func (f *fakeResolver) UserKeys(community string) []wire.UserKey {
	return f.userKeys[community]
}

func (f *fakeResolver) Candidates() []wire.Candidate {
	names := make([]string, 0, len(f.modes))
	for name := range f.modes {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []wire.Candidate
	for _, name := range names {
		switch f.modes[name] {
		case wire.HeaderEncStatic:
			if k, ok := f.staticKeys[name]; ok {
				out = append(out, wire.Candidate{Community: name, Key: k})
			}
		case wire.HeaderEncUserPassword:
			for _, uk := range f.userKeys[name] {
				out = append(out, wire.Candidate{Community: name, Username: uk.Username, Key: uk.Key})
			}
		}
	}
	return out
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		modes:      map[string]wire.HeaderEncMode{},
		staticKeys: map[string][]byte{},
		userKeys:   map[string][]wire.UserKey{},
	}
}

func mustKey(b byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestCodecRoundTrip_NoEncryption(t *testing.T) {
	r := newFakeResolver()
	r.modes["alpha"] = wire.HeaderEncNone
	codec := wire.NewCodec(r, nil)

	msg := wire.Message{
		Header: wire.Header{Kind: wire.KindPacket, TTL: 5, Flags: wire.FlagNoRebroadcast, Community: "alpha"},
		Body:   []byte("hello world"),
	}

	encoded, err := codec.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Header.Kind != msg.Header.Kind || decoded.Header.TTL != msg.Header.TTL ||
		decoded.Header.Flags != msg.Header.Flags || decoded.Header.Community != msg.Header.Community {
		t.Fatalf("header mismatch: got %+v want %+v", decoded.Header, msg.Header)
	}
	if !bytes.Equal(decoded.Body, msg.Body) {
		t.Fatalf("body mismatch: got %q want %q", decoded.Body, msg.Body)
	}
}

func TestCodecRoundTrip_StaticKey(t *testing.T) {
	r := newFakeResolver()
	r.modes["beta"] = wire.HeaderEncStatic
	r.staticKeys["beta"] = mustKey(0x42)
	codec := wire.NewCodec(r, wirecrypto.NewAEADSealer())

	msg := wire.Message{
		Header: wire.Header{Kind: wire.KindRegister, TTL: 1, Community: "beta"},
		Body:   []byte{0xAA, 0xBB, 0xCC},
	}

	encoded, err := codec.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Header.Kind != msg.Header.Kind || decoded.Header.Community != msg.Header.Community {
		t.Fatalf("header mismatch: got %+v want %+v", decoded.Header, msg.Header)
	}
	if !bytes.Equal(decoded.Body, msg.Body) {
		t.Fatalf("body mismatch: got %v want %v", decoded.Body, msg.Body)
	}
}

func TestCodecRoundTrip_UserPassword_ResolvesIdentity(t *testing.T) {
	r := newFakeResolver()
	r.modes["gamma"] = wire.HeaderEncUserPassword
	r.userKeys["gamma"] = []wire.UserKey{
		{Username: "alice", Key: mustKey(0x01)},
		{Username: "bob", Key: mustKey(0x02)},
	}
	codec := wire.NewCodec(r, wirecrypto.NewAEADSealer())

	msg := wire.Message{
		Header: wire.Header{Kind: wire.KindQueryPeer, Community: "gamma"},
		Body:   []byte("q"),
	}
	encoded, err := codec.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Identity != "alice" {
		t.Fatalf("expected identity alice (first key tried), got %q", decoded.Identity)
	}
}

func TestDecode_UnknownMagic(t *testing.T) {
	r := newFakeResolver()
	codec := wire.NewCodec(r, nil)
	_, err := codec.Decode(bytes.Repeat([]byte{0xFF}, 32))
	if err == nil {
		t.Fatal("expected error for unknown magic")
	}
}

func TestDecode_Truncated(t *testing.T) {
	r := newFakeResolver()
	codec := wire.NewCodec(r, nil)
	_, err := codec.Decode([]byte{0x37, 0x01})
	if err == nil {
		t.Fatal("expected truncated error")
	}
}

func TestDecode_UnknownCommunity(t *testing.T) {
	r := newFakeResolver()
	codec := wire.NewCodec(r, nil)
	msg := wire.Message{Header: wire.Header{Kind: wire.KindPacket, Community: "nope"}}
	// Encoding with an unknown community defaults to clear mode, so build
	// bytes by hand isn't needed: remove it from the resolver for decode.
	encoded, _ := codec.Encode(msg)
	_, err := codec.Decode(encoded)
	if err == nil {
		t.Fatal("expected unknown community error")
	}
}

func TestCommunityNameBoundary(t *testing.T) {
	r := newFakeResolver()
	r.modes[string(bytes.Repeat([]byte("a"), wire.CommunityNameLen))] = wire.HeaderEncNone
	codec := wire.NewCodec(r, nil)

	maxName := string(bytes.Repeat([]byte("a"), wire.CommunityNameLen))
	_, err := codec.Encode(wire.Message{Header: wire.Header{Kind: wire.KindPacket, Community: maxName}})
	if err != nil {
		t.Fatalf("max-length community name should be accepted: %v", err)
	}

	tooLong := maxName + "x"
	_, err = codec.Encode(wire.Message{Header: wire.Header{Kind: wire.KindPacket, Community: tooLong}})
	if err == nil {
		t.Fatal("expected rejection of over-length community name")
	}
}
