package acl

import (
	"encoding/base64"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Logan007/n3n/internal/wire"
)

// keyfileDoc is the YAML shape of a community's optional per-user
// public-key table, or a single community-wide static key:
//
// users:
//
//	alice: <base64 x25519 public key>
//	bob: <base64 x25519 public key>
//
// static_key: <base64 32-byte shared key>
//
// A keyfile carries one or the other, never both: users selects
// HeaderEncUserPassword (each key derived via DH against the
// supernode's own key), static_key selects HeaderEncStatic (the raw
// key is shared out-of-band with every edge in the community).
type keyfileDoc struct {
	Users     map[string]string `yaml:"users"`
	StaticKey string            `yaml:"static_key"`
}

func loadKeyFile(path string) ([]wire.UserKey, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("keyfile %s: %w", path, err)
	}
	var doc keyfileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("keyfile %s: %w", path, err)
	}

	if doc.StaticKey != "" {
		key, err := base64.StdEncoding.DecodeString(doc.StaticKey)
		if err != nil {
			return nil, nil, fmt.Errorf("keyfile %s: invalid base64 static_key: %w", path, err)
		}
		if len(key) != 32 {
			return nil, nil, fmt.Errorf("keyfile %s: static_key must be 32 bytes, got %d", path, len(key))
		}
		return nil, key, nil
	}

	usernames := make([]string, 0, len(doc.Users))
	for user := range doc.Users {
		usernames = append(usernames, user)
	}
	sort.Strings(usernames) // fixed try-order regardless of map iteration

	keys := make([]wire.UserKey, 0, len(usernames))
	for _, user := range usernames {
		key, err := base64.StdEncoding.DecodeString(doc.Users[user])
		if err != nil {
			return nil, nil, fmt.Errorf("keyfile %s: user %q: invalid base64 key: %w", path, user, err)
		}
		if len(key) != 32 {
			return nil, nil, fmt.Errorf("keyfile %s: user %q: key must be 32 bytes, got %d", path, user, len(key))
		}
		keys = append(keys, wire.UserKey{Username: user, Key: key})
	}
	return keys, nil, nil
}
