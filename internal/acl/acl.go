// Package acl parses the community ACL file and the per-community
// public-key table side-file it can reference.
package acl

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/Logan007/n3n/internal/wire"
)

// Entry is one ACL line: a community name, optionally paired with a path
// to a public-keys file, or "*" for an explicitly open community.
type Entry struct {
	Name      string
	Open      bool // "*" form
	KeyFile   string
	UserKeys  []wire.UserKey // populated by loading KeyFile, if it held a users: table
	StaticKey []byte         // populated by loading KeyFile, if it held a static_key: entry
}

// ACL is the parsed, in-memory community access list. Open mode has two
// forms: a nil *ACL (no ACL file configured) and the ACL that Load
// returns for a path that does not exist. Open reports true for both.
type ACL struct {
	entries map[string]*Entry
	open    bool // true if the ACL file itself was absent
}

// Load parses path. Comment lines start with '#'; blank lines are
// ignored. Each non-comment line is one of:
//
//	<community_name>
//	<community_name>  <path_to_public_keys>
//	<community_name>  *
//
// Reload must be atomic: on parse error the caller's existing in-memory
// ACL is retained. Load itself is pure and returns an error without
// touching any existing state; Registry.ReloadACL enforces the
// atomicity.
func Load(path string) (*ACL, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &ACL{entries: map[string]*Entry{}, open: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acl: open %s: %w", path, err)
	}
	defer f.Close()

	a := &ACL{entries: map[string]*Entry{}}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if len(name) > wire.CommunityNameLen {
			return nil, fmt.Errorf("acl: line %d: community name %q exceeds %d bytes", lineNo, name, wire.CommunityNameLen)
		}
		entry := &Entry{Name: name}
		if len(fields) >= 2 {
			if fields[1] == "*" {
				entry.Open = true
			} else {
				entry.KeyFile = fields[1]
				keys, staticKey, err := loadKeyFile(fields[1])
				if err != nil {
					return nil, fmt.Errorf("acl: line %d: %w", lineNo, err)
				}
				entry.UserKeys = keys
				entry.StaticKey = staticKey
			}
		}
		a.entries[name] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("acl: scan %s: %w", path, err)
	}
	return a, nil
}

// Open reports whether this ACL represents the permissive "file absent"
// mode.
func (a *ACL) Open() bool {
	return a == nil || a.open
}

// Entries returns every explicitly listed entry, for preloading
// user-password communities into the registry at startup so their
// header-encryption key material is known before the first REGISTER
// arrives.
func (a *ACL) Entries() []*Entry {
	if a == nil {
		return nil
	}
	out := make([]*Entry, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e)
	}
	return out
}

// Lookup reports whether name is explicitly listed.
func (a *ACL) Lookup(name string) (*Entry, bool) {
	if a == nil {
		return nil, false
	}
	e, ok := a.entries[name]
	return e, ok
}
