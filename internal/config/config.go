// Package config holds the resolved configuration surface the core
// consumes. Parsing -O section.option=value style CLI flags,
// environment loading, and daemonization are explicitly out of core; an
// external front-end is responsible for producing a Core value.
package config

import (
	"fmt"
	"net/netip"
	"time"
)

// HeaderEncryption selects the default header-encryption mode a newly
// created community uses when none is specified in the ACL.
type HeaderEncryption int

const (
	HeaderEncryptionNone HeaderEncryption = iota
	HeaderEncryptionStatic
	HeaderEncryptionUserPassword
)

// Core is the configuration surface the core consumes. It is produced by
// an external loader (CLI/env/file) and passed in by value at startup;
// there is no package-level mutable global anywhere in this module.
type Core struct {
	BindAddress string
	MgmtPort    int
	MgmtPassword string

	FederationName string

	CommunityFile string

	AutoIPPoolMin netip.Prefix
	AutoIPPoolMax netip.Prefix

	RegistrationTTL time.Duration

	SpoofingProtection bool

	HeaderEncryptionDefault HeaderEncryption

	// DefaultStaticKey is the 32-byte community-wide header-encryption
	// key a community adopts under HeaderEncryptionDefault==Static when
	// its ACL entry carries no keyfile of its own. Unused otherwise.
	DefaultStaticKey []byte

	// SnVersionString is advertised in REGISTER_ACK/REGISTER_SUPER_ACK.
	// Must be at most 19 bytes, per the wire format.
	SnVersionString string

	TCPEnabled bool
}

const maxVersionStringLen = 19

// Validate checks the invariants the rest of the core relies on holding
// by construction (bounded version string, well-formed TTL, pool bounds).
func (c Core) Validate() error {
	if len(c.SnVersionString) > maxVersionStringLen {
		return fmt.Errorf("config: sn_version_string exceeds %d bytes", maxVersionStringLen)
	}
	if c.RegistrationTTL <= 0 {
		return fmt.Errorf("config: registration_ttl must be positive")
	}
	if c.MgmtPort <= 0 || c.MgmtPort > 65535 {
		return fmt.Errorf("config: invalid mgmt_port %d", c.MgmtPort)
	}
	if !c.AutoIPPoolMin.IsValid() || !c.AutoIPPoolMax.IsValid() {
		return fmt.Errorf("config: invalid auto-ip pool bounds")
	}
	if c.AutoIPPoolMin.Bits() != c.AutoIPPoolMax.Bits() {
		return fmt.Errorf("config: auto-ip pool bounds must share a prefix length")
	}
	return nil
}

// PurgeInterval is the default tick cadence for the purge sweep: once per
// registration_ttl/4, floored at 10s.
func (c Core) PurgeInterval() time.Duration {
	iv := c.RegistrationTTL / 4
	if iv < 10*time.Second {
		iv = 10 * time.Second
	}
	return iv
}

// DefaultMgmtSlots is the bounded set of concurrent management connections,
// absent an override.
const DefaultMgmtSlots = 5

// DefaultMgmtIdleTimeout tears down an idle management connection.
const DefaultMgmtIdleTimeout = 30 * time.Second
