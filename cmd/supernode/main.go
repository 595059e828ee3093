// Command supernode is the thin entry point: it resolves config.Core
// from CLI flags, wires the core components together, and runs the
// event loop until a signal arrives. Parsing, daemonization, and
// environment loading intentionally live here and nowhere deeper: an
// external front-end is responsible for producing a Core value.
package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Logan007/n3n/internal/acl"
	"github.com/Logan007/n3n/internal/config"
	"github.com/Logan007/n3n/internal/corelog"
	"github.com/Logan007/n3n/internal/dispatch"
	"github.com/Logan007/n3n/internal/loop"
	"github.com/Logan007/n3n/internal/mgmt"
	"github.com/Logan007/n3n/internal/metrics"
	"github.com/Logan007/n3n/internal/peer"
	"github.com/Logan007/n3n/internal/registry"
	"github.com/Logan007/n3n/internal/session"
	"github.com/Logan007/n3n/internal/transport"
	"github.com/Logan007/n3n/internal/wire"
	wirecrypto "github.com/Logan007/n3n/internal/wire/crypto"
)

const buildDate = "dev"

type anchorFlags []string

func (a *anchorFlags) String() string     { return strings.Join(*a, ",") }
func (a *anchorFlags) Set(v string) error { *a = append(*a, v); return nil }

func main() {
	var (
		bindAddress    = flag.String("bind", "0.0.0.0", "UDP/TCP bind address")
		port           = flag.Int("port", 7777, "main UDP datapath port")
		mgmtPort       = flag.Int("mgmt-port", 5645, "management API TCP port")
		mgmtPassword   = flag.String("mgmt-password", "", "management API password")
		federationName = flag.String("federation-name", "*supernodes", "federation community name")
		communityFile  = flag.String("community-file", "", "path to the community ACL file (empty = open mode)")
		poolMin        = flag.String("auto-ip-pool-min", "10.10.0.0/16", "lower bound of the auto-IP pool")
		poolMax        = flag.String("auto-ip-pool-max", "10.10.255.0/16", "upper bound of the auto-IP pool")
		ttl            = flag.Duration("registration-ttl", 60*time.Second, "edge registration TTL")
		spoofing       = flag.Bool("spoofing-protection", true, "deny a MAC re-registering under a different community")
		versionString  = flag.String("sn-version-string", "n3n-supernode", "advertised version string, max 19 bytes")
		tcpEnabled     = flag.Bool("tcp-enabled", true, "enable the aux TCP datapath fallback")
		verbose        = flag.Int("verbose", 0, "initial trace level")
		federationTTLx = flag.Int("federation-ttl-multiplier", 3, "federation peer TTL as a multiple of registration-ttl")
		headerEncMode  = flag.String("header-encryption-default", "none", "header encryption a community adopts absent its own ACL keyfile: none|static|user-password")
		communityKey   = flag.String("community-key", "", "shared passphrase for header-encryption-default=static communities")
	)
	var anchors anchorFlags
	flag.Var(&anchors, "anchor", "host:port of a federated supernode anchor (repeatable)")
	flag.Parse()

	log := corelog.NewStdLogger(int32(*verbose))

	poolMinPrefix, err := netip.ParsePrefix(*poolMin)
	if err != nil {
		log.Errorf("invalid auto-ip-pool-min: %v", err)
		os.Exit(1)
	}
	poolMaxPrefix, err := netip.ParsePrefix(*poolMax)
	if err != nil {
		log.Errorf("invalid auto-ip-pool-max: %v", err)
		os.Exit(1)
	}
	defaultMode, err := parseHeaderEncryption(*headerEncMode)
	if err != nil {
		log.Errorf("invalid header-encryption-default: %v", err)
		os.Exit(1)
	}

	cfg := config.Core{
		BindAddress:             *bindAddress,
		MgmtPort:                *mgmtPort,
		MgmtPassword:            *mgmtPassword,
		FederationName:          *federationName,
		CommunityFile:           *communityFile,
		AutoIPPoolMin:           poolMinPrefix,
		AutoIPPoolMax:           poolMaxPrefix,
		RegistrationTTL:         *ttl,
		SpoofingProtection:      *spoofing,
		HeaderEncryptionDefault: defaultMode,
		SnVersionString:         *versionString,
		TCPEnabled:              *tcpEnabled,
	}
	if defaultMode == config.HeaderEncryptionStatic && *communityKey != "" {
		key := sha256.Sum256([]byte(*communityKey))
		cfg.DefaultStaticKey = key[:]
	}
	if err := cfg.Validate(); err != nil {
		log.Errorf("config: %v", err)
		os.Exit(1)
	}

	var communityACL *acl.ACL
	if cfg.CommunityFile != "" {
		communityACL, err = acl.Load(cfg.CommunityFile)
		if err != nil {
			log.Errorf("acl: %v", err)
			os.Exit(1)
		}
	}

	reg := registry.NewFromPool(communityACL, cfg.AutoIPPoolMin, cfg.AutoIPPoolMax, cfg.FederationName)
	reg.SetSupernodeKey(supernodePrivateKey(log))
	reg.SetDefaultHeaderEncryption(wire.HeaderEncMode(cfg.HeaderEncryptionDefault), cfg.DefaultStaticKey)
	reg.PreloadACL()
	reg.EnsureFederation()

	broker := mgmt.NewBroker()
	promReg := prometheus.NewRegistry()
	counters := metrics.New(promReg)

	sess := session.NewEngine(cfg, reg, log, broker, counters)

	selfMAC := generateSelfMAC(log)
	codec := wire.NewCodec(registry.KeyResolver{Reg: reg}, wirecrypto.NewAEADSealer())
	dispatchEngine := dispatch.New(reg, sess, codec, log, counters, selfMAC, cfg.SnVersionString)

	udpSock, err := transport.ListenUDP(cfg.BindAddress, *port)
	if err != nil {
		log.Errorf("udp listen: %v", err)
		os.Exit(1)
	}
	var auxTCP *transport.TCPSock
	if cfg.TCPEnabled {
		auxTCP, err = transport.ListenTCP(cfg.BindAddress, *port)
		if err != nil {
			log.Errorf("aux tcp listen: %v", err)
			os.Exit(1)
		}
	}

	now := time.Now()
	federation := reg.EnsureFederation()
	sess.InstallAnchors(federation, parseAnchors(anchors), now)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lp := &loop.Loop{
		UDP:                     udpSock,
		AuxTCP:                  auxTCP,
		Dispatch:                dispatchEngine,
		Sess:                    sess,
		Reg:                     reg,
		Log:                     log,
		PurgeEvery:              cfg.PurgeInterval(),
		FederationTTLMultiplier: *federationTTLx,
	}

	mgmtSrv := &mgmt.Server{
		Cfg:          cfg,
		Reg:          reg,
		Log:          log,
		Counters:     counters,
		Broker:       broker,
		Stop:         cancel,
		PromGatherer: promReg,
		SelfSocket:   udpSock.LocalAddr(),
		SelfMAC:      selfMAC,
		BuildDate:    buildDate,
		StartedAt:    now,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- lp.Run(ctx) }()
	go func() { errCh <- mgmtSrv.ListenAndServe(ctx) }()

	log.Printf("supernode listening udp=%s mgmt=%d federation=%s", udpSock.LocalAddr(), cfg.MgmtPort, cfg.FederationName)

	<-ctx.Done()
	log.Printf("shutting down")
	_ = udpSock.Close()
	if auxTCP != nil {
		_ = auxTCP.Close()
	}
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}
}

func parseAnchors(raw anchorFlags) []session.Anchor {
	out := make([]session.Anchor, 0, len(raw))
	for _, a := range raw {
		out = append(out, session.Anchor{DialBack: a})
	}
	return out
}

func parseHeaderEncryption(s string) (config.HeaderEncryption, error) {
	switch s {
	case "none", "":
		return config.HeaderEncryptionNone, nil
	case "static":
		return config.HeaderEncryptionStatic, nil
	case "user-password":
		return config.HeaderEncryptionUserPassword, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// generateSelfMAC picks a random locally-administered unicast MAC to
// identify this supernode in REGISTER_SUPER messages it sends to its
// anchors. Locally-administered (bit 1 of the first octet set) and
// unicast (bit 0 clear) avoids colliding with any real NIC address.
func generateSelfMAC(log corelog.Logger) peer.MAC {
	var mac peer.MAC
	if _, err := rand.Read(mac[:]); err != nil {
		log.Errorf("generating self MAC: %v", err)
	}
	mac[0] = (mac[0] &^ 0x01) | 0x02
	return mac
}

// supernodePrivateKey returns this process's X25519 private key, used to
// derive per-user header-encryption keys (internal/wire/crypto). A real
// deployment persists this across restarts so edges don't need a fresh
// public key exchange; generating one per process start is a deliberate
// simplification since persistent key storage is out of scope here.
func supernodePrivateKey(log corelog.Logger) [32]byte {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		log.Errorf("generating supernode key: %v", err)
	}
	return priv
}
