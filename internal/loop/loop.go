// Package loop wires the transports, dispatch engine, and tick scheduler
// into one cancellable lifetime. One goroutine per listening descriptor
// feeds a single-consumer dispatch goroutine over buffered channels,
// supervised by golang.org/x/sync/errgroup: all peer-table and
// community mutation happens on that one dispatch goroutine, except that
// the management API's reload_communities updates community joinability
// from its own goroutine under the registry lock. The Go runtime's
// netpoller does the readiness multiplexing.
package loop

import (
	"context"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Logan007/n3n/internal/corelog"
	"github.com/Logan007/n3n/internal/dispatch"
	"github.com/Logan007/n3n/internal/registry"
	"github.com/Logan007/n3n/internal/session"
	"github.com/Logan007/n3n/internal/transport"
)

const inboundQueueDepth = 256

type inbound struct {
	data []byte
	from netip.AddrPort
	send dispatch.Sender
}

// Loop owns the listening descriptors (main UDP socket, optional aux TCP,
// management listener lives separately) and the tick scheduler; Run
// blocks until ctx is cancelled or a listener fails fatally.
type Loop struct {
	UDP        *transport.UDPSocket
	AuxTCP     *transport.TCPSock // nil if aux TCP datapath disabled
	Dispatch   *dispatch.Engine
	Sess       *session.Engine
	Reg        *registry.Registry
	Log        corelog.Logger
	PurgeEvery time.Duration

	FederationTTLMultiplier int
}

// Run starts the reader/acceptor/scheduler goroutines under an errgroup
// and the single dispatch consumer, blocking until ctx is done or any
// goroutine returns a fatal error.
func (l *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	queue := make(chan inbound, inboundQueueDepth)

	g.Go(func() error { return l.readUDP(ctx, queue) })
	if l.AuxTCP != nil {
		g.Go(func() error { return l.acceptAuxTCP(ctx, queue) })
	}
	g.Go(func() error { return l.tickScheduler(ctx) })
	g.Go(func() error { return l.consume(ctx, queue) })

	return g.Wait()
}

func (l *Loop) readUDP(ctx context.Context, queue chan<- inbound) error {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := l.UDP.RecvFrom(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.Log.Errorf("udp recv: %v", err)
			return err
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case queue <- inbound{data: data, from: from, send: l.UDP}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *Loop) acceptAuxTCP(ctx context.Context, queue chan<- inbound) error {
	for {
		conn, err := l.AuxTCP.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.Log.Errorf("aux tcp accept: %v", err)
			continue
		}
		go l.serveAuxConn(ctx, conn, queue)
	}
}

// serveAuxConn reads length-prefixed datagrams off one accepted aux-TCP
// connection (a 2-byte length prefix followed by exactly one overlay
// datagram) and feeds them into the shared dispatch queue. The
// connection itself becomes the Sender for replies on this peer's TCP
// path.
func (l *Loop) serveAuxConn(ctx context.Context, conn transport.TCPConn, queue chan<- inbound) {
	defer conn.Close()
	sender := &tcpSender{conn: conn}
	lenBuf := make([]byte, 2)
	for {
		if _, err := readFull(conn, lenBuf); err != nil {
			return
		}
		n := int(lenBuf[0])<<8 | int(lenBuf[1])
		data := make([]byte, n)
		if _, err := readFull(conn, data); err != nil {
			return
		}
		select {
		case queue <- inbound{data: data, from: conn.RemoteAddr(), send: sender}:
		case <-ctx.Done():
			return
		}
	}
}

func readFull(conn transport.TCPConn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// tcpSender adapts a single TCPConn into dispatch.Sender by re-framing
// every outbound reply with the same 2-byte length prefix.
type tcpSender struct {
	conn transport.TCPConn
}

func (s *tcpSender) SendTo(data []byte, _ netip.AddrPort) error {
	frame := make([]byte, 2+len(data))
	frame[0] = byte(len(data) >> 8)
	frame[1] = byte(len(data))
	copy(frame[2:], data)
	_, err := s.conn.Write(frame)
	return err
}

func (l *Loop) consume(ctx context.Context, queue <-chan inbound) error {
	self := l.UDP.LocalAddr()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-queue:
			l.Dispatch.Handle(m.data, m.from, self, m.send, time.Now())
		}
	}
}

// tickScheduler drives the purge sweep and the federation re-register /
// re-resolve rounds once per registration_ttl/4, floored at 10s.
func (l *Loop) tickScheduler(ctx context.Context) error {
	ticker := time.NewTicker(l.PurgeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.Sess.PurgeSweep(now, l.FederationTTLMultiplier)
			federation := l.Reg.EnsureFederation()
			l.Sess.ReresolveAnchors(federation, now)
			l.Dispatch.SendRegisterSuper(federation, l.UDP)
		}
	}
}
