// Package transport defines the port the core consumes for UDP
// send/recv and TCP accept/read/write, so dispatch and loop code never
// deal with raw sockets directly.
package transport

import (
	"context"
	"net/netip"
)

// UDPTransport is the datapath's primary socket. Sends are non-blocking
// at the OS level; on EWOULDBLOCK the implementation returns
// coreerr-wrapped ErrWouldBlock and the caller drops the packet.
type UDPTransport interface {
	// RecvFrom blocks until a datagram arrives or ctx is cancelled.
	RecvFrom(ctx context.Context, buf []byte) (n int, from netip.AddrPort, err error)
	// SendTo writes a single datagram to addr.
	SendTo(data []byte, addr netip.AddrPort) error
	LocalAddr() netip.AddrPort
	Close() error
}

// TCPListener is the shape of the aux TCP datapath fallback listener.
// The management API opens its own net.Listener and does not use it.
type TCPListener interface {
	Accept(ctx context.Context) (TCPConn, error)
	Close() error
}

// TCPConn is a single accepted TCP connection. The aux-TCP datapath frames
// each overlay datagram with a 2-byte big-endian length prefix; framing
// is implemented one layer up, not here.
type TCPConn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	RemoteAddr() netip.AddrPort
	Close() error
}
