package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/Logan007/n3n/internal/coreerr"
)

// UDPSocket is the default UDPTransport, a thin adapter over net.UDPConn.
type UDPSocket struct {
	conn *net.UDPConn
}

// ListenUDP opens the main datapath socket on addr:port and tunes its
// socket options (non-blocking mode is implicit in Go's
// netpoller-backed net.UDPConn; the bigger SO_RCVBUF receive buffer set
// below is the part a raw net.ListenUDP call does not give you).
func ListenUDP(bindAddress string, port int) (*UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", bindAddress, port))
	if err != nil {
		return nil, coreerr.NewFatalError("udp listen", fmt.Errorf("resolve: %w", err))
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, coreerr.NewFatalError("udp listen", err)
	}
	if err := tuneUDPSocket(conn); err != nil {
		// Non-fatal: tuning is best-effort, the socket still works.
		_ = err
	}
	return &UDPSocket{conn: conn}, nil
}

func tuneUDPSocket(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, 1<<20)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return setErr
}

// RecvFrom blocks on the socket directly; it relies on Close (called from
// the event loop's shutdown path) to unblock a pending read with an
// error, rather than spawning a goroutine per call — the loop only ever
// has one reader in flight at a time.
func (u *UDPSocket) RecvFrom(ctx context.Context, buf []byte) (int, netip.AddrPort, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = u.conn.SetReadDeadline(dl)
	}
	return u.conn.ReadFromUDPAddrPort(buf)
}

func (u *UDPSocket) SendTo(data []byte, addr netip.AddrPort) error {
	_, err := u.conn.WriteToUDPAddrPort(data, addr)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("%w: %v", coreerr.ErrWouldBlock, err)
		}
		return err
	}
	return nil
}

func (u *UDPSocket) LocalAddr() netip.AddrPort {
	a := u.conn.LocalAddr().(*net.UDPAddr)
	return netip.AddrPortFrom(a.AddrPort().Addr(), uint16(a.Port))
}

func (u *UDPSocket) Close() error { return u.conn.Close() }
