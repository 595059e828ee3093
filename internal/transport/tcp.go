package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/Logan007/n3n/internal/coreerr"
)

// TCPSock is the default TCPListener.
type TCPSock struct {
	ln net.Listener
}

// ListenTCP opens a TCP listener for the aux datapath.
func ListenTCP(bindAddress string, port int) (*TCPSock, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddress, port))
	if err != nil {
		return nil, coreerr.NewFatalError("tcp listen", err)
	}
	return &TCPSock{ln: ln}, nil
}

func (t *TCPSock) Accept(ctx context.Context) (TCPConn, error) {
	type result struct {
		c   net.Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := t.ln.Accept()
		done <- result{c, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return &tcpConn{c: r.c}, nil
	}
}

func (t *TCPSock) Close() error { return t.ln.Close() }

type tcpConn struct {
	c net.Conn
}

func (t *tcpConn) Read(b []byte) (int, error)  { return t.c.Read(b) }
func (t *tcpConn) Write(b []byte) (int, error) { return t.c.Write(b) }
func (t *tcpConn) Close() error                { return t.c.Close() }
func (t *tcpConn) RemoteAddr() netip.AddrPort {
	a, ok := t.c.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}
	}
	return a.AddrPort()
}
