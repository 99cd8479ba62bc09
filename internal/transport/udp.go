// Package transport dials and wraps the datagram sockets guppy sessions
// run over.
package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/guppyctl/internal/guppy"
)

// DefaultPort is the registered Guppy service port.
const DefaultPort = "6775"

var ErrClosed = errors.New("transport: connection closed")

// readPollInterval bounds how long ReadAvailable blocks, so the caller's
// read loop can interleave timeout and cancellation checks.
const readPollInterval = 100 * time.Millisecond

// maxDatagram is the largest UDP payload a peer can hand us.
const maxDatagram = 64 * 1024

// UDPConn is a connected datagram socket carrying one Guppy exchange.
// Writes may come from the session and its scheduler concurrently; reads
// belong to a single loop.
type UDPConn struct {
	sock   *net.UDPConn
	status atomic.Int32
	buf    []byte
}

var _ guppy.Conn = (*UDPConn)(nil)

// Dial connects a UDP socket to hostport, appending the default port when
// none is given. There is no handshake, so a successful dial is connected.
func Dial(ctx context.Context, hostport string) (*UDPConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", withDefaultPort(hostport))
	if err != nil {
		return nil, err
	}
	c := &UDPConn{
		sock: conn.(*net.UDPConn),
		buf:  make([]byte, maxDatagram),
	}
	c.status.Store(int32(guppy.StatusConnected))
	return c, nil
}

// Status reports socket connectivity.
func (c *UDPConn) Status() guppy.ConnStatus {
	return guppy.ConnStatus(c.status.Load())
}

// WriteLine sends line plus the protocol terminator as one datagram.
func (c *UDPConn) WriteLine(line []byte) error {
	if c.Status() == guppy.StatusClosed {
		return ErrClosed
	}
	buf := make([]byte, 0, len(line)+2)
	buf = append(buf, line...)
	buf = append(buf, '\r', '\n')
	_, err := c.sock.Write(buf)
	return err
}

// ReadAvailable returns the next inbound datagram, or (nil, nil) when none
// arrived inside the poll window.
func (c *UDPConn) ReadAvailable() ([]byte, error) {
	if c.Status() == guppy.StatusClosed {
		return nil, ErrClosed
	}
	if err := c.sock.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
		return nil, err
	}
	n, err := c.sock.Read(c.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil
		}
		if errors.Is(err, net.ErrClosed) {
			c.status.Store(int32(guppy.StatusClosed))
			return nil, ErrClosed
		}
		return nil, err
	}
	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out, nil
}

// RemoteAddr reports the connected peer.
func (c *UDPConn) RemoteAddr() net.Addr {
	return c.sock.RemoteAddr()
}

// Close shuts the socket down. Further reads and writes fail with
// ErrClosed.
func (c *UDPConn) Close() error {
	c.status.Store(int32(guppy.StatusClosed))
	return c.sock.Close()
}

func withDefaultPort(hostport string) string {
	if _, _, err := net.SplitHostPort(hostport); err == nil {
		return hostport
	}
	host := strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]")
	return net.JoinHostPort(host, DefaultPort)
}
