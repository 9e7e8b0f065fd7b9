package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
)

// TCPTransport dials the device's serial radio through a TCP socket
// bridge (RFCOMM bound to a port, ser2net, or an ESP32 telnet bridge).
type TCPTransport struct {
	mu   sync.Mutex
	last *tcpConn
}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

// Open dials address, closing any previously opened connection first,
// including one left behind by an earlier failure.
func (t *TCPTransport) Open(ctx context.Context, address string) (Conn, error) {
	t.mu.Lock()
	if t.last != nil {
		_ = t.last.Close()
		t.last = nil
	}
	t.mu.Unlock()

	dialer := net.Dialer{}
	nc, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	conn := &tcpConn{nc: nc, reader: bufio.NewReader(nc)}

	t.mu.Lock()
	t.last = conn
	t.mu.Unlock()

	return conn, nil
}

type tcpConn struct {
	nc     net.Conn
	reader *bufio.Reader

	closeOnce sync.Once
	closeErr  error
}

func (c *tcpConn) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if line != "" && errors.Is(err, io.EOF) {
			// final unterminated line before EOF
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *tcpConn) WriteLine(line string) error {
	if _, err := c.nc.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}
