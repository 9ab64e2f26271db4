// Package server adapts byte streams to the newline-delimited line protocol
// used by sessions.
package server

import (
	"bufio"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const writeTimeout = 10 * time.Second

// ErrLineTooLong is returned when a peer sends a line above the configured limit.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// LineConn is a bidirectional stream of text lines. ReadLine is only called
// by the owning session's reader and WriteLine only by its write pump; Close
// may be called from any goroutine.
type LineConn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	SetReadDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

type tcpConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	maxLine int
}

// NewTCPConn wraps conn. Lines longer than maxLine bytes fail the read.
func NewTCPConn(conn net.Conn, maxLine int) LineConn {
	return &tcpConn{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		maxLine: maxLine,
	}
}

func (c *tcpConn) ReadLine() (string, error) {
	var buf []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		buf = append(buf, chunk...)
		if c.maxLine > 0 && len(buf) > c.maxLine+2 {
			return "", ErrLineTooLong
		}

		switch {
		case err == nil:
			return normalizeLine(buf), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			// Final unterminated line; the next read reports EOF.
			return normalizeLine(buf), nil
		default:
			return "", err
		}
	}
}

func normalizeLine(buf []byte) string {
	line := strings.TrimRight(string(buf), "\r\n")
	return strings.ToValidUTF8(line, "�")
}

func (c *tcpConn) WriteLine(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := io.WriteString(c.conn, line+"\n")
	return err
}

func (c *tcpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// isTimeout reports whether err is a read deadline expiry.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
