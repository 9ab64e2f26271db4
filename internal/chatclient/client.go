// Package chatclient is a minimal programmatic client for the linechat line
// protocol.
package chatclient

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
)

// Control lines sent by the server during the handshake.
const (
	Prompt     = "LOGIN_REGISTER"
	Exists     = "EXISTS"
	Registered = "REGISTERED"
	LoggedIn   = "LOGGEDIN"
	Invalid    = "INVALID"
)

var (
	// ErrExists is returned by Register when the username is taken.
	ErrExists = errors.New("chatclient: username already exists")
	// ErrInvalid is returned when the server rejects the credentials.
	ErrInvalid = errors.New("chatclient: invalid credentials")
)

// Client is one connection to a linechat server. Send may be called
// concurrently with ReadLine.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	wmu    sync.Mutex
}

// Dial connects to addr, retrying with exponential backoff until ctx is done.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var dialer net.Dialer
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 0

	conn, err := backoff.RetryWithData[net.Conn](func() (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", addr)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	return &Client{conn: conn, reader: bufio.NewReader(conn)}
}

// ReadLine returns the next line from the server without its terminator.
func (c *Client) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Send writes one line.
func (c *Client) Send(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := io.WriteString(c.conn, line+"\n")
	return err
}

// SetReadDeadline bounds the next reads.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Register waits for the prompt and registers username.
func (c *Client) Register(username, secret string) error {
	return c.authenticate("register", username, secret, Registered)
}

// Login waits for the prompt and logs in as username.
func (c *Client) Login(username, secret string) error {
	return c.authenticate("login", username, secret, LoggedIn)
}

func (c *Client) authenticate(verb, username, secret, success string) error {
	if err := c.awaitPrompt(); err != nil {
		return err
	}
	if err := c.Send(verb + ":" + username + ":" + secret); err != nil {
		return err
	}

	reply, err := c.ReadLine()
	if err != nil {
		return err
	}
	switch reply {
	case success:
		return nil
	case Exists:
		return ErrExists
	case Invalid:
		return ErrInvalid
	default:
		return errors.Newf("chatclient: unexpected reply %q", reply)
	}
}

func (c *Client) awaitPrompt() error {
	for {
		line, err := c.ReadLine()
		if err != nil {
			return err
		}
		if line == Prompt {
			return nil
		}
	}
}
