// Package servicetest runs service hosts on loopback and speaks the client side of
// the protocol against them.
package servicetest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	gonet "net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/d4xyjen/jedi/codec"
	"github.com/d4xyjen/jedi/net"
	"github.com/d4xyjen/jedi/protocol"
	"github.com/d4xyjen/jedi/service"
)

// Timeout bounds every read of a Client.
const Timeout = 5 * time.Second

// StartHost runs a host with default configuration on an ephemeral loopback port
// until the test ends. setup may be nil.
func StartHost(t testing.TB, name string, setup func(h *service.Host) error) *service.Host {
	t.Helper()
	h, err := service.NewHost(name, nil)
	require.NoError(t, err)
	if setup != nil {
		require.NoError(t, setup(h))
	}
	require.NoError(t, h.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(Timeout):
			t.Errorf("host %s did not stop", name)
		}
	})
	return h
}

// Client is a game client connection.
type Client struct {
	t     testing.TB
	conn  gonet.Conn
	r     *bufio.Reader
	crypt net.XorCryptography
	seed  uint16
	armed bool
}

func Dial(t testing.TB, addr gonet.Addr) *Client {
	t.Helper()
	conn, err := gonet.DialTimeout("tcp", addr.String(), Timeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &Client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// SetSeed encrypts every following message with seed.
func (c *Client) SetSeed(seed uint16) {
	c.seed = seed
	c.armed = true
}

// Send frames m under command, encrypting the body once a seed is set.
func (c *Client) Send(command uint16, m codec.Message) {
	c.t.Helper()
	frame, err := net.AppendFrame(nil, command, m)
	require.NoError(c.t, err)

	if c.armed {
		header := 1
		if frame[0] == 0 {
			header = 3
		}
		c.seed = c.crypt.Xor(frame[header:], c.seed)
	}
	_, err = c.conn.Write(frame)
	require.NoError(c.t, err)
}

// Recv reads one frame and returns its command and payload.
func (c *Client) Recv() (uint16, []byte) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(Timeout)))

	size, err := net.ReadHeader(c.r)
	require.NoError(c.t, err)
	body := make([]byte, size)
	_, err = io.ReadFull(c.r, body)
	require.NoError(c.t, err)

	command, ok := net.GetCommand(body)
	require.True(c.t, ok, "frame without command")
	return command, body[net.CommandSize:]
}

// Closed reports whether the server closed the connection within Timeout.
func (c *Client) Closed() bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(Timeout))
	_, err := c.r.ReadByte()
	if err == nil {
		return false
	}
	var ne gonet.Error
	return !errors.As(err, &ne) || !ne.Timeout()
}

// Expect reads one frame, requires it to carry command and decodes it as T.
func Expect[T codec.Message](c *Client, command uint16) T {
	c.t.Helper()
	got, payload := c.Recv()
	require.Equal(c.t, protocol.CommandName(command), protocol.CommandName(got))

	schema, ok := protocol.Schema(command)
	require.True(c.t, ok, "no schema for %s", protocol.CommandName(command))
	msg, err := schema.Decode(payload)
	require.NoError(c.t, err)

	typed, ok := msg.(T)
	require.True(c.t, ok, fmt.Sprintf("%s decoded as %T", protocol.CommandName(command), msg))
	return typed
}
