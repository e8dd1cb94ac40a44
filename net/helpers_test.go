package net

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/d4xyjen/jedi/codec"
	"github.com/d4xyjen/jedi/utils"
)

const (
	cmdPing uint16 = 0x0101
	cmdPong uint16 = 0x0102
	cmdBlob uint16 = 0x0103
	cmdReq  uint16 = 0x0104
	cmdResp uint16 = 0x0105
)

type ping struct {
	Value uint32
}

var pingSchema = codec.MustSchema[ping]("ping",
	codec.Uint32("Value", func(m *ping) *uint32 { return &m.Value }),
)

func (*ping) Schema() *codec.Schema { return pingSchema }

type pong struct {
	Value uint32
}

var pongSchema = codec.MustSchema[pong]("pong",
	codec.Uint32("Value", func(m *pong) *uint32 { return &m.Value }),
)

func (*pong) Schema() *codec.Schema { return pongSchema }

type blob struct {
	Data []byte
}

var blobSchema = codec.MustSchema[blob]("blob",
	codec.Bytes("Data", func(m *blob) *[]byte { return &m.Data }),
)

func (*blob) Schema() *codec.Schema { return blobSchema }

type lookupReq struct {
	ID  uuid.UUID
	Key uint32
}

var lookupReqSchema = codec.MustSchema[lookupReq]("lookupReq",
	codec.UUID("ID", func(m *lookupReq) *uuid.UUID { return &m.ID }),
	codec.Uint32("Key", func(m *lookupReq) *uint32 { return &m.Key }),
)

func (*lookupReq) Schema() *codec.Schema    { return lookupReqSchema }
func (m *lookupReq) OperationID() uuid.UUID { return m.ID }

type lookupResp struct {
	ID    uuid.UUID
	Found bool
}

var lookupRespSchema = codec.MustSchema[lookupResp]("lookupResp",
	codec.UUID("ID", func(m *lookupResp) *uuid.UUID { return &m.ID }),
	codec.Bool("Found", func(m *lookupResp) *bool { return &m.Found }),
)

func (*lookupResp) Schema() *codec.Schema    { return lookupRespSchema }
func (m *lookupResp) OperationID() uuid.UUID { return m.ID }

func testSessionCfg() *SessionCfg {
	cfg := DefaultSessionCfg()
	cfg.SendTimeout = time.Second
	cfg.CorrelationTimeout = time.Second
	return cfg
}

func newTestFactory(cfg *SessionCfg) *SessionFactory {
	if cfg == nil {
		cfg = testSessionCfg()
	}
	pool := utils.NewBufferPool(256)
	return NewSessionFactory(cfg, NewSessionEventQueue(pool), pool)
}

func newPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	local, peer := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = peer.Close()
	})
	return local, peer
}

// newIdleSession registers a session without starting its loops, so queued output
// stays observable.
func newIdleSession(t *testing.T, f *SessionFactory) (*Session, net.Conn) {
	t.Helper()
	local, peer := net.Pipe()
	s := newSession(f, local, "")
	f.register(s)
	t.Cleanup(func() {
		s.Destroy()
		_ = peer.Close()
	})
	return s, peer
}

// newStartedSession registers and starts a session over an in-memory pipe.
func newStartedSession(t *testing.T, f *SessionFactory) (*Session, net.Conn) {
	t.Helper()
	local, peer := net.Pipe()
	s, err := f.CreateInbound(local)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Destroy()
		_ = peer.Close()
	})
	return s, peer
}

type frame struct {
	Command uint16
	Payload []byte
}

func readFrame(r *bufio.Reader) (frame, error) {
	size, err := ReadHeader(r)
	if err != nil {
		return frame{}, err
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return frame{}, err
	}
	command, _ := GetCommand(body)
	return frame{Command: command, Payload: body[CommandSize:]}, nil
}

// queuedFrames pops everything an idle session queued and splits it into frames.
func queuedFrames(t *testing.T, s *Session) []frame {
	t.Helper()
	raw, ok := s.messages.DequeueAndCoalesce(nil)
	if !ok {
		return nil
	}
	r := bufio.NewReader(bytes.NewReader(raw))
	var frames []frame
	for {
		f, err := readFrame(r)
		if err == io.EOF {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func rawFrame(t *testing.T, command uint16, m codec.Message) []byte {
	t.Helper()
	b, err := AppendFrame(nil, command, m)
	require.NoError(t, err)
	return b
}

func drainEvents(q *SessionEventQueue) []SessionEvent {
	var events []SessionEvent
	for {
		e, ok := q.Peek()
		if !ok {
			return events
		}
		e.Payload = append([]byte(nil), e.Payload...)
		events = append(events, e)
		q.Pop()
	}
}
