package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/d4xyjen/jedi/codec"
	"github.com/d4xyjen/jedi/log"
	"github.com/d4xyjen/jedi/metrics"
)

// CorrelatedMessage is a message that carries the id of the operation it belongs to.
// Requests and their responses share the id.
type CorrelatedMessage interface {
	codec.Message
	OperationID() uuid.UUID
}

type pendingOperation struct {
	done      chan struct{}
	completed atomic.Bool
	response  codec.Message
}

// seedPresent flags a stored seed; the low 16 bits hold its value.
const seedPresent = 1 << 16

// Session is one connection speaking the framed protocol. It owns a send and a
// receive goroutine and is torn down exactly once by Destroy.
type Session struct {
	id       uuid.UUID
	conn     net.Conn
	endpoint string
	factory  *SessionFactory
	messages *MessageQueue

	signal chan struct{}
	done   chan struct{}

	seed    atomic.Uint32
	pending sync.Map // uuid.UUID -> *pendingOperation

	started     atomic.Bool
	destroyed   atomic.Bool
	destroyOnce sync.Once
}

func newSession(factory *SessionFactory, conn net.Conn, endpoint string) *Session {
	return &Session{
		id:       uuid.New(),
		conn:     conn,
		endpoint: endpoint,
		factory:  factory,
		messages: NewMessageQueue(factory.pool),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

// Endpoint is the dialed address of an outbound session, empty for inbound ones.
func (s *Session) Endpoint() string {
	return s.endpoint
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Connected reports whether the session has not been destroyed yet.
func (s *Session) Connected() bool {
	return !s.destroyed.Load()
}

// Done is closed when the session is destroyed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) cfg() *SessionCfg {
	return s.factory.Cfg()
}

// Start launches the send and receive loops. Only the first call has an effect.
func (s *Session) Start() bool {
	if s.destroyed.Load() || !s.started.CompareAndSwap(false, true) {
		return false
	}
	s.factory.events.Enqueue(s.id, SessionEventStart, nil)

	go s.serveSend()
	go s.serveRecv()
	return true
}

// Destroy closes the connection, drops queued output and tells the event processor.
func (s *Session) Destroy() {
	s.destroy("requested", nil)
}

func (s *Session) destroy(reason string, err error) {
	s.destroyOnce.Do(func() {
		s.destroyed.Store(true)
		close(s.done)
		_ = s.conn.Close()
		s.messages.Clear()
		s.factory.events.Enqueue(s.id, SessionEventDestroy, nil)

		e := log.Debug()
		if errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrBackpressure) {
			e = log.Warn()
		}
		e.Str("session", s.id.String()).Str("reason", reason).Err(err).Msg("session destroyed")
		metrics.IncrCounterWithDimGroup("net", "session_destroyed_total", 1, metrics.Dimension{"reason": reason})
	})
}

func (s *Session) recoverAndDestroy(loop string) {
	if r := recover(); r != nil {
		log.Error().Str("session", s.id.String()).Str("loop", loop).Str("panic", fmt.Sprint(r)).Msg("session loop panicked")
		s.destroy("panic", fmt.Errorf("panic in %s loop: %v", loop, r))
	}
}

// Send frames m under command and queues it for the send loop. It reports false
// when the message cannot be encoded, exceeds MaxMessageSize or the session is gone.
// A full outbound backlog destroys the session.
func (s *Session) Send(command uint16, m codec.Message) bool {
	if s.destroyed.Load() {
		return false
	}
	cfg := s.cfg()

	pool := s.factory.pool
	buf := pool.Take()
	defer pool.Return(buf)

	frame, err := AppendFrame(buf, command, m)
	if err != nil {
		log.Error().Str("session", s.id.String()).Uint16("command", command).Err(err).Msg("encode message failed")
		return false
	}
	if body := frameBodyLen(frame); body > cfg.MaxMessageSize {
		log.Warn().Str("session", s.id.String()).Uint16("command", command).Int("size", body).
			Int("max", cfg.MaxMessageSize).Err(ErrMessageTooLarge).Msg("message dropped")
		return false
	}

	if _, ok := s.messages.EnqueueIfBelow(frame, cfg.MessageBacklogPerSession); !ok {
		metrics.IncrCounterWithDimGroup("net", "backpressure_total", 1, metrics.Dimension{"queue": "message"})
		s.destroy("backpressure", fmt.Errorf("%w: %d queued messages", ErrBackpressure, cfg.MessageBacklogPerSession))
		return false
	}

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return true
}

func (s *Session) serveSend() {
	defer s.recoverAndDestroy("send")

	var batch []byte
	for {
		var ok bool
		if batch, ok = s.messages.DequeueAndCoalesce(batch); ok {
			if timeout := s.cfg().SendTimeout; timeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
			}
			if _, err := s.conn.Write(batch); err != nil {
				s.destroy("write", err)
				return
			}
			metrics.IncrCounterWithGroup("net", "bytes_sent_total", metrics.Value(len(batch)))
			continue
		}

		select {
		case <-s.signal:
		case <-s.done:
			return
		}
	}
}

func (s *Session) serveRecv() {
	defer s.recoverAndDestroy("receive")

	r := bufio.NewReader(s.conn)
	var body []byte
	for {
		cfg := s.cfg()
		if cfg.ReceiveTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(cfg.ReceiveTimeout))
		}

		size, err := ReadHeader(r)
		if err != nil {
			s.destroyOnReadError(err)
			return
		}
		if size <= 0 || size > cfg.MaxMessageSize {
			s.destroy("protocol", fmt.Errorf("%w: frame size %d outside (0, %d]", ErrProtocolViolation, size, cfg.MaxMessageSize))
			return
		}

		if cap(body) < size {
			body = make([]byte, size)
		}
		body = body[:size]
		if _, err := io.ReadFull(r, body); err != nil {
			s.destroyOnReadError(err)
			return
		}
		s.decrypt(body)
		metrics.IncrCounterWithGroup("net", "bytes_received_total", metrics.Value(HeaderSize(size)+size))

		if s.factory.events.Enqueue(s.id, SessionEventMessage, body) >= cfg.EventBacklogPerSession {
			metrics.IncrCounterWithDimGroup("net", "backpressure_total", 1, metrics.Dimension{"queue": "event"})
			s.destroy("backpressure", fmt.Errorf("%w: %d pending events", ErrBackpressure, cfg.EventBacklogPerSession))
			return
		}
	}
}

func (s *Session) destroyOnReadError(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.destroy("closed", nil)
	case errors.Is(err, ErrProtocolViolation):
		s.destroy("protocol", err)
	case errors.Is(err, net.ErrClosed):
		s.destroy("closed", nil)
	default:
		s.destroy("read", err)
	}
}

// decrypt runs the rolling cipher over an inbound body. The seed only moves forward
// if nobody replaced it meanwhile.
func (s *Session) decrypt(body []byte) {
	cur := s.seed.Load()
	if cur&seedPresent == 0 {
		return
	}
	next := s.factory.crypt.Xor(body, uint16(cur))
	s.seed.CompareAndSwap(cur, seedPresent|uint32(next))
}

// Seed returns the current inbound seed, if any.
func (s *Session) Seed() (uint16, bool) {
	v := s.seed.Load()
	return uint16(v), v&seedPresent != 0
}

// SetSeed makes the receive loop decrypt every following body with seed.
func (s *Session) SetSeed(seed uint16) {
	s.seed.Store(seedPresent | uint32(seed))
}

// NewSeed generates, stores and returns a fresh seed.
func (s *Session) NewSeed() uint16 {
	seed := s.factory.crypt.GenerateSeed()
	s.SetSeed(seed)
	return seed
}

// SendAsync sends req and waits for the message completing its operation id. It gives
// up when ctx ends, CorrelationTimeout passes or the session is destroyed.
func (s *Session) SendAsync(ctx context.Context, command uint16, req CorrelatedMessage) (codec.Message, bool) {
	id := req.OperationID()
	op := &pendingOperation{done: make(chan struct{})}
	if _, loaded := s.pending.LoadOrStore(id, op); loaded {
		log.Error().Str("session", s.id.String()).Str("operation", id.String()).Err(ErrDuplicateOperation).Msg("operation not sent")
		return nil, false
	}
	defer s.pending.CompareAndDelete(id, op)

	if !s.Send(command, req) {
		return nil, false
	}

	var expired <-chan time.Time
	if timeout := s.cfg().CorrelationTimeout; timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-op.done:
		return op.response, true
	case <-ctx.Done():
	case <-expired:
		log.Warn().Str("session", s.id.String()).Str("operation", id.String()).Uint16("command", command).Msg("operation timed out")
		metrics.IncrCounterWithGroup("net", "operation_timeout_total", 1)
	case <-s.done:
	}
	return nil, false
}

// CompleteOperation hands resp to the waiter of id. Only the first call for an
// operation succeeds; it reports false when nobody waits for id.
func (s *Session) CompleteOperation(id uuid.UUID, resp codec.Message) bool {
	v, ok := s.pending.Load(id)
	if !ok {
		return false
	}
	op := v.(*pendingOperation)
	if !op.completed.CompareAndSwap(false, true) {
		return false
	}
	op.response = resp
	close(op.done)
	return true
}

// SendCorrelated is SendAsync for callers that know the response type.
func SendCorrelated[T codec.Message](ctx context.Context, s *Session, command uint16, req CorrelatedMessage) (T, bool) {
	var zero T
	resp, ok := s.SendAsync(ctx, command, req)
	if !ok {
		return zero, false
	}
	typed, ok := resp.(T)
	if !ok {
		log.Warn().Str("session", s.id.String()).Str("operation", req.OperationID().String()).
			Str("type", fmt.Sprintf("%T", resp)).Msg("unexpected response type")
		return zero, false
	}
	return typed, true
}
