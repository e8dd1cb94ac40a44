package net

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSendWritesFrames(t *testing.T) {
	f := newTestFactory(nil)
	s, peer := newStartedSession(t, f)

	require.True(t, s.Send(cmdPing, &ping{Value: 1}))
	require.True(t, s.Send(cmdPong, &pong{Value: 2}))
	require.True(t, s.Send(cmdBlob, &blob{Data: bytes.Repeat([]byte{0x5A}, 300)}))

	r := bufio.NewReader(peer)
	first, err := readFrame(r)
	require.NoError(t, err)
	assert.Equal(t, cmdPing, first.Command)
	assert.Equal(t, []byte{1, 0, 0, 0}, first.Payload)

	second, err := readFrame(r)
	require.NoError(t, err)
	assert.Equal(t, cmdPong, second.Command)

	third, err := readFrame(r)
	require.NoError(t, err)
	assert.Equal(t, cmdBlob, third.Command)
	assert.Len(t, third.Payload, 300)
}

func TestSessionSendRejectsOversizedMessage(t *testing.T) {
	cfg := testSessionCfg()
	cfg.MaxMessageSize = 10
	f := newTestFactory(cfg)
	s, _ := newIdleSession(t, f)

	assert.True(t, s.Send(cmdBlob, &blob{Data: make([]byte, 8)}))
	assert.False(t, s.Send(cmdBlob, &blob{Data: make([]byte, 9)}))
	assert.True(t, s.Connected(), "an oversized message does not end the session")
	assert.Equal(t, 1, s.messages.Len())
}

func TestSessionSendBacklogDestroys(t *testing.T) {
	cfg := testSessionCfg()
	cfg.MessageBacklogPerSession = 2
	f := newTestFactory(cfg)
	s, _ := newIdleSession(t, f)

	assert.True(t, s.Send(cmdPing, &ping{}))
	assert.True(t, s.Send(cmdPing, &ping{}))
	assert.False(t, s.Send(cmdPing, &ping{}))

	assert.False(t, s.Connected())
	assert.Equal(t, 0, s.messages.Len(), "destroy drops queued output")
	assert.False(t, s.Send(cmdPing, &ping{}))

	events := drainEvents(f.Events())
	require.Len(t, events, 1)
	assert.Equal(t, SessionEventDestroy, events[0].Type)
}

func TestSessionReceiveEnqueuesEvents(t *testing.T) {
	f := newTestFactory(nil)
	s, peer := newStartedSession(t, f)

	wire := rawFrame(t, cmdPing, &ping{Value: 9})
	go func() {
		_, _ = peer.Write(wire)
	}()

	require.Eventually(t, func() bool { return f.Events().Len() == 2 }, time.Second, 5*time.Millisecond)
	events := drainEvents(f.Events())
	assert.Equal(t, SessionEventStart, events[0].Type)
	assert.Equal(t, s.ID(), events[0].SessionID)
	assert.Equal(t, SessionEventMessage, events[1].Type)
	assert.Equal(t, []byte{0x01, 0x01, 9, 0, 0, 0}, events[1].Payload)
}

func TestSessionReceiveDecryptsWithSeed(t *testing.T) {
	f := newTestFactory(nil)
	local, peer := newPipe(t)
	s := newSession(f, local, "")
	f.register(s)
	s.SetSeed(0x1234)
	require.True(t, s.Start())

	plain := rawFrame(t, cmdPing, &ping{Value: 0xCAFE})
	wire := bytes.Clone(plain)
	next := XorCryptography{}.Xor(wire[1:], 0x1234)
	go func() {
		_, _ = peer.Write(wire)
	}()

	require.Eventually(t, func() bool { return f.Events().Len() == 2 }, time.Second, 5*time.Millisecond)
	events := drainEvents(f.Events())
	assert.Equal(t, plain[1:], events[1].Payload)

	seed, ok := s.Seed()
	assert.True(t, ok)
	assert.Equal(t, next, seed, "the seed advances with every body")
}

func TestSessionSeed(t *testing.T) {
	f := newTestFactory(nil)
	s, _ := newIdleSession(t, f)

	_, ok := s.Seed()
	assert.False(t, ok)

	s.SetSeed(0)
	seed, ok := s.Seed()
	assert.True(t, ok, "zero is a valid seed")
	assert.Equal(t, uint16(0), seed)

	generated := s.NewSeed()
	seed, ok = s.Seed()
	assert.True(t, ok)
	assert.Equal(t, generated, seed)
}

func TestSessionReceiveProtocolViolations(t *testing.T) {
	tests := []struct {
		name string
		wire []byte
	}{
		{"extended header with small length", []byte{0x00, 0x00, 0x10}},
		{"extended header with zero length", []byte{0x00, 0x00, 0x00}},
		{"larger than allowed", []byte{0x09, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testSessionCfg()
			cfg.MaxMessageSize = 8
			f := newTestFactory(cfg)
			s, peer := newStartedSession(t, f)

			go func() {
				_, _ = peer.Write(tt.wire)
			}()

			select {
			case <-s.Done():
			case <-time.After(time.Second):
				t.Fatal("session survived a malformed frame")
			}
			events := drainEvents(f.Events())
			require.NotEmpty(t, events)
			assert.Equal(t, SessionEventDestroy, events[len(events)-1].Type)
			for _, e := range events {
				assert.NotEqual(t, SessionEventMessage, e.Type)
			}
		})
	}
}

func TestSessionPeerCloseDestroys(t *testing.T) {
	f := newTestFactory(nil)
	s, peer := newStartedSession(t, f)

	require.NoError(t, peer.Close())
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session survived peer close")
	}
	assert.False(t, s.Connected())
}

func TestSessionEventBacklogDestroys(t *testing.T) {
	cfg := testSessionCfg()
	cfg.EventBacklogPerSession = 3
	f := newTestFactory(cfg)
	s, peer := newStartedSession(t, f)

	// start event plus two messages reach the backlog
	var wire []byte
	for i := 0; i < 2; i++ {
		wire = append(wire, rawFrame(t, cmdPing, &ping{Value: uint32(i)})...)
	}
	go func() {
		_, _ = peer.Write(wire)
	}()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session survived a full event backlog")
	}
	events := drainEvents(f.Events())
	types := make([]SessionEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []SessionEventType{SessionEventStart, SessionEventMessage, SessionEventMessage, SessionEventDestroy}, types)

	// the message reaching the backlog is still delivered
	last := events[2].Payload
	require.Len(t, last, CommandSize+4)
	assert.Equal(t, []byte{1, 0, 0, 0}, last[CommandSize:])
}

func TestSessionBelowEventBacklogSurvives(t *testing.T) {
	cfg := testSessionCfg()
	cfg.EventBacklogPerSession = 3
	f := newTestFactory(cfg)
	s, peer := newStartedSession(t, f)

	_, err := peer.Write(rawFrame(t, cmdPing, &ping{Value: 7}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.Events().Pending(s.ID()) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Connected())
}

func TestSessionDestroyOnce(t *testing.T) {
	f := newTestFactory(nil)
	s, _ := newStartedSession(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Destroy()
		}()
	}
	wg.Wait()

	destroys := 0
	for _, e := range drainEvents(f.Events()) {
		if e.Type == SessionEventDestroy {
			destroys++
		}
	}
	assert.Equal(t, 1, destroys)
	assert.False(t, s.Start(), "a destroyed session cannot start")
}

func TestSessionStartOnce(t *testing.T) {
	f := newTestFactory(nil)
	s, _ := newIdleSession(t, f)

	assert.True(t, s.Start())
	assert.False(t, s.Start())
}

func waitPending(t *testing.T, s *Session, id uuid.UUID) {
	t.Helper()
	assert.Eventually(t, func() bool {
		_, ok := s.pending.Load(id)
		return ok
	}, time.Second, time.Millisecond)
}

func TestCompleteOperationExactlyOnce(t *testing.T) {
	f := newTestFactory(nil)
	s, _ := newIdleSession(t, f)

	id := uuid.New()
	type result struct {
		resp any
		ok   bool
	}
	out := make(chan result, 1)
	go func() {
		resp, ok := s.SendAsync(context.Background(), cmdReq, &lookupReq{ID: id, Key: 1})
		out <- result{resp, ok}
	}()
	waitPending(t, s, id)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.CompleteOperation(id, &lookupResp{ID: id, Found: i%2 == 0}) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	r := <-out
	assert.True(t, r.ok)
	assert.IsType(t, &lookupResp{}, r.resp)

	_, still := s.pending.Load(id)
	assert.False(t, still, "the waiter removes its entry")
	assert.False(t, s.CompleteOperation(id, &lookupResp{ID: id}))
}

func TestSendAsyncDuplicateOperation(t *testing.T) {
	f := newTestFactory(nil)
	s, _ := newIdleSession(t, f)

	id := uuid.New()
	first := make(chan bool, 1)
	go func() {
		_, ok := s.SendAsync(context.Background(), cmdReq, &lookupReq{ID: id})
		first <- ok
	}()
	waitPending(t, s, id)

	_, ok := s.SendAsync(context.Background(), cmdReq, &lookupReq{ID: id})
	assert.False(t, ok)

	require.True(t, s.CompleteOperation(id, &lookupResp{ID: id}))
	assert.True(t, <-first, "the first waiter is unaffected")
}

func TestSendAsyncGivesUp(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		cfg := testSessionCfg()
		cfg.CorrelationTimeout = 30 * time.Millisecond
		f := newTestFactory(cfg)
		s, _ := newIdleSession(t, f)

		id := uuid.New()
		resp, ok := s.SendAsync(context.Background(), cmdReq, &lookupReq{ID: id})
		assert.False(t, ok)
		assert.Nil(t, resp)
		_, still := s.pending.Load(id)
		assert.False(t, still)
	})

	t.Run("context", func(t *testing.T) {
		f := newTestFactory(nil)
		s, _ := newIdleSession(t, f)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, ok := s.SendAsync(ctx, cmdReq, &lookupReq{ID: uuid.New()})
		assert.False(t, ok)
	})

	t.Run("destroyed", func(t *testing.T) {
		f := newTestFactory(nil)
		s, _ := newIdleSession(t, f)

		id := uuid.New()
		done := make(chan bool, 1)
		go func() {
			_, ok := s.SendAsync(context.Background(), cmdReq, &lookupReq{ID: id})
			done <- ok
		}()
		waitPending(t, s, id)
		s.Destroy()

		select {
		case ok := <-done:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("waiter not released by destroy")
		}
	})

	t.Run("send fails", func(t *testing.T) {
		f := newTestFactory(nil)
		s, _ := newIdleSession(t, f)
		s.Destroy()

		_, ok := s.SendAsync(context.Background(), cmdReq, &lookupReq{ID: uuid.New()})
		assert.False(t, ok)
	})
}

func TestSendCorrelated(t *testing.T) {
	f := newTestFactory(nil)
	s, _ := newIdleSession(t, f)

	id := uuid.New()
	go func() {
		waitPending(t, s, id)
		s.CompleteOperation(id, &lookupResp{ID: id, Found: true})
	}()

	resp, ok := SendCorrelated[*lookupResp](context.Background(), s, cmdReq, &lookupReq{ID: id})
	require.True(t, ok)
	assert.True(t, resp.Found)

	other := uuid.New()
	go func() {
		waitPending(t, s, other)
		s.CompleteOperation(other, &pong{Value: 1})
	}()
	_, ok = SendCorrelated[*lookupResp](context.Background(), s, cmdReq, &lookupReq{ID: other})
	assert.False(t, ok, "a response of the wrong type is rejected")
}

func TestSessionSendAfterQueueDrains(t *testing.T) {
	f := newTestFactory(nil)
	s, peer := newStartedSession(t, f)

	r := bufio.NewReader(peer)
	for i := 0; i < 20; i++ {
		require.True(t, s.Send(cmdPing, &ping{Value: uint32(i)}))
		fr, err := readFrame(r)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i), 0, 0, 0}, fr.Payload)
	}

	s.Destroy()
	_, err := readFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}
