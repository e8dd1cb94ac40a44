package net

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4xyjen/jedi/codec"
)

func newTestDispatcher(t *testing.T, cfg *DispatcherCfg) (*Dispatcher, *Session) {
	t.Helper()
	f := newTestFactory(nil)
	d := NewDispatcher(cfg, f)
	require.NoError(t, d.RegisterMessage(cmdPing, pingSchema))
	require.NoError(t, d.RegisterMessage(cmdPong, pongSchema))
	require.NoError(t, d.RegisterMessage(cmdReq, lookupReqSchema))
	require.NoError(t, d.RegisterMessage(cmdResp, lookupRespSchema))

	s, _ := newIdleSession(t, f)
	return d, s
}

func encodePayload(t *testing.T, m codec.Message) []byte {
	t.Helper()
	b, err := codec.Encode(m)
	require.NoError(t, err)
	return b
}

func echo(ctx context.Context, s *Session, msg codec.Message) (codec.Message, error) {
	return &pong{Value: msg.(*ping).Value + 1}, nil
}

func TestDispatcherRepliesWithRegisteredCommand(t *testing.T) {
	d, s := newTestDispatcher(t, nil)
	require.NoError(t, d.Register(cmdPing, "echo", echo, nil))

	ok := d.DeserializeAndHandle(context.Background(), cmdPing, s.ID(), encodePayload(t, &ping{Value: 41}))
	require.True(t, ok)

	frames := queuedFrames(t, s)
	require.Len(t, frames, 1)
	assert.Equal(t, cmdPong, frames[0].Command)
	assert.Equal(t, []byte{42, 0, 0, 0}, frames[0].Payload)
}

func TestDispatcherIsolatesHandlerFailures(t *testing.T) {
	d, s := newTestDispatcher(t, nil)

	var calls atomic.Int32
	require.NoError(t, d.Register(cmdPing, "fails", func(ctx context.Context, s *Session, msg codec.Message) (codec.Message, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	}, nil))
	require.NoError(t, d.Register(cmdPing, "panics", func(ctx context.Context, s *Session, msg codec.Message) (codec.Message, error) {
		calls.Add(1)
		panic("broken handler")
	}, nil))
	require.NoError(t, d.Register(cmdPing, "echo", func(ctx context.Context, s *Session, msg codec.Message) (codec.Message, error) {
		calls.Add(1)
		return echo(ctx, s, msg)
	}, nil))

	assert.True(t, d.DeserializeAndHandle(context.Background(), cmdPing, s.ID(), encodePayload(t, &ping{Value: 1})))
	assert.Equal(t, int32(3), calls.Load())

	frames := queuedFrames(t, s)
	require.Len(t, frames, 1)
	assert.Equal(t, cmdPong, frames[0].Command)
	assert.True(t, s.Connected())
}

func TestDispatcherHandlerTimeout(t *testing.T) {
	d, s := newTestDispatcher(t, &DispatcherCfg{HandleTimeout: 20 * time.Millisecond})

	release := make(chan struct{})
	finished := make(chan struct{})
	require.NoError(t, d.Register(cmdPing, "slow", func(ctx context.Context, s *Session, msg codec.Message) (codec.Message, error) {
		defer close(finished)
		<-release
		return &pong{}, nil
	}, nil))

	start := time.Now()
	assert.True(t, d.DeserializeAndHandle(context.Background(), cmdPing, s.ID(), encodePayload(t, &ping{})))
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	<-finished
	assert.Empty(t, queuedFrames(t, s), "a late response is discarded")
}

func TestDispatcherCompletesPendingOperation(t *testing.T) {
	d, s := newTestDispatcher(t, nil)

	var handled atomic.Int32
	require.NoError(t, d.Register(cmdResp, "resp", func(ctx context.Context, s *Session, msg codec.Message) (codec.Message, error) {
		handled.Add(1)
		return nil, nil
	}, nil))

	id := uuid.New()
	out := make(chan *lookupResp, 1)
	go func() {
		resp, _ := SendCorrelated[*lookupResp](context.Background(), s, cmdReq, &lookupReq{ID: id, Key: 5})
		out <- resp
	}()
	waitPending(t, s, id)

	payload := encodePayload(t, &lookupResp{ID: id, Found: true})
	assert.True(t, d.DeserializeAndHandle(context.Background(), cmdResp, s.ID(), payload))

	resp := <-out
	require.NotNil(t, resp)
	assert.True(t, resp.Found)
	assert.Equal(t, int32(0), handled.Load(), "a completed operation skips the handlers")

	assert.True(t, d.DeserializeAndHandle(context.Background(), cmdResp, s.ID(), payload))
	assert.Equal(t, int32(1), handled.Load(), "without a waiter the handlers run")
}

func TestDispatcherDropsUndeliverable(t *testing.T) {
	d, s := newTestDispatcher(t, nil)
	ctx := context.Background()

	assert.False(t, d.DeserializeAndHandle(ctx, 0x7777, s.ID(), nil), "unknown command")
	assert.False(t, d.DeserializeAndHandle(ctx, cmdPong, s.ID(), encodePayload(t, &pong{})), "no handler")

	require.NoError(t, d.Register(cmdPing, "echo", echo, nil))
	assert.False(t, d.DeserializeAndHandle(ctx, cmdPing, s.ID(), []byte{1, 2}), "truncated body")
	assert.False(t, d.DeserializeAndHandle(ctx, cmdPing, uuid.New(), encodePayload(t, &ping{})), "unknown session")

	assert.Empty(t, queuedFrames(t, s))
	assert.True(t, s.Connected(), "decode errors keep the session")
}

func TestDispatcherHandlerBodySchema(t *testing.T) {
	d, s := newTestDispatcher(t, nil)

	var got []byte
	require.NoError(t, d.Register(0x0200, "raw", func(ctx context.Context, s *Session, msg codec.Message) (codec.Message, error) {
		got = msg.(*blob).Data
		return nil, nil
	}, blobSchema))

	assert.True(t, d.DeserializeAndHandle(context.Background(), 0x0200, s.ID(), []byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestDispatcherCommandFilter(t *testing.T) {
	d, s := newTestDispatcher(t, &DispatcherCfg{HandleTimeout: time.Second, CommandFilter: []uint16{cmdPing}})

	var calls atomic.Int32
	require.NoError(t, d.Register(cmdPing, "count", func(ctx context.Context, s *Session, msg codec.Message) (codec.Message, error) {
		calls.Add(1)
		return nil, nil
	}, nil))

	payload := encodePayload(t, &ping{})
	assert.False(t, d.DeserializeAndHandle(context.Background(), cmdPing, s.ID(), payload))
	assert.Equal(t, int32(0), calls.Load())

	require.NoError(t, d.OnConfigChanged(configNameDispatcher, &DispatcherCfg{HandleTimeout: time.Second}, d.Cfg()))
	assert.True(t, d.DeserializeAndHandle(context.Background(), cmdPing, s.ID(), payload))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatcherCustomFilter(t *testing.T) {
	d, s := newTestDispatcher(t, nil)
	require.NoError(t, d.Register(cmdPing, "echo", echo, nil))

	var seen []uint16
	d.RegDispatcherFilter(func(dd *DispatcherDelivery, f DispatcherFilterHandleFunc) error {
		seen = append(seen, dd.Command)
		return f(dd)
	})

	assert.True(t, d.DeserializeAndHandle(context.Background(), cmdPing, s.ID(), encodePayload(t, &ping{})))
	assert.Equal(t, []uint16{cmdPing}, seen)
}

func TestFilterChainOrder(t *testing.T) {
	var order []string
	chain := DispatcherFilterChain{
		func(dd *DispatcherDelivery, f DispatcherFilterHandleFunc) error {
			order = append(order, "first")
			return f(dd)
		},
		func(dd *DispatcherDelivery, f DispatcherFilterHandleFunc) error {
			order = append(order, "second")
			return errors.New("stop")
		},
	}

	err := chain.Handle(&DispatcherDelivery{}, func(dd *DispatcherDelivery) error {
		order = append(order, "handler")
		return nil
	})
	assert.Error(t, err)
	assert.Equal(t, []string{"first", "second"}, order)

	assert.NoError(t, DispatcherFilterChain(nil).Handle(&DispatcherDelivery{}, func(*DispatcherDelivery) error { return nil }))
}

type recordingController struct {
	registered bool
}

func (c *recordingController) RegisterHandlers(d *Dispatcher) error {
	c.registered = true
	return d.Register(cmdPing, "echo", echo, nil)
}

func TestDispatcherRegistration(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	assert.NoError(t, d.RegisterMessage(cmdPing, pingSchema), "same binding twice is fine")
	assert.Error(t, d.RegisterMessage(cmdPing, pongSchema), "command already bound")
	assert.Error(t, d.RegisterMessage(0x0300, pingSchema), "type already bound")
	assert.Error(t, d.RegisterMessage(0x0300, nil))
	assert.Error(t, d.Register(cmdPing, "nil", nil, nil))

	c := &recordingController{}
	require.NoError(t, d.RegisterController(c))
	assert.True(t, c.registered)

	info, ok := d.GetCommandInfo(cmdPing)
	require.True(t, ok)
	assert.Same(t, pingSchema, info.Schema)
	require.Len(t, info.Handlers, 1)
	assert.Equal(t, "echo", info.Handlers[0].Name)

	command, ok := d.CommandOf(&pong{})
	assert.True(t, ok)
	assert.Equal(t, cmdPong, command)

	m, err := d.CreateMsg(cmdReq)
	require.NoError(t, err)
	assert.IsType(t, &lookupReq{}, m)
	_, err = d.CreateMsg(0x7777)
	assert.ErrorIs(t, err, codec.ErrUnknownType)

	decoded, err := d.Decode(cmdPing, []byte{5, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, &ping{Value: 5}, decoded)

	assert.True(t, d.ContainsMsg(cmdPing))
	assert.False(t, d.ContainsMsg(0x7777))
	assert.Equal(t, []uint16{cmdPing, cmdPong, cmdReq, cmdResp}, d.Commands(nil))
	assert.Equal(t, []uint16{cmdPing}, d.Commands(func(info CommandInfo) bool { return len(info.Handlers) > 0 }))
}

func TestDispatcherSendUnknownType(t *testing.T) {
	d, s := newTestDispatcher(t, nil)
	assert.False(t, d.Send(s, &blob{}))
	assert.True(t, d.Send(s, &pong{Value: 1}))

	frames := queuedFrames(t, s)
	require.Len(t, frames, 1)
	assert.Equal(t, binary.LittleEndian.AppendUint32(nil, 1), frames[0].Payload)
}

func TestDispatcherCfgValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  DispatcherCfg
		ok   bool
	}{
		{"defaults", *DefaultDispatcherCfg(), true},
		{"no timeout", DispatcherCfg{}, false},
		{"token bucket", DispatcherCfg{HandleTimeout: time.Second, RecvRateLimit: 100, TokenBurst: 10}, true},
		{"token bucket without burst", DispatcherCfg{HandleTimeout: time.Second, RecvRateLimit: 100}, false},
		{"burst too large", DispatcherCfg{HandleTimeout: time.Second, RecvRateLimit: 1, TokenBurst: 11}, false},
		{"funnel without burst", DispatcherCfg{HandleTimeout: time.Second, RecvRateLimit: 100, Funnel: true}, true},
		{"negative rate", DispatcherCfg{HandleTimeout: time.Second, RecvRateLimit: -1}, false},
		{"rate too large", DispatcherCfg{HandleTimeout: time.Second, RecvRateLimit: 2000000, TokenBurst: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ok {
				assert.NoError(t, tt.cfg.Validate())
			} else {
				assert.Error(t, tt.cfg.Validate())
			}
		})
	}
}

func TestDispatcherConfigReloadRejectsInvalid(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	before := d.Cfg()

	assert.NoError(t, d.OnConfigChanged("session", DefaultSessionCfg(), nil))
	assert.Error(t, d.OnConfigChanged(configNameDispatcher, &DispatcherCfg{}, before))
	assert.Same(t, before, d.Cfg())
}
