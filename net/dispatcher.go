package net

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/d4xyjen/jedi/codec"
	"github.com/d4xyjen/jedi/config"
	"github.com/d4xyjen/jedi/log"
	"github.com/d4xyjen/jedi/metrics"
)

const configNameDispatcher = "dispatcher"

// DispatcherDelivery is one inbound message on its way through the filter chain.
type DispatcherDelivery struct {
	ctx     context.Context
	Session *Session
	Command uint16
	// Payload is the body without the command code. It is only valid during dispatch.
	Payload []byte
}

// Controller registers the handlers of one business module.
type Controller interface {
	RegisterHandlers(d *Dispatcher) error
}

// DispatcherCfg is loaded from dispatcher.yaml.
type DispatcherCfg struct {
	HandleTimeout time.Duration `mapstructure:"handleTimeout"`
	// RecvRateLimit is messages per second over all sessions; zero means unlimited.
	RecvRateLimit int  `mapstructure:"recvRateLimit"`
	TokenBurst    int  `mapstructure:"tokenBurst"`
	Funnel        bool `mapstructure:"funnel"`
	// CommandFilter lists commands dropped before decoding.
	CommandFilter []uint16 `mapstructure:"commandFilter"`
}

func DefaultDispatcherCfg() *DispatcherCfg {
	return &DispatcherCfg{HandleTimeout: 5 * time.Second}
}

func (c *DispatcherCfg) GetName() string {
	return configNameDispatcher
}

func (c *DispatcherCfg) Validate() error {
	if c.HandleTimeout <= 0 {
		return fmt.Errorf("HandleTimeout must be positive")
	}
	if c.RecvRateLimit < 0 {
		return fmt.Errorf("RecvRateLimit must not be negative")
	}
	if c.RecvRateLimit > 1000000 {
		return fmt.Errorf("RecvRateLimit cannot exceed 1,000,000 messages per second")
	}
	if c.RecvRateLimit > 0 && !c.Funnel {
		if c.TokenBurst <= 0 {
			return fmt.Errorf("TokenBurst must be positive")
		}
		if c.TokenBurst > c.RecvRateLimit*10 {
			return fmt.Errorf("TokenBurst cannot exceed 10 times RecvRateLimit")
		}
	}
	return nil
}

func (c *DispatcherCfg) Default() config.Config {
	return DefaultDispatcherCfg()
}

// Dispatcher decodes inbound bodies and runs the handlers registered for their command.
type Dispatcher struct {
	*MessageManager

	factory       *SessionFactory
	cfg           atomic.Pointer[DispatcherCfg]
	filters       DispatcherFilterChain
	blocked       atomic.Pointer[map[uint16]struct{}]
	tokenLimiter  *DispatcherRecvLimiter
	funnelLimiter *FunnelRecvLimiter
}

// NewDispatcher builds a dispatcher resolving session ids through factory.
func NewDispatcher(cfg *DispatcherCfg, factory *SessionFactory) *Dispatcher {
	if cfg == nil {
		cfg = DefaultDispatcherCfg()
	}

	d := &Dispatcher{
		MessageManager: NewMessageManager(),
		factory:        factory,
		tokenLimiter:   NewTokenRecvLimiter(0, 0),
		funnelLimiter:  NewFunnelRecvLimiter(0),
	}
	d.apply(cfg)

	d.filters = append(d.filters, d.commandFilter)
	d.filters = append(d.filters, d.tokenLimiter.recvLimiterFilter)
	d.filters = append(d.filters, d.funnelLimiter.recvLimiterFilter)
	return d
}

// NewDispatcherWithConfigManager loads dispatcher.yaml and follows its reloads.
func NewDispatcherWithConfigManager(configManager config.ConfigManager, factory *SessionFactory) (*Dispatcher, error) {
	if configManager == nil {
		return nil, errors.New("configManager cannot be nil")
	}

	cfg := DefaultDispatcherCfg()
	if err := configManager.LoadConfig(configNameDispatcher, cfg); err != nil {
		return nil, fmt.Errorf("failed to load dispatcher config: %w", err)
	}

	d := NewDispatcher(cfg, factory)
	configManager.AddChangeListener(d)
	return d, nil
}

func (d *Dispatcher) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != configNameDispatcher {
		return nil
	}

	newCfg, ok := newConfig.(*DispatcherCfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for Dispatcher")
	}
	if err := newCfg.Validate(); err != nil {
		return fmt.Errorf("invalid dispatcher configuration: %w", err)
	}

	d.apply(newCfg)
	log.Info().Str("configName", configName).Msg("dispatcher configuration updated")
	return nil
}

func (d *Dispatcher) apply(cfg *DispatcherCfg) {
	if cfg.Funnel {
		d.tokenLimiter.Reload(0, 0)
		d.funnelLimiter.Reload(cfg.RecvRateLimit)
	} else {
		d.funnelLimiter.Reload(0)
		d.tokenLimiter.Reload(cfg.RecvRateLimit, cfg.TokenBurst)
	}
	d.reloadCommandFilter(cfg.CommandFilter)
	d.cfg.Store(cfg)
}

func (d *Dispatcher) Cfg() *DispatcherCfg {
	return d.cfg.Load()
}

// RegDispatcherFilter appends a filter after the built-in ones. Call it before serving.
func (d *Dispatcher) RegDispatcherFilter(f DispatcherFilter) {
	d.filters = append(d.filters, f)
}

// Register adds a handler for command. body may be nil to decode with the type
// registered through RegisterMessage.
func (d *Dispatcher) Register(command uint16, name string, fn HandlerFunc, body *codec.Schema) error {
	return d.RegisterHandler(command, Handler{Name: name, Handle: fn, Body: body})
}

// RegisterController lets c register its handlers.
func (d *Dispatcher) RegisterController(c Controller) error {
	return c.RegisterHandlers(d)
}

// Send sends m to s under the command registered for its type.
func (d *Dispatcher) Send(s *Session, m codec.Message) bool {
	command, ok := d.CommandOf(m)
	if !ok {
		log.Error().Str("session", s.id.String()).Str("type", fmt.Sprintf("%T", m)).Err(codec.ErrUnknownType).Msg("no command for message")
		return false
	}
	return s.Send(command, m)
}

// DeserializeAndHandle dispatches payload, the body of command without the command
// code, received by session id. It reports whether the message reached a handler or
// completed a pending operation.
func (d *Dispatcher) DeserializeAndHandle(ctx context.Context, command uint16, id uuid.UUID, payload []byte) bool {
	s, ok := d.factory.Get(id)
	if !ok {
		log.Debug().Str("session", id.String()).Uint16("command", command).Msg("message for unknown session dropped")
		return false
	}

	dd := &DispatcherDelivery{ctx: ctx, Session: s, Command: command, Payload: payload}
	if err := d.filters.Handle(dd, d.handle); err != nil {
		e := log.Warn()
		if errors.Is(err, ErrCommandFiltered) {
			e = log.Debug()
		}
		e.Str("session", id.String()).Uint16("command", command).Err(err).Msg("message dropped")
		metrics.IncrCounterWithDimGroup("net", "message_dropped_total", 1, metrics.Dimension{"command": commandLabel(command)})
		return false
	}
	return true
}

func (d *Dispatcher) handle(dd *DispatcherDelivery) error {
	info, _ := d.GetCommandInfo(dd.Command)

	var msg codec.Message
	if info.Schema != nil {
		var err error
		if msg, err = info.Schema.Decode(dd.Payload); err != nil {
			return fmt.Errorf("decode %s: %w", info.Schema.Name(), err)
		}
		if c, ok := msg.(CorrelatedMessage); ok && dd.Session.CompleteOperation(c.OperationID(), msg) {
			return nil
		}
	}

	if len(info.Handlers) == 0 {
		if info.Schema == nil {
			return fmt.Errorf("%w: command %d", codec.ErrUnknownType, dd.Command)
		}
		return fmt.Errorf("%w: command %d", ErrNoHandler, dd.Command)
	}

	metrics.IncrCounterWithDimGroup("net", "message_handled_total", 1, metrics.Dimension{"command": commandLabel(dd.Command)})
	for _, h := range info.Handlers {
		m := msg
		if h.Body != nil {
			var err error
			if m, err = h.Body.Decode(dd.Payload); err != nil {
				log.Warn().Str("handler", h.Name).Uint16("command", dd.Command).Err(err).Msg("decode handler body failed")
				continue
			}
		}
		if m == nil {
			log.Error().Str("handler", h.Name).Uint16("command", dd.Command).Err(codec.ErrUnknownType).Msg("handler has no message type")
			continue
		}
		d.invoke(dd.ctx, h, dd.Session, dd.Command, m)
	}
	return nil
}

type handlerResult struct {
	response codec.Message
	err      error
}

// invoke runs one handler with HandleTimeout. Errors and panics stay with the handler.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, s *Session, command uint16, m codec.Message) {
	hctx, cancel := context.WithTimeout(ctx, d.Cfg().HandleTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		resp, err := h.Handle(hctx, s, m)
		done <- handlerResult{response: resp, err: err}
	}()

	select {
	case r := <-done:
		metrics.RecordStopwatchWithDimGroup("net", "handler_duration_seconds", start, metrics.Dimension{"handler": h.Name})
		if r.err != nil {
			log.Error().Str("session", s.id.String()).Str("handler", h.Name).Uint16("command", command).Err(r.err).Msg("handler failed")
			metrics.IncrCounterWithDimGroup("net", "handler_error_total", 1, metrics.Dimension{"handler": h.Name})
			return
		}
		if r.response != nil {
			d.Send(s, r.response)
		}
	case <-hctx.Done():
		log.Warn().Str("session", s.id.String()).Str("handler", h.Name).Uint16("command", command).
			Dur("timeout", d.Cfg().HandleTimeout).Err(ErrHandlerTimeout).Msg("handler did not finish")
		metrics.IncrCounterWithDimGroup("net", "handler_timeout_total", 1, metrics.Dimension{"handler": h.Name})
	}
}

func commandLabel(command uint16) string {
	return strconv.FormatUint(uint64(command), 10)
}
