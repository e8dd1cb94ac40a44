package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/d4xyjen/jedi/config"
	"github.com/d4xyjen/jedi/log"
	"github.com/d4xyjen/jedi/metrics"
	"github.com/d4xyjen/jedi/utils"
)

// SessionFactory creates sessions and indexes the live ones by id and, for outbound
// sessions, by endpoint.
type SessionFactory struct {
	cfg    atomic.Pointer[SessionCfg]
	events *SessionEventQueue
	pool   *utils.BufferPool
	crypt  Cryptography

	sessions  sync.Map // uuid.UUID -> *Session
	endpoints sync.Map // string -> *Session
	count     atomic.Int64
}

// NewSessionFactory builds a factory whose sessions report to events and draw
// buffers from pool.
func NewSessionFactory(cfg *SessionCfg, events *SessionEventQueue, pool *utils.BufferPool) *SessionFactory {
	if cfg == nil {
		cfg = DefaultSessionCfg()
	}
	f := &SessionFactory{
		events: events,
		pool:   pool,
		crypt:  XorCryptography{},
	}
	f.cfg.Store(cfg)
	return f
}

// NewSessionFactoryWithConfigManager loads session.yaml and follows its reloads.
func NewSessionFactoryWithConfigManager(configManager config.ConfigManager, events *SessionEventQueue, pool *utils.BufferPool) (*SessionFactory, error) {
	if configManager == nil {
		return nil, errors.New("configManager cannot be nil")
	}

	cfg := DefaultSessionCfg()
	if err := configManager.LoadConfig(configNameSession, cfg); err != nil {
		return nil, fmt.Errorf("failed to load session config: %w", err)
	}

	f := NewSessionFactory(cfg, events, pool)
	configManager.AddChangeListener(f)
	return f, nil
}

func (f *SessionFactory) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != configNameSession {
		return nil
	}

	newCfg, ok := newConfig.(*SessionCfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for SessionFactory")
	}
	if err := newCfg.Validate(); err != nil {
		return fmt.Errorf("invalid session configuration: %w", err)
	}

	f.cfg.Store(newCfg)
	log.Info().Str("configName", configName).Msg("session configuration updated")
	return nil
}

// Cfg returns the live session configuration.
func (f *SessionFactory) Cfg() *SessionCfg {
	return f.cfg.Load()
}

// SetCryptography replaces the cipher. Call it before the first session is created.
func (f *SessionFactory) SetCryptography(c Cryptography) {
	f.crypt = c
}

// Events is the queue every session of this factory reports to.
func (f *SessionFactory) Events() *SessionEventQueue {
	return f.events
}

func (f *SessionFactory) applySocketOptions(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcp.SetNoDelay(f.Cfg().NoDelay); err != nil {
		log.Warn().Str("remote", conn.RemoteAddr().String()).Err(err).Msg("set no delay failed")
	}
}

// CreateInbound registers and starts a session for an accepted connection.
func (f *SessionFactory) CreateInbound(conn net.Conn) (*Session, error) {
	if conn == nil {
		return nil, errors.New("conn cannot be nil")
	}
	f.applySocketOptions(conn)

	s := newSession(f, conn, "")
	f.register(s)
	s.Start()

	log.Debug().Str("session", s.id.String()).Str("remote", conn.RemoteAddr().String()).Msg("inbound session created")
	metrics.IncrCounterWithDimGroup("net", "session_created_total", 1, metrics.Dimension{"direction": "inbound"})
	return s, nil
}

// CreateOutbound returns the connected session to endpoint, dialing a new one when
// there is none or the indexed one was destroyed.
func (f *SessionFactory) CreateOutbound(ctx context.Context, endpoint string) (*Session, error) {
	if v, ok := f.endpoints.Load(endpoint); ok {
		existing := v.(*Session)
		if existing.Connected() {
			return existing, nil
		}
		f.Destroy(existing.id)
	}

	dialer := net.Dialer{Timeout: f.Cfg().ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		metrics.IncrCounterWithGroup("net", "connect_error_total", 1)
		return nil, fmt.Errorf("connect to %s: %w", endpoint, err)
	}
	f.applySocketOptions(conn)

	s := newSession(f, conn, endpoint)
	if v, loaded := f.endpoints.LoadOrStore(endpoint, s); loaded {
		other := v.(*Session)
		if other.Connected() {
			// another caller dialed the same endpoint first
			_ = conn.Close()
			return other, nil
		}
		f.endpoints.Store(endpoint, s)
	}
	f.register(s)
	s.Start()

	log.Debug().Str("session", s.id.String()).Str("endpoint", endpoint).Msg("outbound session created")
	metrics.IncrCounterWithDimGroup("net", "session_created_total", 1, metrics.Dimension{"direction": "outbound"})
	return s, nil
}

func (f *SessionFactory) register(s *Session) {
	f.sessions.Store(s.id, s)
	metrics.UpdateGaugeWithGroup("net", "sessions", metrics.Value(f.count.Add(1)))
}

// Get returns a registered session.
func (f *SessionFactory) Get(id uuid.UUID) (*Session, bool) {
	v, ok := f.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Destroy unregisters a session and destroys it. It reports false for unknown ids.
func (f *SessionFactory) Destroy(id uuid.UUID) bool {
	v, ok := f.sessions.LoadAndDelete(id)
	if !ok {
		return false
	}
	s := v.(*Session)
	if s.endpoint != "" {
		f.endpoints.CompareAndDelete(s.endpoint, s)
	}
	metrics.UpdateGaugeWithGroup("net", "sessions", metrics.Value(f.count.Add(-1)))

	s.Destroy()
	return true
}

// Len is the number of registered sessions.
func (f *SessionFactory) Len() int {
	return int(f.count.Load())
}

// Range calls fn for every registered session until fn returns false.
func (f *SessionFactory) Range(fn func(s *Session) bool) {
	f.sessions.Range(func(_, v any) bool {
		return fn(v.(*Session))
	})
}

// DestroyAll destroys every registered session.
func (f *SessionFactory) DestroyAll() {
	f.sessions.Range(func(k, _ any) bool {
		f.Destroy(k.(uuid.UUID))
		return true
	})
}
