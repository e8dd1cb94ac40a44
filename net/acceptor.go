package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/d4xyjen/jedi/log"
	"github.com/d4xyjen/jedi/metrics"
)

const (
	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = time.Second
)

// SessionAcceptor owns the listening socket and turns accepted connections into
// inbound sessions.
type SessionAcceptor struct {
	factory *SessionFactory

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func NewSessionAcceptor(factory *SessionFactory) *SessionAcceptor {
	return &SessionAcceptor{factory: factory}
}

func listenAddress(cfg *SessionCfg) string {
	switch {
	case cfg.ServiceEndpoint != "":
		return cfg.ServiceEndpoint
	case cfg.Loopback:
		return "127.0.0.1:0"
	default:
		return ":0"
	}
}

// Listen binds the configured endpoint.
func (a *SessionAcceptor) Listen() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener != nil {
		return errors.New("acceptor already listening")
	}

	cfg := a.factory.Cfg()
	addr := listenAddress(cfg)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		metrics.IncrCounterWithDimGroup("net", "acceptor_error_total", 1, metrics.Dimension{"error_type": "listen"})
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	if cfg.AcceptorBacklog > 0 {
		if tcp, ok := l.(*net.TCPListener); ok {
			if err := setListenBacklog(tcp, cfg.AcceptorBacklog); err != nil {
				log.Warn().Int("backlog", cfg.AcceptorBacklog).Err(err).Msg("set listen backlog failed")
			}
		}
	}
	if cfg.MaxConnections > 0 {
		l = netutil.LimitListener(l, cfg.MaxConnections)
	}

	a.listener = l
	log.Info().Str("addr", l.Addr().String()).Int("backlog", cfg.AcceptorBacklog).
		Int("maxConnections", cfg.MaxConnections).Msg("acceptor listening")
	return nil
}

// Addr is the bound address, nil before Listen.
func (a *SessionAcceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Serve accepts connections until ctx ends or Close is called. Temporary accept
// errors are retried with a growing delay.
func (a *SessionAcceptor) Serve(ctx context.Context) error {
	a.mu.Lock()
	l := a.listener
	a.mu.Unlock()
	if l == nil {
		return errors.New("acceptor is not listening")
	}

	stop := context.AfterFunc(ctx, func() { _ = a.Close() })
	defer stop()

	var delay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if a.isClosed() {
				log.Info().Str("addr", l.Addr().String()).Msg("acceptor stopped")
				return nil
			}
			if isTemporaryAcceptError(err) {
				if delay == 0 {
					delay = acceptRetryMin
				} else {
					delay = min(delay*2, acceptRetryMax)
				}
				log.Warn().Err(err).Dur("retry", delay).Msg("accept failed")
				metrics.IncrCounterWithDimGroup("net", "acceptor_error_total", 1, metrics.Dimension{"error_type": "temporary"})

				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			metrics.IncrCounterWithDimGroup("net", "acceptor_error_total", 1, metrics.Dimension{"error_type": "accept"})
			return fmt.Errorf("accept: %w", err)
		}
		delay = 0

		metrics.IncrCounterWithGroup("net", "connection_accepted_total", 1)
		if _, err := a.factory.CreateInbound(conn); err != nil {
			log.Error().Err(err).Msg("create inbound session failed")
			_ = conn.Close()
		}
	}
}

func (a *SessionAcceptor) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Close stops accepting. Established sessions stay alive.
func (a *SessionAcceptor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.listener == nil {
		a.closed = true
		return nil
	}
	a.closed = true
	return a.listener.Close()
}

func isTemporaryAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return isResourceExhausted(err)
}
