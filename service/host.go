// Package service hosts one Jedi service: the session engine, its controllers,
// discovery registration and the metrics endpoint.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	gonet "net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/d4xyjen/jedi/config"
	"github.com/d4xyjen/jedi/discovery"
	"github.com/d4xyjen/jedi/log"
	"github.com/d4xyjen/jedi/metrics"
	"github.com/d4xyjen/jedi/net"
	"github.com/d4xyjen/jedi/protocol"
	"github.com/d4xyjen/jedi/utils"
)

// Host wires the session engine of one service together.
type Host struct {
	name string
	cm   config.ConfigManager
	cfg  *Cfg

	pool       *utils.BufferPool
	factory    *net.SessionFactory
	dispatcher *net.Dispatcher
	acceptor   *net.SessionAcceptor
	processor  *net.SessionEventProcessor

	discoveryCfg   *discovery.Cfg
	resolver       discovery.Resolver
	registrar      discovery.Registrar
	registrationID string

	metricsListener gonet.Listener
	closers         []io.Closer

	listenOnce sync.Once
	listenErr  error
}

// NewHost builds the engine of service name from the sections cm provides. cm may be
// nil, in which case every section keeps its defaults.
func NewHost(name string, cm config.ConfigManager) (*Host, error) {
	if name == "" {
		return nil, errors.New("service name cannot be empty")
	}
	if cm != nil {
		if err := log.InitializeWithConfigManager(cm); err != nil {
			log.Warn().Err(err).Msg("using default logger configuration")
		}
	}

	h := &Host{name: name, cm: cm}
	h.cfg = LoadConfig(cm, DefaultCfg)

	sessionCfg := LoadConfig(cm, net.DefaultSessionCfg)
	h.pool = utils.NewBufferPool(sessionCfg.MaxMessageSize)
	h.factory = net.NewSessionFactory(sessionCfg, net.NewSessionEventQueue(h.pool), h.pool)
	h.dispatcher = net.NewDispatcher(LoadConfig(cm, net.DefaultDispatcherCfg), h.factory)
	if cm != nil {
		cm.AddChangeListener(h.factory)
		cm.AddChangeListener(h.dispatcher)
	}

	if err := protocol.Register(h.dispatcher); err != nil {
		return nil, err
	}
	h.dispatcher.RegDispatcherFilter(traceFilter)
	if err := h.dispatcher.RegisterController(MiscController{}); err != nil {
		return nil, err
	}

	h.discoveryCfg = LoadConfig(cm, discovery.DefaultCfg)
	resolver, err := discovery.NewResolver(h.discoveryCfg)
	if err != nil {
		return nil, err
	}
	h.resolver = resolver
	if registrar, ok := resolver.(discovery.Registrar); ok {
		h.registrar = registrar
	}

	h.acceptor = net.NewSessionAcceptor(h.factory)
	h.processor = net.NewSessionEventProcessor(h.factory, h.dispatcher)
	return h, nil
}

func (h *Host) Name() string                        { return h.name }
func (h *Host) ConfigManager() config.ConfigManager { return h.cm }
func (h *Host) Factory() *net.SessionFactory        { return h.factory }
func (h *Host) Dispatcher() *net.Dispatcher         { return h.dispatcher }
func (h *Host) Resolver() discovery.Resolver        { return h.resolver }

// AddController registers the handlers of c.
func (h *Host) AddController(c net.Controller) error {
	return h.dispatcher.RegisterController(c)
}

// AddCloser closes c when the host shuts down.
func (h *Host) AddCloser(c io.Closer) {
	h.closers = append(h.closers, c)
}

// Listen binds the session endpoint and the metrics endpoint. Run calls it when
// nobody did before.
func (h *Host) Listen() error {
	h.listenOnce.Do(func() {
		if err := h.acceptor.Listen(); err != nil {
			h.listenErr = err
			return
		}
		if h.cfg.MetricsAddr != "" {
			l, err := gonet.Listen("tcp", h.cfg.MetricsAddr)
			if err != nil {
				_ = h.acceptor.Close()
				h.listenErr = fmt.Errorf("listen for metrics on %s: %w", h.cfg.MetricsAddr, err)
				return
			}
			h.metricsListener = l
		}
	})
	return h.listenErr
}

// Addr is the bound session endpoint, nil before Listen.
func (h *Host) Addr() gonet.Addr {
	return h.acceptor.Addr()
}

// MetricsAddr is the bound metrics endpoint, nil when disabled.
func (h *Host) MetricsAddr() gonet.Addr {
	if h.metricsListener == nil {
		return nil
	}
	return h.metricsListener.Addr()
}

// Run serves until ctx ends or one of the loops fails, then shuts down.
func (h *Host) Run(ctx context.Context) error {
	if err := h.Listen(); err != nil {
		return err
	}
	defer h.shutdown()

	if err := h.register(ctx); err != nil {
		return err
	}
	log.Info().Str("service", h.name).Str("addr", h.Addr().String()).Msg("service started")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// any loop returning stops the others
	g.Go(func() error {
		defer cancel()
		return h.acceptor.Serve(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return h.processor.Run(gctx)
	})
	if h.metricsListener != nil {
		srv := &http.Server{Handler: metricsMux()}
		g.Go(func() error {
			defer cancel()
			if err := srv.Serve(h.metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), h.cfg.ShutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	err := g.Wait()
	log.Info().Str("service", h.name).Err(err).Msg("service stopped")
	return err
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (h *Host) register(ctx context.Context) error {
	if h.registrar == nil {
		return nil
	}
	host, portStr, err := gonet.SplitHostPort(h.Addr().String())
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}
	host = advertiseHost(h.cfg.AdvertiseAddr, host)

	reg := discovery.Registration{
		ID:      fmt.Sprintf("%s-%s-%d", h.name, host, port),
		Name:    h.name,
		Address: host,
		Port:    port,
	}
	if err := h.registrar.Register(ctx, reg); err != nil {
		return err
	}
	h.registrationID = reg.ID
	return nil
}

func advertiseHost(advertise, listen string) string {
	switch {
	case advertise != "":
		return advertise
	case listen == "" || listen == "::" || listen == "0.0.0.0":
		return "127.0.0.1"
	default:
		return listen
	}
}

func (h *Host) shutdown() {
	_ = h.acceptor.Close()
	if h.metricsListener != nil {
		_ = h.metricsListener.Close()
	}

	if h.registrationID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ShutdownTimeout)
		if err := h.registrar.Deregister(ctx, h.registrationID); err != nil {
			log.Warn().Str("service", h.name).Err(err).Msg("deregister failed")
		}
		cancel()
		h.registrationID = ""
	}

	h.factory.DestroyAll()
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil {
			log.Warn().Str("service", h.name).Err(err).Msg("close failed")
		}
	}
	h.closers = nil

	if h.cm != nil {
		if err := h.cm.Close(); err != nil {
			log.Warn().Err(err).Msg("close config manager failed")
		}
	}
	log.Refresh()
}

// Run builds the host of service name, lets setup add its controllers and serves
// until ctx ends.
func Run(ctx context.Context, name string, cm config.ConfigManager, setup func(h *Host) error) error {
	h, err := NewHost(name, cm)
	if err != nil {
		return err
	}
	if setup != nil {
		if err := setup(h); err != nil {
			return fmt.Errorf("setup %s: %w", name, err)
		}
	}
	return h.Run(ctx)
}
