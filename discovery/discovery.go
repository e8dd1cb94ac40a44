// Package discovery finds the endpoints of peer services, either from a static
// table or from Consul, and registers the local service in Consul.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/d4xyjen/jedi/config"
)

// ErrNoInstances is returned when a service has no known healthy endpoint.
var ErrNoInstances = errors.New("discovery: no healthy instances")

const configNameDiscovery = "discovery"

// Resolver maps a service name to one "host:port" endpoint.
type Resolver interface {
	Resolve(ctx context.Context, service string) (string, error)
}

// Registrar announces the local service to other services.
type Registrar interface {
	Register(ctx context.Context, r Registration) error
	Deregister(ctx context.Context, id string) error
}

// Registration describes one instance of a service.
type Registration struct {
	ID      string
	Name    string
	Address string
	Port    int
	Tags    []string
}

// Cfg is loaded from discovery.yaml.
type Cfg struct {
	// Enabled switches from the static table to Consul.
	Enabled    bool   `mapstructure:"enabled"`
	ConsulAddr string `mapstructure:"consulAddr"`
	// Static maps service names to endpoints. Names are matched case-insensitively.
	Static map[string]string `mapstructure:"static"`

	CheckInterval   time.Duration `mapstructure:"checkInterval"`
	CheckTimeout    time.Duration `mapstructure:"checkTimeout"`
	DeregisterAfter time.Duration `mapstructure:"deregisterAfter"`
}

func DefaultCfg() *Cfg {
	return &Cfg{
		ConsulAddr:      "127.0.0.1:8500",
		CheckInterval:   10 * time.Second,
		CheckTimeout:    2 * time.Second,
		DeregisterAfter: time.Minute,
	}
}

func (c *Cfg) GetName() string {
	return configNameDiscovery
}

func (c *Cfg) Validate() error {
	if c.Enabled && c.ConsulAddr == "" {
		return fmt.Errorf("consulAddr must be set when discovery is enabled")
	}
	if c.CheckInterval < 0 || c.CheckTimeout < 0 || c.DeregisterAfter < 0 {
		return fmt.Errorf("check durations must not be negative")
	}
	for name, endpoint := range c.Static {
		if endpoint == "" {
			return fmt.Errorf("static endpoint of %s is empty", name)
		}
	}
	return nil
}

func (c *Cfg) Default() config.Config {
	return DefaultCfg()
}

// StaticResolver resolves from a fixed table.
type StaticResolver struct {
	endpoints map[string]string
}

func NewStaticResolver(endpoints map[string]string) *StaticResolver {
	r := &StaticResolver{endpoints: make(map[string]string, len(endpoints))}
	for name, endpoint := range endpoints {
		r.endpoints[strings.ToLower(name)] = endpoint
	}
	return r
}

func (r *StaticResolver) Resolve(_ context.Context, service string) (string, error) {
	endpoint, ok := r.endpoints[strings.ToLower(service)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoInstances, service)
	}
	return endpoint, nil
}

// NewResolver returns a Consul resolver when discovery is enabled and the static
// table otherwise.
func NewResolver(cfg *Cfg) (Resolver, error) {
	if cfg == nil {
		cfg = DefaultCfg()
	}
	if !cfg.Enabled {
		return NewStaticResolver(cfg.Static), nil
	}
	return NewConsulResolver(cfg)
}
