package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/d4xyjen/jedi/log"
)

// ConsulResolver resolves healthy instances through the Consul health API and
// registers instances with the local agent.
type ConsulResolver struct {
	client *api.Client
	cfg    *Cfg
	next   atomic.Uint64
}

func NewConsulResolver(cfg *Cfg) (*ConsulResolver, error) {
	if cfg == nil {
		cfg = DefaultCfg()
	}
	client, err := api.NewClient(&api.Config{Address: cfg.ConsulAddr})
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	return &ConsulResolver{client: client, cfg: cfg}, nil
}

// Resolve picks the healthy instances of service in turn.
func (r *ConsulResolver) Resolve(ctx context.Context, service string) (string, error) {
	entries, _, err := r.client.Health().Service(service, "", true, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("query consul for %s: %w", service, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoInstances, service)
	}

	e := entries[r.next.Add(1)%uint64(len(entries))]
	addr := e.Service.Address
	if addr == "" && e.Node != nil {
		addr = e.Node.Address
	}
	return net.JoinHostPort(addr, strconv.Itoa(e.Service.Port)), nil
}

// Register announces r with a TCP health check on its address.
func (r *ConsulResolver) Register(ctx context.Context, reg Registration) error {
	if reg.ID == "" {
		reg.ID = fmt.Sprintf("%s-%s-%d", reg.Name, reg.Address, reg.Port)
	}
	check := &api.AgentServiceCheck{
		TCP:                            net.JoinHostPort(reg.Address, strconv.Itoa(reg.Port)),
		Interval:                       durationString(r.cfg.CheckInterval),
		Timeout:                        durationString(r.cfg.CheckTimeout),
		DeregisterCriticalServiceAfter: durationString(r.cfg.DeregisterAfter),
	}
	err := r.client.Agent().ServiceRegisterOpts(&api.AgentServiceRegistration{
		ID:      reg.ID,
		Name:    reg.Name,
		Tags:    reg.Tags,
		Address: reg.Address,
		Port:    reg.Port,
		Check:   check,
	}, api.ServiceRegisterOpts{ReplaceExistingChecks: true}.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register %s in consul: %w", reg.ID, err)
	}
	log.Info().Str("service", reg.Name).Str("id", reg.ID).Str("address", check.TCP).Msg("service registered in consul")
	return nil
}

func (r *ConsulResolver) Deregister(ctx context.Context, id string) error {
	if err := r.client.Agent().ServiceDeregisterOpts(id, (&api.QueryOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("deregister %s from consul: %w", id, err)
	}
	log.Info().Str("id", id).Msg("service deregistered from consul")
	return nil
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}
