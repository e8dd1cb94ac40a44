// Package client talks to peer services over outbound sessions.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/d4xyjen/jedi/discovery"
	"github.com/d4xyjen/jedi/net"
)

// Cfg names the peer a client talks to. Endpoint wins over Service.
type Cfg struct {
	// Service is resolved through discovery.
	Service  string `mapstructure:"service"`
	Endpoint string `mapstructure:"endpoint"`
}

func (c Cfg) Validate() error {
	if c.Service == "" && c.Endpoint == "" {
		return errors.New("client needs a service or an endpoint")
	}
	return nil
}

// ServiceClient keeps one outbound session to a peer service, dialing again once
// the previous session is gone.
type ServiceClient struct {
	cfg      Cfg
	factory  *net.SessionFactory
	resolver discovery.Resolver
}

func NewServiceClient(cfg Cfg, factory *net.SessionFactory, resolver discovery.Resolver) (*ServiceClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, errors.New("factory cannot be nil")
	}
	if cfg.Endpoint == "" && resolver == nil {
		return nil, fmt.Errorf("client for %s needs a resolver", cfg.Service)
	}
	return &ServiceClient{cfg: cfg, factory: factory, resolver: resolver}, nil
}

func (c *ServiceClient) endpoint(ctx context.Context) (string, error) {
	if c.cfg.Endpoint != "" {
		return c.cfg.Endpoint, nil
	}
	return c.resolver.Resolve(ctx, c.cfg.Service)
}

// Session returns a connected session to the peer.
func (c *ServiceClient) Session(ctx context.Context) (*net.Session, error) {
	endpoint, err := c.endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return c.factory.CreateOutbound(ctx, endpoint)
}

// Call sends a correlated request and waits for the response of type T.
func Call[T net.CorrelatedMessage](ctx context.Context, c *ServiceClient, command uint16, req net.CorrelatedMessage) (T, error) {
	var zero T
	s, err := c.Session(ctx)
	if err != nil {
		return zero, err
	}
	resp, ok := net.SendCorrelated[T](ctx, s, command, req)
	if !ok {
		return zero, fmt.Errorf("%w: operation %s on %s", ErrNoResponse, req.OperationID(), s.Endpoint())
	}
	return resp, nil
}

// ErrNoResponse is returned when a request was not answered in time.
var ErrNoResponse = errors.New("client: no response")
