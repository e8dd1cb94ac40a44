// Package datastore answers credential checks for the other services.
package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/d4xyjen/jedi/codec"
	store "github.com/d4xyjen/jedi/datastore"
	"github.com/d4xyjen/jedi/log"
	"github.com/d4xyjen/jedi/net"
	"github.com/d4xyjen/jedi/protocol"
	"github.com/d4xyjen/jedi/service"
)

// Name is the service name used for configuration and discovery.
const Name = "datastore"

type Controller struct {
	provider store.Provider
}

func NewController(provider store.Provider) *Controller {
	return &Controller{provider: provider}
}

func (c *Controller) RegisterHandlers(d *net.Dispatcher) error {
	return d.Register(protocol.USER_PASSWORD_CHECK_REQ, "datastore.checkPassword", c.checkPassword, nil)
}

// checkPassword answers unknown users as not authenticated. Backend failures get
// no answer, so the caller times out instead of rejecting valid credentials.
func (c *Controller) checkPassword(ctx context.Context, s *net.Session, msg codec.Message) (codec.Message, error) {
	req := msg.(*protocol.PasswordCheckReq)

	ok, err := c.provider.CheckPassword(ctx, req.Username, req.Password)
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("check password of %s: %w", req.Username, err)
	}
	log.Debug().Str("session", s.ID().String()).Str("operation", req.OperationId.String()).
		Str("username", req.Username).Bool("authenticated", ok).Msg("password checked")

	return &protocol.PasswordCheckAck{OperationId: req.OperationId, Authenticated: ok}, nil
}

// Setup opens the provider configured in datastore.yaml and adds the controller to h.
func Setup(h *service.Host) error {
	cfg := service.LoadConfig(h.ConfigManager(), store.DefaultCfg)
	provider, err := store.Open(context.Background(), cfg)
	if err != nil {
		return err
	}
	h.AddCloser(provider)
	log.Info().Str("provider", provider.Name()).Msg("datastore provider opened")
	return h.AddController(NewController(provider))
}
