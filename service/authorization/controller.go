// Package authorization checks client versions and logs users in.
package authorization

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/d4xyjen/jedi/codec"
	"github.com/d4xyjen/jedi/config"
	"github.com/d4xyjen/jedi/log"
	"github.com/d4xyjen/jedi/net"
	"github.com/d4xyjen/jedi/protocol"
)

// PasswordChecker verifies credentials, usually through the datastore service.
type PasswordChecker interface {
	CheckPassword(ctx context.Context, username, password string) (*protocol.PasswordCheckAck, bool)
}

// Controller handles the authorization commands.
type Controller struct {
	cfg       atomic.Pointer[Cfg]
	passwords PasswordChecker
	d         *net.Dispatcher
}

func NewController(cfg *Cfg, passwords PasswordChecker) *Controller {
	if cfg == nil {
		cfg = DefaultCfg()
	}
	c := &Controller{passwords: passwords}
	c.cfg.Store(cfg)
	return c
}

func (c *Controller) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != configNameAuthorization {
		return nil
	}
	newCfg, ok := newConfig.(*Cfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for authorization")
	}
	if err := newCfg.Validate(); err != nil {
		return fmt.Errorf("invalid authorization configuration: %w", err)
	}
	c.cfg.Store(newCfg)
	log.Info().Str("configName", configName).Msg("authorization configuration updated")
	return nil
}

func (c *Controller) RegisterHandlers(d *net.Dispatcher) error {
	c.d = d
	for _, r := range []struct {
		command uint16
		name    string
		fn      net.HandlerFunc
	}{
		{protocol.MISC_SEED_REQ, "authorization.seed", c.seed},
		{protocol.USER_CLIENT_VERSION_CHECK_REQ, "authorization.checkVersion", c.checkVersion},
		{protocol.USER_US_LOGIN_REQ, "authorization.login", c.login},
		{protocol.USER_XTRAP_REQ, "authorization.checkXTrapKey", c.checkXTrapKey},
	} {
		if err := d.Register(r.command, r.name, r.fn, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) seed(_ context.Context, s *net.Session, _ codec.Message) (codec.Message, error) {
	seed := s.NewSeed()
	log.Info().Str("session", s.ID().String()).Uint16("seed", seed).Msg("assigned new seed to session")
	return &protocol.SeedAck{Seed: seed}, nil
}

func (c *Controller) checkVersion(_ context.Context, s *net.Session, msg codec.Message) (codec.Message, error) {
	req := msg.(*protocol.VersionCheckReq)

	supported := c.cfg.Load().SupportedGameClientVersions
	if len(supported) == 0 {
		log.Error().Str("session", s.ID().String()).Msg("no supported client versions were configured")
		return nil, nil
	}
	if !slices.Contains(supported, req.Version) {
		log.Warn().Str("session", s.ID().String()).Str("version", req.Version).Msg("client version not supported")
		return &protocol.WrongVersionAck{}, nil
	}

	log.Info().Str("session", s.ID().String()).Str("version", req.Version).Msg("client version supported")
	return &protocol.RightVersionAck{XTrapKey: protocol.XTrapKey}, nil
}

// login answers from its own goroutine. The password check waits for a datastore
// response that the event processor delivers, so it must not block the processor.
func (c *Controller) login(_ context.Context, s *net.Session, msg codec.Message) (codec.Message, error) {
	req := msg.(*protocol.LoginReq)
	log.Info().Str("session", s.ID().String()).Str("username", req.Username).Str("spawnapps", req.Spawnapps).Msg("user logging in")

	go c.completeLogin(s, req)
	return nil, nil
}

func (c *Controller) completeLogin(s *net.Session, req *protocol.LoginReq) {
	cfg := c.cfg.Load()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.LoginTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	ack, ok := c.passwords.CheckPassword(ctx, req.Username, req.Password)
	switch {
	case !s.Connected():
		log.Debug().Str("session", s.ID().String()).Str("username", req.Username).Msg("session left during login")
		return
	case !ok:
		log.Error().Str("session", s.ID().String()).Str("username", req.Username).Msg("password check unavailable")
		c.d.Send(s, &protocol.LoginFailAck{Error: protocol.LoginErrorServerUnavailable})
	case !ack.Authenticated:
		log.Warn().Str("session", s.ID().String()).Str("username", req.Username).Msg("invalid credentials")
		c.d.Send(s, &protocol.LoginFailAck{Error: protocol.LoginErrorInvalidCredentials})
	default:
		log.Info().Str("session", s.ID().String()).Str("username", req.Username).Dur("took", time.Since(start)).Msg("user logged in")
		c.d.Send(s, &protocol.LoginAck{Worlds: worlds(cfg.Worlds)})
	}
}

func worlds(cfgs []WorldCfg) []protocol.World {
	list := make([]protocol.World, 0, len(cfgs))
	for _, w := range cfgs {
		list = append(list, protocol.World{ID: w.ID, Name: w.Name, Status: w.Status})
	}
	return list
}

func (c *Controller) checkXTrapKey(_ context.Context, s *net.Session, msg codec.Message) (codec.Message, error) {
	req := msg.(*protocol.XTrapReq)
	ok := protocol.ValidXTrapKey(req.XTrapKey)
	if !ok {
		log.Warn().Str("session", s.ID().String()).Int("length", len(req.XTrapKey)).Msg("invalid XTrap key")
	}
	return &protocol.XTrapAck{Success: ok}, nil
}
