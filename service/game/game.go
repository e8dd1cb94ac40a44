// Package game handles avatar management.
package game

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/d4xyjen/jedi/codec"
	"github.com/d4xyjen/jedi/config"
	"github.com/d4xyjen/jedi/log"
	"github.com/d4xyjen/jedi/net"
	"github.com/d4xyjen/jedi/protocol"
	"github.com/d4xyjen/jedi/service"
)

// Name is the service name used for configuration and discovery.
const Name = "game"

const (
	configNameGame = "game"
	maxNameLength  = 16
)

// Cfg is loaded from game.yaml.
type Cfg struct {
	AvatarSlots   int `mapstructure:"avatarSlots"`
	MinNameLength int `mapstructure:"minNameLength"`
}

func DefaultCfg() *Cfg {
	return &Cfg{AvatarSlots: 6, MinNameLength: 3}
}

func (c *Cfg) GetName() string {
	return configNameGame
}

func (c *Cfg) Validate() error {
	if c.AvatarSlots <= 0 || c.AvatarSlots > 255 {
		return fmt.Errorf("avatarSlots must be between 1 and 255")
	}
	if c.MinNameLength <= 0 || c.MinNameLength > maxNameLength {
		return fmt.Errorf("minNameLength must be between 1 and %d", maxNameLength)
	}
	return nil
}

func (c *Cfg) Default() config.Config {
	return DefaultCfg()
}

type Controller struct {
	cfg atomic.Pointer[Cfg]
}

func NewController(cfg *Cfg) *Controller {
	if cfg == nil {
		cfg = DefaultCfg()
	}
	c := &Controller{}
	c.cfg.Store(cfg)
	return c
}

func (c *Controller) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != configNameGame {
		return nil
	}
	newCfg, ok := newConfig.(*Cfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for game")
	}
	if err := newCfg.Validate(); err != nil {
		return fmt.Errorf("invalid game configuration: %w", err)
	}
	c.cfg.Store(newCfg)
	return nil
}

func (c *Controller) RegisterHandlers(d *net.Dispatcher) error {
	return d.Register(protocol.AVATAR_CREATE_REQ, "game.createAvatar", c.createAvatar, nil)
}

func (c *Controller) createAvatar(_ context.Context, s *net.Session, msg codec.Message) (codec.Message, error) {
	req := msg.(*protocol.AvatarCreateReq)
	cfg := c.cfg.Load()

	if int(req.Slot) >= cfg.AvatarSlots {
		log.Warn().Str("session", s.ID().String()).Uint8("slot", req.Slot).Msg("avatar slot out of range")
		return &protocol.AvatarCreateFailAck{Error: protocol.AvatarErrorInvalidSlot}, nil
	}
	if !validName(req.Name, cfg.MinNameLength) {
		log.Warn().Str("session", s.ID().String()).Str("name", req.Name).Msg("invalid avatar name")
		return &protocol.AvatarCreateFailAck{Error: protocol.AvatarErrorInvalidName}, nil
	}

	log.Info().Str("session", s.ID().String()).Uint8("slot", req.Slot).Str("name", req.Name).Msg("avatar created")
	return &protocol.AvatarCreateAck{Slot: req.Slot}, nil
}

// validName accepts ASCII letters and digits, starting with a letter.
func validName(name string, minLength int) bool {
	if len(name) < minLength || len(name) > maxNameLength {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Setup adds the game controller to h.
func Setup(h *service.Host) error {
	c := NewController(service.LoadConfig(h.ConfigManager(), DefaultCfg))
	if cm := h.ConfigManager(); cm != nil {
		cm.AddChangeListener(c)
	}
	return h.AddController(c)
}
