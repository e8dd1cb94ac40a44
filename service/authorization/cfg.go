package authorization

import (
	"fmt"
	"time"

	"github.com/d4xyjen/jedi/client"
	"github.com/d4xyjen/jedi/config"
)

const configNameAuthorization = "authorization"

// Cfg is loaded from authorization.yaml.
type Cfg struct {
	SupportedGameClientVersions []string `mapstructure:"supportedGameClientVersions"`
	// Worlds is the list sent to clients after a successful login.
	Worlds []WorldCfg `mapstructure:"worlds"`
	// Datastore locates the datastore service.
	Datastore client.Cfg `mapstructure:"datastore"`
	// LoginTimeout bounds the datastore round trip of one login.
	LoginTimeout time.Duration `mapstructure:"loginTimeout"`
}

type WorldCfg struct {
	ID     uint8  `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	Status uint8  `mapstructure:"status"`
}

func DefaultCfg() *Cfg {
	return &Cfg{
		Datastore:    client.Cfg{Service: "datastore"},
		LoginTimeout: 10 * time.Second,
	}
}

func (c *Cfg) GetName() string {
	return configNameAuthorization
}

func (c *Cfg) Validate() error {
	if err := c.Datastore.Validate(); err != nil {
		return fmt.Errorf("datastore: %w", err)
	}
	if c.LoginTimeout <= 0 {
		return fmt.Errorf("loginTimeout must be positive")
	}
	seen := make(map[uint8]struct{}, len(c.Worlds))
	for _, w := range c.Worlds {
		if _, dup := seen[w.ID]; dup {
			return fmt.Errorf("world id %d is listed twice", w.ID)
		}
		seen[w.ID] = struct{}{}
		if len(w.Name) > 16 {
			return fmt.Errorf("world name %q is longer than 16 bytes", w.Name)
		}
	}
	return nil
}

func (c *Cfg) Default() config.Config {
	return DefaultCfg()
}
