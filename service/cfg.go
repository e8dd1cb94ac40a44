package service

import (
	"fmt"
	"time"

	"github.com/d4xyjen/jedi/config"
	"github.com/d4xyjen/jedi/log"
)

const configNameService = "service"

// Cfg is loaded from service.yaml.
type Cfg struct {
	// MetricsAddr serves /metrics; empty disables the endpoint.
	MetricsAddr string `mapstructure:"metricsAddr"`
	// AdvertiseAddr is the host registered in discovery. Empty uses the listen host,
	// or 127.0.0.1 when listening on every interface.
	AdvertiseAddr   string        `mapstructure:"advertiseAddr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

func DefaultCfg() *Cfg {
	return &Cfg{ShutdownTimeout: 5 * time.Second}
}

func (c *Cfg) GetName() string {
	return configNameService
}

func (c *Cfg) Validate() error {
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdownTimeout must be positive")
	}
	return nil
}

func (c *Cfg) Default() config.Config {
	return DefaultCfg()
}

// LoadConfig loads the section of defaults() through cm. A missing or invalid
// section is logged and the defaults are used instead.
func LoadConfig[T config.Config](cm config.ConfigManager, defaults func() T) T {
	cfg := defaults()
	if cm == nil {
		return cfg
	}
	if err := cm.LoadConfig(cfg.GetName(), cfg); err != nil {
		log.Warn().Str("configName", cfg.GetName()).Err(err).Msg("using default configuration")
		return defaults()
	}
	return cfg
}
