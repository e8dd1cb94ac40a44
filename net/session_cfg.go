package net

import (
	"fmt"
	"time"

	"github.com/d4xyjen/jedi/config"
)

const configNameSession = "session"

// SessionCfg is loaded from session.yaml. Every field may change at runtime;
// sessions read the live value on each use.
type SessionCfg struct {
	// ServiceEndpoint is the listen address. Empty means an ephemeral port,
	// on 127.0.0.1 when Loopback is set.
	ServiceEndpoint string `mapstructure:"serviceEndpoint"`
	Loopback        bool   `mapstructure:"loopback"`
	NoDelay         bool   `mapstructure:"noDelay"`

	MaxMessageSize           int `mapstructure:"maxMessageSize"`
	EventBacklogPerSession   int `mapstructure:"eventBacklogPerSession"`
	MessageBacklogPerSession int `mapstructure:"messageBacklogPerSession"`

	SendTimeout time.Duration `mapstructure:"sendTimeout"`
	// ReceiveTimeout of zero waits forever.
	ReceiveTimeout time.Duration `mapstructure:"receiveTimeout"`

	// AcceptorBacklog of zero keeps the system default.
	AcceptorBacklog int `mapstructure:"acceptorBacklog"`
	// MaxConnections of zero does not cap concurrent connections.
	MaxConnections int `mapstructure:"maxConnections"`

	ThrottlingEnabled bool `mapstructure:"throttlingEnabled"`
	ThrottlingLimit   int  `mapstructure:"throttlingLimit"`

	CorrelationTimeout time.Duration `mapstructure:"correlationTimeout"`
	ConnectTimeout     time.Duration `mapstructure:"connectTimeout"`
}

// DefaultSessionCfg returns the values used when session.yaml is absent.
func DefaultSessionCfg() *SessionCfg {
	return &SessionCfg{
		Loopback:                 true,
		NoDelay:                  true,
		MaxMessageSize:           16000,
		EventBacklogPerSession:   10000,
		MessageBacklogPerSession: 10000,
		SendTimeout:              5 * time.Second,
		ThrottlingEnabled:        true,
		ThrottlingLimit:          100,
		CorrelationTimeout:       5 * time.Second,
		ConnectTimeout:           5 * time.Second,
	}
}

func (c *SessionCfg) GetName() string {
	return configNameSession
}

func (c *SessionCfg) Validate() error {
	if c.MaxMessageSize <= 0 || c.MaxMessageSize > MaxFrameBody {
		return fmt.Errorf("maxMessageSize must be between 1 and %d", MaxFrameBody)
	}
	if c.EventBacklogPerSession <= 0 {
		return fmt.Errorf("eventBacklogPerSession must be positive")
	}
	if c.MessageBacklogPerSession <= 0 {
		return fmt.Errorf("messageBacklogPerSession must be positive")
	}
	if c.SendTimeout < 0 || c.ReceiveTimeout < 0 || c.CorrelationTimeout < 0 || c.ConnectTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.AcceptorBacklog < 0 || c.MaxConnections < 0 {
		return fmt.Errorf("acceptorBacklog and maxConnections must not be negative")
	}
	if c.ThrottlingEnabled && c.ThrottlingLimit <= 0 {
		return fmt.Errorf("throttlingLimit must be positive when throttling is enabled")
	}
	return nil
}

func (c *SessionCfg) Default() config.Config {
	return DefaultSessionCfg()
}
