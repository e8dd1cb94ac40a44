// Package datastore stores accounts and checks their credentials. Backends are
// registered by name and chosen through datastore.yaml.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/d4xyjen/jedi/config"
)

var (
	// ErrUserNotFound is returned when no account exists for a username.
	ErrUserNotFound = errors.New("datastore: user not found")
	// ErrProviderNotFound is returned by Open for unregistered provider names.
	ErrProviderNotFound = errors.New("datastore: provider not found")
)

const configNameDatastore = "datastore"

// Provider checks account credentials.
type Provider interface {
	// CheckPassword reports whether password matches the stored hash of username.
	// It returns ErrUserNotFound for unknown accounts.
	CheckPassword(ctx context.Context, username, password string) (bool, error)
	// SetPassword stores a bcrypt hash of password for username.
	SetPassword(ctx context.Context, username, password string) error
	Name() string
	Close() error
}

// Factory builds a provider from the datastore configuration.
type Factory interface {
	Name() string
	Setup(cfg *Cfg) (Provider, error)
}

var (
	_factoryLock sync.RWMutex
	_factoryMap  = make(map[string]Factory)
)

// RegisterProvider makes a factory available to Open. Call it from init.
func RegisterProvider(f Factory) {
	_factoryLock.Lock()
	defer _factoryLock.Unlock()
	_factoryMap[f.Name()] = f
}

// Providers lists the registered provider names.
func Providers() []string {
	_factoryLock.RLock()
	defer _factoryLock.RUnlock()

	names := make([]string, 0, len(_factoryMap))
	for name := range _factoryMap {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open builds the provider named by cfg.Provider and seeds it with cfg.Users.
func Open(ctx context.Context, cfg *Cfg) (Provider, error) {
	if cfg == nil {
		cfg = DefaultCfg()
	}

	_factoryLock.RLock()
	f, ok := _factoryMap[cfg.Provider]
	_factoryLock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s, available providers: %v", ErrProviderNotFound, cfg.Provider, Providers())
	}

	p, err := f.Setup(cfg)
	if err != nil {
		return nil, fmt.Errorf("setup datastore provider %s: %w", cfg.Provider, err)
	}
	for username, password := range cfg.Users {
		if err := p.SetPassword(ctx, username, password); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("seed user %s: %w", username, err)
		}
	}
	return p, nil
}

// Cfg is loaded from datastore.yaml.
type Cfg struct {
	// Provider is "memory" or "redis".
	Provider string   `mapstructure:"provider"`
	Redis    RedisCfg `mapstructure:"redis"`
	// BcryptCost is used when hashing passwords; zero means bcrypt.DefaultCost.
	BcryptCost int `mapstructure:"bcryptCost"`
	// Users maps usernames to plain passwords stored on Open. Meant for development.
	Users map[string]string `mapstructure:"users"`
}

type RedisCfg struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"keyPrefix"`
}

func DefaultCfg() *Cfg {
	return &Cfg{
		Provider: "memory",
		Redis: RedisCfg{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "user:",
		},
		BcryptCost: bcrypt.DefaultCost,
	}
}

func (c *Cfg) GetName() string {
	return configNameDatastore
}

func (c *Cfg) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider must be set")
	}
	if c.BcryptCost != 0 && (c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost) {
		return fmt.Errorf("bcryptCost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Provider == redisProviderName && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set for the redis provider")
	}
	return nil
}

func (c *Cfg) Default() config.Config {
	return DefaultCfg()
}

func (c *Cfg) cost() int {
	if c == nil || c.BcryptCost == 0 {
		return bcrypt.DefaultCost
	}
	return c.BcryptCost
}

func hashPassword(password string, cost int) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

// comparePassword reports a mismatch as false; other bcrypt failures are errors.
func comparePassword(hash []byte, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}
