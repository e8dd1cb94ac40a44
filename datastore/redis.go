package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisProviderName = "redis"
	passwordField     = "password"
)

func init() {
	RegisterProvider(redisFactory{})
}

type redisFactory struct{}

func (redisFactory) Name() string { return redisProviderName }

func (redisFactory) Setup(cfg *Cfg) (Provider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return NewRedisProvider(client, cfg.Redis.KeyPrefix, cfg.cost())
}

// RedisProvider reads accounts from hashes keyed <prefix><username>, with the bcrypt
// hash in the password field.
type RedisProvider struct {
	client    *redis.Client
	keyPrefix string
	cost      int
}

func NewRedisProvider(client *redis.Client, keyPrefix string, cost int) (*RedisProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = "user:"
	}
	return &RedisProvider{client: client, keyPrefix: keyPrefix, cost: cost}, nil
}

func (p *RedisProvider) Name() string { return redisProviderName }

func (p *RedisProvider) key(username string) string {
	return p.keyPrefix + username
}

func (p *RedisProvider) CheckPassword(ctx context.Context, username, password string) (bool, error) {
	hash, err := p.client.HGet(ctx, p.key(username), passwordField).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("failed to get user %s: %w", username, err)
	}
	return comparePassword(hash, password)
}

func (p *RedisProvider) SetPassword(ctx context.Context, username, password string) error {
	hash, err := hashPassword(password, p.cost)
	if err != nil {
		return err
	}
	if err := p.client.HSet(ctx, p.key(username), passwordField, hash).Err(); err != nil {
		return fmt.Errorf("failed to set user %s: %w", username, err)
	}
	return nil
}

func (p *RedisProvider) Close() error {
	return p.client.Close()
}
