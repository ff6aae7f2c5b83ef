package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bimmerbailey/prompthakcer/internal/rules"
)

// DefaultKeyPrefix namespaces every key written to Redis.
const DefaultKeyPrefix = "prompthakcer:"

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// RedisProvider stores settings as a single JSON value in Redis.
type RedisProvider struct {
	client *redis.Client
	key    string
}

// NewRedisProvider creates a RedisProvider storing under prefix+"settings".
func NewRedisProvider(client *redis.Client, prefix string) *RedisProvider {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisProvider{client: client, key: prefix + "settings"}
}

// Load fetches the settings. A missing key yields empty settings.
func (p *RedisProvider) Load(ctx context.Context) (*rules.Settings, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return &rules.Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings from redis: %w", err)
	}

	var s rules.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode settings from redis: %w", err)
	}
	return &s, nil
}

// Save overwrites the stored settings.
func (p *RedisProvider) Save(ctx context.Context, s *rules.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := p.client.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save settings to redis: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}
