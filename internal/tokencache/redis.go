// Package tokencache caches share-token resolutions in Redis so the hot
// anonymous-access path skips the permission_links lookup. The store stays
// authoritative: a hit is re-verified against the document's live share
// state, and revocation evicts the document's tokens.
package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is the cached resolution of a share token.
type Entry struct {
	DocumentID string `json:"document_id"`
	Capability string `json:"capability"`
}

type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

func NewWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "sharetok:",
		ttl:    15 * time.Minute,
	}
}

func (c *RedisCache) key(token string) string {
	return c.prefix + token
}

func (c *RedisCache) Get(ctx context.Context, token string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get cached token: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("unmarshal cached token: %w", err)
	}
	return entry, true, nil
}

func (c *RedisCache) Put(ctx context.Context, token string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal token entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(token), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache token: %w", err)
	}
	return nil
}

// Delete evicts one or more tokens, typically after a revocation.
func (c *RedisCache) Delete(ctx context.Context, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = c.key(token)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("evict tokens: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
