// Package cache implements the volatile storage tier: an ordered list of
// serialized turns per (platform, user) key in Redis, bounded to the N most
// recent turns and expiring after a TTL that is refreshed on every write.
//
// The tier is strictly best-effort. A missing or unreachable Redis degrades
// to ErrUnavailable so the store facade can fall through to the durable
// tier; nothing in this package is allowed to take the caller down.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-chat-state/internal/domain"
)

// ErrUnavailable indicates the cache tier is not configured or not
// reachable. Callers treat it as a miss, never as a hard failure.
var ErrUnavailable = errors.New("cache tier unavailable")

// keyPrefix namespaces conversation lists in a shared Redis.
const keyPrefix = "chat"

// Cache is the Redis-backed tier. The zero value (or a nil pointer) is a
// permanently unavailable cache, which is a legal configuration.
type Cache struct {
	rdb      *redis.Client
	ttl      time.Duration
	maxTurns int
}

// Options configures a Cache.
type Options struct {
	Addr     string        // empty means "no cache tier"
	Password string
	DB       int
	TTL      time.Duration // absolute expiry, refreshed on write
	MaxTurns int           // list bound, trimmed on write
}

// New builds a Cache from Options. An empty Addr yields an unavailable
// cache rather than an error: absence of the tier is expected.
func New(opts Options) *Cache {
	c := &Cache{ttl: opts.TTL, maxTurns: opts.MaxTurns}
	if c.ttl <= 0 {
		c.ttl = 15 * time.Minute
	}
	if c.maxTurns <= 0 {
		c.maxTurns = 50
	}
	if opts.Addr == "" {
		return c
	}
	c.rdb = redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return c
}

// NewWithClient wraps an existing Redis client; used by tests and by
// callers that manage the client lifecycle themselves.
func NewWithClient(rdb *redis.Client, ttl time.Duration, maxTurns int) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &Cache{rdb: rdb, ttl: ttl, maxTurns: maxTurns}
}

// Available reports whether the tier has a configured client.
func (c *Cache) Available() bool { return c != nil && c.rdb != nil }

// Key returns the list key for a (platform, user) pair.
func Key(platform string, userID int64) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, platform, userID)
}

// Append pushes a serialized turn onto the tail of the conversation list,
// trims the list to the configured bound, and refreshes the TTL. The three
// commands run in one pipeline.
func (c *Cache) Append(ctx context.Context, userID int64, platform string, turn domain.Turn) error {
	if !c.Available() {
		return ErrUnavailable
	}
	payload, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	key := Key(platform, userID)
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-c.maxTurns), -1)
	pipe.Expire(ctx, key, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to limit turns from the tail of the list in
// chronological order (most-recent-last). limit <= 0 returns the whole
// retained window. An expired or never-written key yields an empty slice.
func (c *Cache) Recent(ctx context.Context, userID int64, platform string, limit int) ([]domain.Turn, error) {
	if !c.Available() {
		return nil, ErrUnavailable
	}
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := c.rdb.LRange(ctx, Key(platform, userID), start, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Turn, 0, len(raw))
	for _, item := range raw {
		var t domain.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			// a corrupt entry poisons the whole window; treat as miss
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Clear deletes the conversation list for a (platform, user) pair.
func (c *Cache) Clear(ctx context.Context, userID int64, platform string) error {
	if !c.Available() {
		return ErrUnavailable
	}
	return c.rdb.Del(ctx, Key(platform, userID)).Err()
}

// Close releases the underlying client, if any.
func (c *Cache) Close() error {
	if !c.Available() {
		return nil
	}
	return c.rdb.Close()
}
