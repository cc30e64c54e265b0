// Package cache wraps Redis for the pipeline: JSON values, hashes with
// JSON-coerced fields, bounded history lists and pattern scans.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Well-known key prefixes and bounds of the pipeline keyspace.
const (
	SignalKeyPrefix  = "sentiment:"
	HistoryKeyPrefix = "sentiment_history:"
	StateKeyPrefix   = "strategy_state:"
	AuditKey         = "manual_trade_audit"

	HistoryLimit = 100
)

// SignalKey is the cache key holding the latest signal for a pair.
func SignalKey(pair string) string { return SignalKeyPrefix + pair }

// HistoryKey is the cache key holding the bounded signal history for a pair.
func HistoryKey(pair string) string { return HistoryKeyPrefix + pair }

// StateKey is the cache key holding the strategy's last indicator snapshot.
func StateKey(pair string) string { return StateKeyPrefix + pair }

// Options configures the client connection.
type Options struct {
	Addr       string
	DB         int
	MaxRetries int
	RetryDelay time.Duration
}

// Client is the process-wide cache connection with transparent reconnect.
// One instance per process; safe for concurrent use.
type Client struct {
	rdb  *redis.Client
	opts Options
}

// New connects with bounded retries (default 5 attempts, 2s apart) and
// verifies the connection with a ping.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 2 * time.Second
	}

	c := &Client{opts: opts}
	var err error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		c.rdb = redis.NewClient(&redis.Options{Addr: opts.Addr, DB: opts.DB, DialTimeout: 5 * time.Second})
		if err = c.rdb.Ping(ctx).Err(); err == nil {
			log.Info().Str("addr", opts.Addr).Msg("connected to cache")
			return c, nil
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("max", opts.MaxRetries).Msg("cache connection failed")
		if attempt < opts.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("cache: could not connect to %s after %d attempts: %w", opts.Addr, opts.MaxRetries, err)
}

// NewFromClient wraps an existing redis client. Used by tests with redismock.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping reports whether the cache is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ensureConnection re-pings and reconnects if the connection dropped. Called
// after transient errors so the next operation sees a live connection.
func (c *Client) ensureConnection(ctx context.Context) {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("cache connection lost, reconnecting")
		c.rdb = redis.NewClient(&redis.Options{Addr: c.opts.Addr, DB: c.opts.DB, DialTimeout: 5 * time.Second})
	}
}

// SetJSON stores a JSON-serialized value. A zero TTL means no expiry.
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		c.ensureConnection(ctx)
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// GetJSON loads a JSON value into out. Returns false when the key is absent.
func (c *Client) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.ensureConnection(ctx)
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

// HSetJSON writes a hash where nested values are JSON-encoded and scalars are
// stringified, so heterogeneous records survive the round trip.
func (c *Client) HSetJSON(ctx context.Context, key string, fields map[string]any) error {
	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	// Fields are written in sorted order so the wire command is stable.
	flat := make([]interface{}, 0, 2*len(fields))
	for _, field := range names {
		var coerced string
		switch v := fields[field].(type) {
		case string:
			coerced = v
		case float64:
			coerced = strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			coerced = strconv.Itoa(v)
		case int64:
			coerced = strconv.FormatInt(v, 10)
		case bool:
			coerced = strconv.FormatBool(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("cache: marshal field %s.%s: %w", key, field, err)
			}
			coerced = string(data)
		}
		flat = append(flat, field, coerced)
	}
	if err := c.rdb.HSet(ctx, key, flat...).Err(); err != nil {
		c.ensureConnection(ctx)
		return fmt.Errorf("cache: hset %s: %w", key, err)
	}
	return nil
}

// HGetAll reads a whole hash as strings. An absent key yields an empty map.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		c.ensureConnection(ctx)
		return nil, fmt.Errorf("cache: hgetall %s: %w", key, err)
	}
	return fields, nil
}

// LPushTrim pushes a value onto the head of a list and trims the list to the
// given bound, newest first.
func (c *Client) LPushTrim(ctx context.Context, key string, value string, limit int64) error {
	if err := c.rdb.LPush(ctx, key, value).Err(); err != nil {
		c.ensureConnection(ctx)
		return fmt.Errorf("cache: lpush %s: %w", key, err)
	}
	if err := c.rdb.LTrim(ctx, key, 0, limit-1).Err(); err != nil {
		return fmt.Errorf("cache: ltrim %s: %w", key, err)
	}
	return nil
}

// LRange reads a list slice.
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := c.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		c.ensureConnection(ctx)
		return nil, fmt.Errorf("cache: lrange %s: %w", key, err)
	}
	return vals, nil
}

// Expire sets a key's TTL. Zero or negative seconds are ignored.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("cache: expire %s: %w", key, err)
	}
	return nil
}

// Delete removes keys.
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: del: %w", err)
	}
	return n, nil
}

// Exists reports how many of the given keys exist.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	n, err := c.rdb.Exists(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: exists: %w", err)
	}
	return n, nil
}

// Keys scans for keys matching a glob pattern. SCAN, not KEYS, so the server
// is never blocked.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache: scan %s: %w", pattern, err)
	}
	return keys, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
