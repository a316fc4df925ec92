// Package cache stores encoded tiles in Redis in front of the tile service.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

// TileCache maps tile keys to encoded tile bodies. Empty tiles are stored
// as empty values so repeated misses on blank areas stay cheap.
type TileCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// New connects to addr and pings it.
func New(ctx context.Context, addr, prefix string, ttl time.Duration, opts ...Option) (*TileCache, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     20,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if prefix == "" {
		prefix = "tile"
	}
	return &TileCache{rdb: rdb, ttl: ttl, prefix: prefix}, nil
}

// Key builds the cache key of a tile. generation identifies the layer
// configuration so a changed configuration never reads stale tiles.
func (c *TileCache) Key(generation uint64, topic string, z uint8, x, y uint32) string {
	var b strings.Builder
	b.WriteString(c.prefix)
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(generation, 16))
	b.WriteByte(':')
	b.WriteString(topic)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(int(z)))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(uint64(x), 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(uint64(y), 10))
	return b.String()
}

// Get returns the cached body and whether the key was present.
func (c *TileCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return b, true, nil
}

func (c *TileCache) Set(ctx context.Context, key string, body []byte) error {
	if body == nil {
		body = []byte{}
	}
	if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *TileCache) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// Generation hashes configuration parts into a cache generation.
func Generation(parts ...string) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
