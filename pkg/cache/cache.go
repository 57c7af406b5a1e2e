package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the interface satisfied by Client, kept narrow and synchronous
// enough that callers can swap an in-memory double in tests.
type Cache interface {
	Get(ctx context.Context, mapName, key string) (string, bool, error)
	Set(ctx context.Context, mapName, key, value string) error
	SetWithTTL(ctx context.Context, mapName, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, mapName, key string) (bool, error)
	Remove(ctx context.Context, mapName, key string) error
	// PutIfAbsent atomically writes value under key iff absent. It returns
	// the previous value (ok=true) when the key was already present, or
	// ok=false when this call performed the write.
	PutIfAbsent(ctx context.Context, mapName, key, value string, ttl time.Duration) (previous string, ok bool, err error)
	GetAllEntries(ctx context.Context, mapName string) (map[string]string, error)
	Size(ctx context.Context, mapName string) (int64, error)
	IsHealthy(ctx context.Context) bool
}

// Client is a Redis-backed Cache. Each map name is a flat key namespace
// (mapName + ":" + key); TTL is per individual Redis key, matching the
// spec's per-map-but-effectively-per-key TTL contract (§4.1).
type Client struct {
	rdb     *redis.Client
	cfg     *Config
	metrics *Metrics
}

// New dials a Redis client from cfg. It does not block on connectivity; call
// IsHealthy to probe the connection.
func New(cfg *Config, metrics *Metrics) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	return &Client{rdb: rdb, cfg: cfg, metrics: metrics}, nil
}

func (c *Client) fullKey(mapName, key string) string { return mapName + ":" + key }

func (c *Client) Get(ctx context.Context, mapName, key string) (value string, found bool, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordOperation(ctx, "get", mapName, start, err) }()

	v, err := c.rdb.Get(ctx, c.fullKey(mapName, key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, NewCacheError("get", ErrCodeOperationFailed, "get failed", err)
	}
	return v, true, nil
}

func (c *Client) Set(ctx context.Context, mapName, key, value string) error {
	return c.SetWithTTL(ctx, mapName, key, value, c.cfg.DefaultTTL)
}

func (c *Client) SetWithTTL(ctx context.Context, mapName, key, value string, ttl time.Duration) (err error) {
	start := time.Now()
	defer func() { c.metrics.RecordOperation(ctx, "set", mapName, start, err) }()

	if err = c.rdb.Set(ctx, c.fullKey(mapName, key), value, ttl).Err(); err != nil {
		return NewCacheError("set", ErrCodeOperationFailed, "set failed", err)
	}
	return nil
}

func (c *Client) Exists(ctx context.Context, mapName, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.fullKey(mapName, key)).Result()
	if err != nil {
		return false, NewCacheError("exists", ErrCodeOperationFailed, "exists failed", err)
	}
	return n > 0, nil
}

func (c *Client) Remove(ctx context.Context, mapName, key string) (err error) {
	start := time.Now()
	defer func() { c.metrics.RecordOperation(ctx, "remove", mapName, start, err) }()

	if err = c.rdb.Del(ctx, c.fullKey(mapName, key)).Err(); err != nil {
		return NewCacheError("remove", ErrCodeOperationFailed, "remove failed", err)
	}
	return nil
}

// PutIfAbsent uses SETNX for the atomic write, followed by EXPIRE when ttl>0
// and the write succeeded; on contention it reads back and returns the
// winner's value.
func (c *Client) PutIfAbsent(ctx context.Context, mapName, key, value string, ttl time.Duration) (previous string, ok bool, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordOperation(ctx, "put_if_absent", mapName, start, err) }()

	fk := c.fullKey(mapName, key)
	set, err := c.rdb.SetNX(ctx, fk, value, 0).Result()
	if err != nil {
		return "", false, NewCacheError("put_if_absent", ErrCodeOperationFailed, "setnx failed", err)
	}
	if set {
		if ttl > 0 {
			if err = c.rdb.Expire(ctx, fk, ttl).Err(); err != nil {
				return "", false, NewCacheError("put_if_absent", ErrCodeOperationFailed, "expire failed", err)
			}
		}
		return "", false, nil
	}
	prev, err := c.rdb.Get(ctx, fk).Result()
	if err != nil && err != redis.Nil {
		return "", false, NewCacheError("put_if_absent", ErrCodeOperationFailed, "readback failed", err)
	}
	return prev, true, nil
}

func (c *Client) GetAllEntries(ctx context.Context, mapName string) (map[string]string, error) {
	prefix := mapName + ":"
	result := make(map[string]string)
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return nil, NewCacheError("get_all_entries", ErrCodeOperationFailed, "scan failed", err)
		}
		for _, fk := range keys {
			v, err := c.rdb.Get(ctx, fk).Result()
			if err != nil {
				continue
			}
			result[fk[len(prefix):]] = v
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return result, nil
}

func (c *Client) Size(ctx context.Context, mapName string) (int64, error) {
	entries, err := c.GetAllEntries(ctx, mapName)
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.rdb.Ping(ctx).Err() == nil
}

// Close releases the underlying Redis connection pool.
func (c *Client) Close() error { return c.rdb.Close() }
