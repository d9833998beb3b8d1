package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every control store key.
const DefaultNamespace = "control"

const defaultDialTimeout = 5 * time.Second

// Config holds the Redis connection used by the control store.
type Config struct {
	URL         string        `yaml:"url"`
	Password    string        `yaml:"password"`     // overrides the URL password
	Namespace   string        `yaml:"namespace"`    // key prefix (default: control)
	PoolSize    int           `yaml:"pool_size"`    // 0 = go-redis default
	DialTimeout time.Duration `yaml:"dial_timeout"` // also bounds the startup ping (default: 5s)
}

func (c Config) options() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if c.Password != "" {
		opts.Password = c.Password
	}
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	if c.DialTimeout > 0 {
		opts.DialTimeout = c.DialTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return opts, nil
}

func (c Config) namespace() string {
	if c.Namespace == "" {
		return DefaultNamespace
	}
	return c.Namespace
}

// Client is a connection to the Redis server holding control documents.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// NewClient connects and fails unless the server answers a ping before the
// dial timeout or ctx expires.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	return &Client{rdb: rdb, namespace: cfg.namespace()}, nil
}

// docKey is the hash holding a document's scalar fields.
func (c *Client) docKey(key string) string {
	return c.namespace + ":" + key
}

// listKey is the list holding one list field of a document.
func (c *Client) listKey(key, field string) string {
	return c.namespace + ":" + key + ":" + field
}

// Ping satisfies health.Pinger.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
