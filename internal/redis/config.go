// Package redis builds the go-redis clients the services share: the command
// queue, the pub/sub connection and the broadcast subscriber.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradebus/internal/config"
	"github.com/Aidin1998/tradebus/pkg/metrics"
)

// Config is the resolved client configuration. Name labels the client in logs
// and pool metrics.
type Config struct {
	Name     string
	Addr     string
	Password string
	DB       int

	PoolSize        int
	MinIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PoolTimeout     time.Duration

	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration

	// ReadTimeout covers ordinary commands. Blocking pops add their own wait on
	// top of it inside go-redis.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	EnableCluster bool
	ClusterAddrs  []string

	EnableSentinel   bool
	SentinelAddrs    []string
	SentinelPassword string
	MasterName       string
}

// DefaultConfig sizes the pool for queue and pub/sub traffic.
func DefaultConfig() *Config {
	return &Config{
		Name: "default",
		Addr: "localhost:6379",

		PoolSize:        100,
		MinIdleConns:    10,
		ConnMaxLifetime: 24 * time.Hour,
		ConnMaxIdleTime: 5 * time.Minute,
		PoolTimeout:     4 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// FromSettings overlays operator settings on DefaultConfig.
func FromSettings(name string, s config.RedisConfig) *Config {
	cfg := DefaultConfig()
	cfg.Name = name
	if s.Addr != "" {
		cfg.Addr = s.Addr
	}
	cfg.Password = s.Password
	cfg.DB = s.DB
	if s.PoolSize > 0 {
		cfg.PoolSize = s.PoolSize
	}
	if s.DialTimeout > 0 {
		cfg.DialTimeout = s.DialTimeout
	}
	cfg.EnableCluster = s.EnableCluster
	cfg.ClusterAddrs = s.ClusterAddrs
	cfg.EnableSentinel = s.EnableSentinel
	cfg.SentinelAddrs = s.SentinelAddrs
	cfg.MasterName = s.MasterName
	return cfg
}

// Client wraps a go-redis client with health and pool reporting.
type Client struct {
	rdb    redis.UniversalClient
	name   string
	logger *zap.SugaredLogger
}

// NewClient connects according to config and pings the server once. The context
// deadline of every command bounds its socket reads, so blocking pops return when
// their caller gives up.
func NewClient(config *Config, logger *zap.SugaredLogger) (*Client, error) {
	opts := &redis.UniversalOptions{
		Addrs:    []string{config.Addr},
		Password: config.Password,
		DB:       config.DB,

		PoolSize:        config.PoolSize,
		MinIdleConns:    config.MinIdleConns,
		ConnMaxLifetime: config.ConnMaxLifetime,
		ConnMaxIdleTime: config.ConnMaxIdleTime,
		PoolTimeout:     config.PoolTimeout,

		MaxRetries:      config.MaxRetries,
		MinRetryBackoff: config.MinRetryBackoff,
		MaxRetryBackoff: config.MaxRetryBackoff,

		DialTimeout:           config.DialTimeout,
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		ContextTimeoutEnabled: true,
	}

	var rdb redis.UniversalClient
	mode := "standalone"
	switch {
	case config.EnableCluster:
		mode = "cluster"
		opts.Addrs = config.ClusterAddrs
		rdb = redis.NewClusterClient(opts.Cluster())
	case config.EnableSentinel:
		mode = "sentinel"
		opts.Addrs = config.SentinelAddrs
		opts.MasterName = config.MasterName
		opts.SentinelPassword = config.SentinelPassword
		rdb = redis.NewFailoverClient(opts.Failover())
	default:
		rdb = redis.NewClient(opts.Simple())
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("Redis client connected",
		"addrs", opts.Addrs,
		"db", config.DB,
		"pool_size", config.PoolSize,
		"mode", mode,
	)
	return &Client{rdb: rdb, name: config.Name, logger: logger}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() redis.UniversalClient {
	return c.rdb
}

func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ReportPoolStats copies the current pool counters into the Redis pool gauges.
func (c *Client) ReportPoolStats() {
	stats := c.rdb.PoolStats()
	metrics.RedisPoolConns.WithLabelValues(c.name, "total").Set(float64(stats.TotalConns))
	metrics.RedisPoolConns.WithLabelValues(c.name, "idle").Set(float64(stats.IdleConns))
	metrics.RedisPoolConns.WithLabelValues(c.name, "stale").Set(float64(stats.StaleConns))
	metrics.RedisPoolTimeouts.WithLabelValues(c.name).Set(float64(stats.Timeouts))
}

// SamplePoolStats reports pool stats every interval until ctx is done.
func (c *Client) SamplePoolStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ReportPoolStats()
		}
	}
}
