// Package redis builds the shared go-redis client. Telegraph keeps presence
// heartbeats and login codes in Redis so they survive restarts and are
// visible to every instance.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultTimeout = 5 * time.Second

// Mode names the Redis deployment topology a Config describes.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeSentinel Mode = "sentinel"
	ModeCluster  Mode = "cluster"
)

// Config configures a Redis connection for any supported topology.
type Config struct {
	Mode       Mode
	Addrs      []string // single: 1 addr, sentinel: sentinel addrs, cluster: seed nodes
	MasterName string   // sentinel only
	Username   string
	Password   string
	DB         int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (cfg Config) validate() error {
	if len(cfg.Addrs) == 0 {
		return fmt.Errorf("at least one redis address is required")
	}
	switch cfg.Mode {
	case ModeSingle:
		if len(cfg.Addrs) != 1 {
			return fmt.Errorf("single mode takes exactly one address, got %d", len(cfg.Addrs))
		}
	case ModeSentinel:
		if cfg.MasterName == "" {
			return fmt.Errorf("sentinel mode requires a master name")
		}
	case ModeCluster:
		if cfg.MasterName != "" {
			return fmt.Errorf("master name is a sentinel setting, not valid in cluster mode")
		}
	default:
		return fmt.Errorf("unknown redis mode %q", cfg.Mode)
	}
	return nil
}

func orDefault(d time.Duration) time.Duration {
	if d == 0 {
		return defaultTimeout
	}
	return d
}

// NewUniversalClient connects according to cfg and verifies the connection
// with a ping before returning. go-redis picks the concrete client from the
// options: a master name selects Sentinel, multiple addresses select
// Cluster, one address selects a standalone client.
func NewUniversalClient(ctx context.Context, cfg Config) (goredis.UniversalClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  orDefault(cfg.DialTimeout),
		ReadTimeout:  orDefault(cfg.ReadTimeout),
		WriteTimeout: orDefault(cfg.WriteTimeout),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
