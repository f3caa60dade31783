package storage

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendFS    = backendFS
	BackendRedis = backendRedis
	BackendS3    = backendS3
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Dir     string
	Redis   RedisOptions
	S3      S3Options
}

// Open builds the configured Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFS:
		return NewFSStore(cfg.Dir)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case BackendS3:
		return NewS3Store(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
