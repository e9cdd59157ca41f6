// ABOUTME: Constructs the configured Coordinator backend.
// ABOUTME: Backends are memory, sqlite and redis.

package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a Coordinator backend.
type Options struct {
	Backend    string
	SQLitePath string
	Redis      RedisOptions
	GatewayTTL time.Duration
}

// Open creates the Coordinator named by opts.Backend.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Coordinator, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(opts.GatewayTTL), nil
	case BackendSQLite:
		return NewSQLiteCoordinator(opts.SQLitePath, opts.GatewayTTL, logger)
	case BackendRedis:
		ro := opts.Redis
		ro.TTL = opts.GatewayTTL
		return NewRedisCoordinator(ctx, ro, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
