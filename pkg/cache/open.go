package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wafkaw/book-digger/pkg/logger"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	// BackendTiered is Redis in front of the JSON-lines file.
	BackendTiered = "tiered"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("cache: unknown backend")

// Options selects and configures a cache backend.
type Options struct {
	Backend     string
	Path        string
	RedisURL    string
	RedisPrefix string
	RedisTTL    time.Duration
	DatabaseURL string
}

// Open builds the configured backend wrapped with Resilient. For the tiered
// backend an unreachable Redis is skipped and the file tier is used alone.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return Resilient(NewMemory()), nil
	case BackendFile:
		f, err := OpenFile(opts.Path)
		if err != nil {
			return nil, err
		}
		return Resilient(f), nil
	case BackendRedis:
		r, err := OpenRedis(ctx, opts.RedisURL, opts.RedisPrefix, opts.RedisTTL)
		if err != nil {
			return nil, err
		}
		return Resilient(r), nil
	case BackendPostgres:
		p, err := OpenPostgres(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return Resilient(p), nil
	case BackendTiered:
		f, err := OpenFile(opts.Path)
		if err != nil {
			return nil, err
		}
		r, err := OpenRedis(ctx, opts.RedisURL, opts.RedisPrefix, opts.RedisTTL)
		if err != nil {
			logger.Warn("[Cache] Redis unavailable, using file cache only", "err", err)
			return Resilient(f), nil
		}
		return Resilient(NewTiered(r, f)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
