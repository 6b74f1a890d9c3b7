// Package cmd provides common initialization helpers for the binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/venlock/orchid/pkg/persistence"
	"github.com/venlock/orchid/pkg/persistence/memory"
	"github.com/venlock/orchid/pkg/persistence/postgresql"
	"github.com/venlock/orchid/pkg/persistence/redis"
)

// NewPersistence builds a persistence adapter from a database URL. The
// scheme selects the backend: postgres://, redis://, or memory:// for the
// in-process store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return nil, fmt.Errorf("database URL %q has no scheme", databaseURL)
	}

	switch scheme {
	case "memory":
		return memory.NewPersistence(), nil
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "redis":
		opts, err := parseRedisURL(databaseURL)
		if err != nil {
			return nil, err
		}

		return redis.NewPersistence(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported persistence scheme %q", scheme)
	}
}

func parseRedisURL(databaseURL string) (redis.Options, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return redis.Options{}, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts := redis.Options{Addr: parsed.Host}

	if parsed.User != nil {
		if password, ok := parsed.User.Password(); ok {
			opts.Password = password
		}
	}

	if path := strings.TrimPrefix(parsed.Path, "/"); path != "" {
		db, err := strconv.Atoi(path)
		if err != nil {
			return redis.Options{}, fmt.Errorf("invalid redis database index %q: %w", path, err)
		}

		opts.DB = db
	}

	return opts, nil
}
