package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend string

	// Path is the root directory for the file backend or the database
	// file for the sqlite backend.
	Path string

	RedisAddr     string
	RedisPassword string
	RedisPrefix   string

	PostgresDSN   string
	PostgresTable string
}

// Open constructs the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile, "":
		path := opts.Path
		if path == "" {
			path = "snapshots"
		}
		return NewFileStore(path)
	case BackendSQLite:
		path := opts.Path
		if path == "" {
			path = "checkpoints.db"
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		return NewSQLiteStore(path)
	case BackendRedis:
		s := NewRedisStore(RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			Prefix:   opts.RedisPrefix,
		})
		if err := s.client.Ping(ctx).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return s, nil
	case BackendPostgres:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		return NewPostgresStore(ctx, PostgresOptions{
			ConnString: opts.PostgresDSN,
			TableName:  opts.PostgresTable,
		})
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", opts.Backend)
	}
}
