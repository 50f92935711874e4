// Package store provides the snapshot store backends.
package store

import (
	"context"
	"fmt"

	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/pkg/options"
)

// Store is a SnapshotStore with a lifecycle.
type Store interface {
	core.SnapshotStore

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Options groups the settings of every backend; only the selected one is used.
type Options struct {
	Store  *options.StoreOptions
	SQLite *options.SQLiteOptions
	Redis  *options.RedisOptions
	S3     *options.S3Options
}

// New opens the backend named by opts.Store.Backend.
func New(ctx context.Context, opts Options) (Store, error) {
	key := opts.Store.Key

	switch opts.Store.Backend {
	case options.StoreBackendMemory:
		return NewMemory(), nil
	case options.StoreBackendSQLite:
		return NewSQLite(ctx, opts.SQLite, key)
	case options.StoreBackendRedis:
		return NewRedis(ctx, opts.Redis, key)
	case options.StoreBackendS3:
		return NewMinIO(ctx, opts.S3, key)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Store.Backend)
	}
}
