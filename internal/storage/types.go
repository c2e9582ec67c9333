// Package storage provides the key-value persistence layer used by bulksend.
//
// It holds:
//   - the bounded operator event log (one key)
//   - named profile group presets (one key per group)
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Store is a small key-value API. Values are opaque bytes (JSON in practice).
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
	// Keys returns all keys starting with prefix, sorted ascending.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory": process-local map (default)
//   - "file": snapshot + journal files next to Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL reachable through DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
