package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Collection names shared with the registry and the execution log store.
const (
	CollectionJobs = "cronJobs"
	CollectionLogs = "jobLogs"
	KeyAutoSync    = "autoSyncEnabled"
)

// Config configures storage.
//
// Driver values:
//   - "file": single JSON document rewritten atomically (default)
//   - "sqlite": SQLite database file
//   - "memory": process-local, nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is a small named-collection key/value store.
//
// Values are JSON documents read and written wholesale. Get reports false
// when the name was never written.
type Store interface {
	Get(ctx context.Context, name string, out any) (bool, error)
	Put(ctx context.Context, name string, v any) error
	Close() error
}
