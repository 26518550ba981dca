// Package storage is the local key-value preference store. It stands in for
// browser storage: small string values under fixed keys, read at startup
// and written on every settings change.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("storage: key not found")

// KV is the persistence capability the session layer depends on.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend     string // memory | sqlite | redis
	DSN         string // sqlite data source
	RedisURL    string
	RedisPrefix string
}

// Open returns the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (KV, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(ctx, opts.DSN)
	case "redis":
		return NewRedis(ctx, opts.RedisURL, opts.RedisPrefix)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", opts.Backend)
	}
}

// Memory is a process-local KV. Values are lost on exit.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Close() error { return nil }
