// Package objstore is the blob store shards are mirrored from: an S3
// compatible bucket in production, a directory or memory map elsewhere.
package objstore

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Store lists, fetches and uploads shard blobs. Keys are slash separated and
// relative to the store's root, e.g. "2024-01-08/2024-01-08_utm_17T.tree".
type Store interface {
	// List returns every key containing the given fragment, sorted.
	List(ctx context.Context, contains string) ([]string, error)
	// Get returns the blob stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores data under key, replacing any previous blob.
	Put(ctx context.Context, key string, data []byte) error
}

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = eris.New("objstore: key not found")

// Memory is an in-process Store. The zero value is not usable; call NewMemory.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// List implements Store.
func (m *Memory) List(ctx context.Context, contains string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		if strings.Contains(k, contains) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "objstore: get %s", key)
	}
	return append([]byte(nil), b...), nil
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

// Delete removes key. Missing keys are ignored.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
}

func joinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

func trimKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, prefix+"/")
}
