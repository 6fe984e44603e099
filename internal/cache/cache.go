// Package cache provides caching for decompressed store chunks and decoded
// correction matrices.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/mat"
)

// Config contains cache configuration.
type Config struct {
	ChunkCacheSizeMB int
	ChunkTTL         time.Duration
	MatrixCacheSize  int
}

// Manager manages the chunk and correction-matrix caches. Chunk bytes go
// through bigcache (the pyramid builder and preview renderer re-read
// lower-level chunks repeatedly); correction matrices are shared by every
// tile of a channel and live in a small typed LRU. Tile pixel data is never
// cached: chunk computations re-read their sources independently.
type Manager struct {
	chunkCache  *bigcache.BigCache
	matrixCache *lru.Cache[string, *mat.Dense]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	chunkCacheConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.ChunkTTL,
		CleanWindow:        cfg.ChunkTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       8 * 1024 * 1024, // one 2048x2048 uint16 chunk
		HardMaxCacheSize:   cfg.ChunkCacheSizeMB,
		Verbose:            false,
	}

	chunkCache, err := bigcache.New(context.Background(), chunkCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk cache: %w", err)
	}

	matrixCache, err := lru.New[string, *mat.Dense](cfg.MatrixCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix cache: %w", err)
	}

	return &Manager{
		chunkCache:  chunkCache,
		matrixCache: matrixCache,
	}, nil
}

// GetChunk retrieves decompressed chunk bytes from cache.
func (m *Manager) GetChunk(key string) ([]byte, bool) {
	data, err := m.chunkCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetChunk stores decompressed chunk bytes in cache.
func (m *Manager) SetChunk(key string, data []byte) error {
	return m.chunkCache.Set(key, data)
}

// GetMatrix retrieves a decoded correction matrix.
func (m *Manager) GetMatrix(path string) (*mat.Dense, bool) {
	return m.matrixCache.Get(path)
}

// SetMatrix stores a decoded correction matrix.
func (m *Manager) SetMatrix(path string, matrix *mat.Dense) {
	m.matrixCache.Add(path, matrix)
}

// ChunkKey generates a cache key for a store chunk.
func ChunkKey(component string, index []int) string {
	parts := make([]string, len(index))
	for i, v := range index {
		parts[i] = strconv.Itoa(v)
	}
	return component + ":" + strings.Join(parts, "/")
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"chunk_cache_len":  m.chunkCache.Len(),
		"chunk_cache_cap":  m.chunkCache.Capacity(),
		"matrix_cache_len": m.matrixCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.chunkCache.Close()
}
