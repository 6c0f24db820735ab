// Package caching keeps provider responses on disk so that re-running a load
// within the TTL does not spend request quota.
package caching

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache provides a simple file-based cache with a TTL.
type Cache struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

// NewCache creates a new Cache instance.
// The cache path will be created if it doesn't exist. A ttl of zero keeps
// entries until they are deleted.
func NewCache(path string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{
		path: path,
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

// key generates a SHA256 hash of the request key to use as a filename.
func (c *Cache) key(requestKey string) string {
	hash := sha256.Sum256([]byte(requestKey))
	return fmt.Sprintf("%x", hash)
}

// Get retrieves a response from the cache.
// It returns the data and true if the entry is found and not expired.
func (c *Cache) Get(requestKey string) ([]byte, bool) {
	filePath := filepath.Join(c.path, c.key(requestKey))

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, false // Cache miss
	}

	if c.expired(info.ModTime()) {
		return nil, false
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, false
	}

	return data, true
}

// Set stores a response. The file is written next to its final name and
// renamed so a concurrent Get never sees a partial entry.
func (c *Cache) Set(requestKey string, data []byte) error {
	filePath := filepath.Join(c.path, c.key(requestKey))
	tmp, err := os.CreateTemp(c.path, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}

// Delete drops an entry, e.g. a response that turned out to be unusable.
func (c *Cache) Delete(requestKey string) error {
	err := os.Remove(filepath.Join(c.path, c.key(requestKey)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Prune removes expired entries and returns how many were removed.
func (c *Cache) Prune() (int, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(c.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if c.expired(info.ModTime()) {
			if err := os.Remove(filepath.Join(c.path, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (c *Cache) expired(modTime time.Time) bool {
	return c.ttl > 0 && c.now().Sub(modTime) > c.ttl
}
