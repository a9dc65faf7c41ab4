// Package cache is a content-addressed JSON store used by every generation
// stage. Keys are hashed with a version stamp baked in, so bumping the
// version invalidates every prior entry without touching stored files.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// cacheVersion is baked into every hashed key. Bump it to force a global
// cache invalidation.
const cacheVersion = "v1"

// ErrMiss is returned by Get when the key is absent or its entry is
// unreadable. Corrupt entries are logged and treated as misses, never
// propagated.
var ErrMiss = errors.New("cache miss")

// Cache stores JSON payloads under {root}/{subdirectory}/{hash}.json.
type Cache struct {
	dir string
	log zerolog.Logger
}

// New creates the cache directory if needed and returns a Cache scoped to
// the given subdirectory.
func New(root, subdirectory string) (*Cache, error) {
	dir := filepath.Join(root, subdirectory)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Cache{
		dir: dir,
		log: log.With().Str("component", "cache").Str("subdir", subdirectory).Logger(),
	}, nil
}

// HashKey returns the deterministic versioned hash for a key: the first 16
// hex characters of sha256(version + "_" + key).
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(cacheVersion + "_" + key))
	return hex.EncodeToString(sum[:])[:16]
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, HashKey(key)+".json")
}

// Get unmarshals the cached payload for key into v. Returns ErrMiss when the
// entry is absent or corrupt.
func (c *Cache) Get(key string, v any) error {
	path := c.path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.log.Debug().Str("key", key).Msg("cache MISS")
			return ErrMiss
		}
		c.log.Warn().Err(err).Str("key", key).Msg("cache read error")
		return ErrMiss
	}

	if err := json.Unmarshal(data, v); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache entry corrupt, treating as miss")
		return ErrMiss
	}

	c.log.Debug().Str("key", key).Msg("cache HIT")
	return nil
}

// Set stores v as the payload for key. Writes go through a temp file and a
// rename, so concurrent writers to the same key end up last-write-wins.
func (c *Cache) Set(key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache payload for %q: %w", key, err)
	}

	path := c.path(key)
	tmp, err := os.CreateTemp(c.dir, ".write-*")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache entry for %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store cache entry for %q: %w", key, err)
	}

	c.log.Debug().Str("key", key).Int("bytes", len(data)).Msg("cache WRITE")
	return nil
}

// Delete removes the entry for key. Reports whether an entry existed.
func (c *Cache) Delete(key string) bool {
	err := os.Remove(c.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn().Err(err).Str("key", key).Msg("cache delete error")
		}
		return false
	}
	c.log.Debug().Str("key", key).Msg("cache DELETE")
	return true
}

// Clear deletes every entry in the subdirectory and returns the count.
func (c *Cache) Clear() (int, error) {
	entries, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("list cache entries: %w", err)
	}

	count := 0
	for _, path := range entries {
		if err := os.Remove(path); err != nil {
			c.log.Warn().Err(err).Str("file", path).Msg("cache clear error")
			continue
		}
		count++
	}

	c.log.Info().Int("deleted", count).Msg("cache CLEAR")
	return count, nil
}
