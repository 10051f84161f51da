package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const cacheVersion = 1

// Cache remembers file fingerprints between runs. An entry is reused only
// while the file's size and modification time are unchanged.
type Cache struct {
	fs   afero.Fs
	path string

	mu      sync.Mutex
	entries map[string]cacheEntry
	seen    map[string]bool
	dirty   bool
}

type cacheEntry struct {
	Size        int64  `json:"size"`
	ModTime     int64  `json:"modTime"`
	Fingerprint string `json:"fingerprint"`
}

type cacheFile struct {
	Version int                   `json:"version"`
	Root    string                `json:"root"`
	Entries map[string]cacheEntry `json:"entries"`
}

// CacheFile names the cache for a backend root inside dir.
func CacheFile(dir, root string) string {
	sum := sha256.Sum256([]byte(root))
	return filepath.Join(dir, hex.EncodeToString(sum[:8])+".json")
}

// LoadCache reads path if it exists. An unreadable or outdated cache is
// discarded rather than reported.
func LoadCache(fs afero.Fs, path string) (*Cache, error) {
	c := &Cache{
		fs:      fs,
		path:    path,
		entries: map[string]cacheEntry{},
		seen:    map[string]bool{},
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read fingerprint cache: %w", err)
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil || f.Version != cacheVersion {
		c.dirty = true
		return c, nil
	}
	if f.Entries != nil {
		c.entries = f.Entries
	}
	return c, nil
}

// Lookup returns the cached fingerprint for path when size and modTime match.
func (c *Cache) Lookup(path string, size int64, modTime time.Time) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok || e.Size != size || e.ModTime != modTime.UnixNano() {
		return "", false
	}
	c.seen[path] = true
	return e.Fingerprint, true
}

func (c *Cache) Store(path string, size int64, modTime time.Time, fp string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = cacheEntry{Size: size, ModTime: modTime.UnixNano(), Fingerprint: fp}
	c.seen[path] = true
	c.dirty = true
}

// Save writes the cache, dropping entries that were not looked up or stored
// since it was loaded.
func (c *Cache) Save(root string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for p := range c.entries {
		if !c.seen[p] {
			delete(c.entries, p)
			c.dirty = true
		}
	}
	if !c.dirty {
		return nil
	}

	data, err := json.Marshal(cacheFile{Version: cacheVersion, Root: root, Entries: c.entries})
	if err != nil {
		return fmt.Errorf("marshal fingerprint cache: %w", err)
	}
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, data, 0600); err != nil {
		return fmt.Errorf("write fingerprint cache: %w", err)
	}
	if err := c.fs.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("write fingerprint cache: %w", err)
	}
	c.dirty = false
	return nil
}
