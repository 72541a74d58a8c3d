package fetch

import (
	"fmt"
	"os"
	"path/filepath"
)

// Cache is the directory fetched blobs are written to. Files are named by
// identity.CacheName, so concurrent writers never share a filename.
type Cache struct {
	dir string
}

// NewCache returns a Cache rooted at dir. The directory is created on the
// first write.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the absolute path of name inside the cache.
func (c *Cache) Path(name string) string {
	p := filepath.Join(c.dir, name)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Lookup returns the path of name if a non-empty file by that name exists.
func (c *Cache) Lookup(name string) (string, bool) {
	p := c.Path(name)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return "", false
	}
	return p, true
}

// Write stores data under name and returns its absolute path. The file
// appears atomically: readers never observe a partial blob.
func (c *Cache) Write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}

	p := c.Path(name)
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move %s into cache: %w", name, err)
	}

	return p, nil
}
