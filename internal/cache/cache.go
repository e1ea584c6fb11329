// Package cache implements the persistent per-file metadata cache consulted
// by the sync engine to avoid redundant downloads.
//
// The backing store is plain text, one entry per line:
//
//	<key>,<mtime-or-empty>,<size>,<hash-hex>
//
// Keys have their slashes normalized to backslashes so that keys built from
// forward- or back-slash paths collide correctly. Entries are written sorted
// by key; a missing store on load is an empty cache, not an error.
package cache

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"patchsync/internal/core/types"
)

// Entry is the last-known state of one file.
type Entry struct {
	// MTime is the on-disk modification time in seconds since the epoch.
	// It can be nil for entries loaded from older data, never for entries
	// recorded after a fetch.
	MTime *float64
	// Size is the uncompressed size of the file.
	Size uint32
	// Hash is the uncompressed content digest of the file.
	Hash types.Digest
}

func (e Entry) format(key string) string {
	mtime := ""
	if e.MTime != nil {
		mtime = strconv.FormatFloat(*e.MTime, 'f', 6, 64)
	}
	return fmt.Sprintf("%s,%s,%d,%s", key, mtime, e.Size, e.Hash)
}

// Key normalizes a cache key. Lookups and inserts apply this themselves;
// callers only need it when they want the on-disk spelling of a key.
func Key(v string) string {
	return strings.ReplaceAll(v, "/", "\\")
}

// Cache is a mapping from normalized key to Entry. It has no internal
// locking: a Cache belongs to a single synchronization run and is mutated
// from one goroutine only.
type Cache struct {
	entries map[string]Entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]Entry),
	}
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Get looks up the entry for a key.
func (c *Cache) Get(key string) (Entry, bool) {
	e, ok := c.entries[Key(key)]
	return e, ok
}

// Insert records an entry for a key, replacing any prior entry.
func (c *Cache) Insert(key string, e Entry) {
	c.entries[Key(key)] = e
}

// Load populates the cache from the store at path. A missing store yields an
// empty cache; a malformed line is an error.
func (c *Cache) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open cache store %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		if err := c.parseLine(scanner.Text()); err != nil {
			return fmt.Errorf("cache store %s line %d: %w", path, lineno, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read cache store %s: %w", path, err)
	}
	return nil
}

func (c *Cache) parseLine(line string) error {
	parts := strings.Split(line, ",")
	if len(parts) != 4 {
		return fmt.Errorf("want 4 fields, got %d", len(parts))
	}
	key := parts[0]
	if key == "" {
		return fmt.Errorf("empty key")
	}

	var mtime *float64
	if parts[1] != "" {
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return fmt.Errorf("invalid mtime %q: %w", parts[1], err)
		}
		mtime = &v
	}

	size, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", parts[2], err)
	}

	hash, err := types.ParseDigest(parts[3])
	if err != nil {
		return err
	}

	c.Insert(key, Entry{MTime: mtime, Size: uint32(size), Hash: hash})
	return nil
}

// Save writes all entries, sorted by key, to the store at path, replacing
// its prior contents.
func (c *Cache) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create cache store %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if _, err := fmt.Fprintln(w, c.entries[key].format(key)); err != nil {
			f.Close()
			return fmt.Errorf("failed to write cache store %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write cache store %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write cache store %s: %w", path, err)
	}
	return nil
}
