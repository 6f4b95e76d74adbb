// Package database persists a directory of named vector collections.
// Each collection is stored as one serialized file; the directory is
// guarded by an advisory lock so only one process writes at a time.
package database

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/oasysai/oasysdb/pkg/vector"
)

const collectionExt = ".col"

// DefaultCacheSize bounds the decoded collection handles kept in
// memory.
const DefaultCacheSize = 16

var (
	// ErrDatabaseLocked means another process holds the directory lock.
	ErrDatabaseLocked = errors.New("database directory is locked by another process")
	// ErrCollectionNotFound means no collection file exists under the
	// requested name.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrInvalidName means the collection name is not path-safe.
	ErrInvalidName = errors.New("invalid collection name")
	// ErrClosed means the database handle was already closed.
	ErrClosed = errors.New("database is closed")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Options tunes an open database handle.
type Options struct {
	// CacheSize overrides DefaultCacheSize when positive.
	CacheSize int
}

// Database is a handle on a directory of persisted collections.
type Database struct {
	mu     sync.Mutex
	dir    string
	lock   *flock.Flock
	cache  *lru.Cache[string, *vector.Collection]
	closed bool
}

// Open creates the directory if needed and takes the exclusive
// advisory lock. It fails with ErrDatabaseLocked when another process
// already holds it.
func Open(dir string, opts Options) (*Database, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	fl := flock.New(filepath.Join(dir, ".lock"))
	held, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire database lock: %w", err)
	}
	if !held {
		return nil, fmt.Errorf("%s: %w", dir, ErrDatabaseLocked)
	}

	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *vector.Collection](size)
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}

	slog.Info("database_opened", slog.String("dir", dir))
	return &Database{dir: dir, lock: fl, cache: cache}, nil
}

// SaveCollection serializes the collection under name, writing to a
// temporary file and renaming on success so readers never observe a
// half-written stream.
func (db *Database) SaveCollection(name string, c *vector.Collection) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	if err := validateName(name); err != nil {
		return err
	}

	final := db.pathFor(name)
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create collection file: %w", err)
	}
	if err := c.Serialize(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close collection file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename collection file: %w", err)
	}

	db.cache.Add(name, c)
	slog.Info("collection_saved",
		slog.String("name", name),
		slog.Int("records", c.Len()))
	return nil
}

// GetCollection returns the collection stored under name, decoding it
// from disk on a cache miss. The returned handle is shared across
// callers until it is evicted or overwritten by a save.
func (db *Database) GetCollection(name string) (*vector.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if c, ok := db.cache.Get(name); ok {
		return c, nil
	}

	f, err := os.Open(db.pathFor(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, ErrCollectionNotFound)
		}
		return nil, fmt.Errorf("open collection file: %w", err)
	}
	defer f.Close()

	c, err := vector.Deserialize(f)
	if err != nil {
		return nil, err
	}
	db.cache.Add(name, c)
	slog.Debug("collection_loaded", slog.String("name", name), slog.Int("records", c.Len()))
	return c, nil
}

// DeleteCollection removes the persisted collection and drops any
// cached handle.
func (db *Database) DeleteCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(db.pathFor(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", name, ErrCollectionNotFound)
		}
		return fmt.Errorf("remove collection file: %w", err)
	}
	db.cache.Remove(name)
	slog.Info("collection_deleted", slog.String("name", name))
	return nil
}

// ListCollections returns the names of every persisted collection in
// sorted order.
func (db *Database) ListCollections() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		return nil, fmt.Errorf("read database directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), collectionExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), collectionExt))
	}
	sort.Strings(names)
	return names, nil
}

// Close releases the directory lock. The handle is unusable
// afterwards.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true
	db.cache.Purge()
	if err := db.lock.Unlock(); err != nil {
		return fmt.Errorf("release database lock: %w", err)
	}
	slog.Info("database_closed", slog.String("dir", db.dir))
	return nil
}

// Dir returns the database directory path.
func (db *Database) Dir() string {
	return db.dir
}

func (db *Database) pathFor(name string) string {
	return filepath.Join(db.dir, name+collectionExt)
}

func validateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}
