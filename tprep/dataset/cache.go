package dataset

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ZanzyTHEbar/trainprep/tprep/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"

	internal "github.com/ZanzyTHEbar/trainprep/tprep"
)

// cacheNamespace scopes the deterministic UUIDv5 cache keys to this module.
var cacheNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ZanzyTHEbar/trainprep"))

func init() {
	// Concrete column value types that must survive a cache round-trip.
	gob.Register([]int{})
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// RegisterCacheType registers an additional concrete field value type for
// cache serialization. Callers storing their own value types (e.g. message
// lists) must register them before the first cached transformation.
func RegisterCacheType(v any) { gob.Register(v) }

// Cache is a libsql-backed store of transformation results, keyed by a
// deterministic fingerprint of the input dataset and the operation.
type Cache struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenCache opens (creating if needed) the transformation cache at path.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	c := &Cache{db: db, logger: internal.GetLogger()}
	if err := c.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	// sqlite: a single writer connection avoids lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return c, nil
}

// OpenCacheFromConfig opens the cache described by the app configuration.
func OpenCacheFromConfig(cfg config.CacheConfig) (*Cache, error) {
	c, err := OpenCache(cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		c.db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		c.db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	return c, nil
}

// WithLogger replaces the cache's diagnostic logger.
func (c *Cache) WithLogger(logger zerolog.Logger) *Cache {
	c.logger = logger
	return c
}

// initialize creates schema
func (c *Cache) initialize() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS transform_cache (
		key        TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

// Get returns the cached records for key, reporting whether an entry exists.
func (c *Cache) Get(ctx context.Context, key string) ([]Record, bool, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx, "SELECT payload FROM transform_cache WHERE key = ?", key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed for %s: %w", key, err)
	}
	var records []Record
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&records); err != nil {
		return nil, false, fmt.Errorf("cache payload decode failed for %s: %w", key, err)
	}
	return records, true, nil
}

// Put stores records under key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, key string, records []Record) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(records); err != nil {
		return fmt.Errorf("cache payload encode failed for %s: %w", key, err)
	}
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO transform_cache (key, payload) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET payload = excluded.payload",
		key, buf.Bytes())
	if err != nil {
		return fmt.Errorf("cache store failed for %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// transformKey derives the deterministic cache key for applying the named
// operation to this dataset's current contents.
func (d *Dataset) transformKey(op string, opts Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x00", len(d.records))
	for _, rec := range d.records {
		names := make([]string, 0, len(rec))
		for name := range rec {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(h, "%s=%v\x00", name, rec[name])
		}
		h.Write([]byte{0xff})
	}
	fp := hex.EncodeToString(h.Sum(nil))
	return uuid.NewSHA1(cacheNamespace, []byte(op+"\x00"+opts.CacheKey+"\x00"+fp)).String()
}

// cacheLookup returns a previously stored result when the options allow it.
// Lookup failures degrade to recomputation, never to a hard error.
func (d *Dataset) cacheLookup(ctx context.Context, op string, opts Options) (*Dataset, bool) {
	if d.cache == nil || opts.CacheKey == "" || !opts.LoadFromCache {
		return nil, false
	}
	key := d.transformKey(op, opts)
	records, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.cache.logger.Warn().Err(err).Str("op", op).Str("cache_key", opts.CacheKey).
			Msg("cache lookup failed, recomputing")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &Dataset{records: records, cache: d.cache}, true
}

// cacheStore persists a freshly computed result. Best effort: a failed write
// only costs the next run a recomputation.
func (d *Dataset) cacheStore(ctx context.Context, op string, opts Options, result *Dataset) {
	if d.cache == nil || opts.CacheKey == "" {
		return
	}
	key := d.transformKey(op, opts)
	if err := d.cache.Put(ctx, key, result.records); err != nil {
		d.cache.logger.Warn().Err(err).Str("op", op).Str("cache_key", opts.CacheKey).
			Msg("cache store failed")
	}
}
