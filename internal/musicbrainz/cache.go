package musicbrainz

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// Cache persists search results in sqlite so restarts and repeated queries
// stay off the MusicBrainz API. All methods are nil-receiver safe; a nil
// cache simply misses.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

// OpenCache opens (creating if needed) the cache database at path. ttl is
// how long a stored result stays fresh.
func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("musicbrainz: open cache: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS search_cache (
		query TEXT PRIMARY KEY,
		results TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("musicbrainz: init cache: %w", err)
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// Get returns the cached results for query if still fresh.
func (c *Cache) Get(query string) ([]Recording, bool) {
	if c == nil {
		return nil, false
	}
	var raw string
	var fetchedAt int64
	err := c.db.QueryRow(`SELECT results, fetched_at FROM search_cache WHERE query = ?`, query).
		Scan(&raw, &fetchedAt)
	if err != nil {
		return nil, false
	}
	if time.Since(time.Unix(fetchedAt, 0)) > c.ttl {
		return nil, false
	}
	var recs []Recording
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		return nil, false
	}
	return recs, true
}

// Put stores results for query, replacing any previous row. Failures are
// logged only; the cache is an optimization, not a dependency.
func (c *Cache) Put(query string, recs []Recording) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(recs)
	if err != nil {
		return
	}
	_, err = c.db.Exec(`INSERT INTO search_cache (query, results, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(query) DO UPDATE SET results = excluded.results, fetched_at = excluded.fetched_at`,
		query, string(raw), time.Now().Unix())
	if err != nil {
		log.Printf("musicbrainz: cache put %q: %v", query, err)
	}
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}
