// Package cache reads raw response rows out of the storefront application's
// on-disk HTTP cache: a sqlite database plus a directory of file-resident
// payloads.
package cache

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// APIPrefix selects the cached requests the engine cares about. Everything
// else in the cache (images, telemetry) is irrelevant.
const APIPrefix = "https://api.apps.apple.com/v1/"

const (
	cacheSubdir     = "Library/Caches/com.apple.appstore"
	cacheDB         = "Cache.db"
	cacheDataSubdir = "fsCachedData"
)

// Row is one raw cache row: the request that produced it, when it was
// observed, and its payload either inline or as a file reference.
type Row struct {
	Source    string
	Timestamp time.Time
	// Inline holds the payload bytes when the cache stored them in-row.
	Inline []byte
	// FileName references a file under the cache data directory when the
	// payload was spilled to disk. Mutually exclusive with Inline.
	FileName string
	// OnDisk is the cache's own hint that the payload is file-resident. It is
	// not always consistent with FileName.
	OnDisk bool
}

// Cache is a read-only view of one storefront container's response cache.
type Cache struct {
	container string
	db        *sql.DB
}

// Open opens the cache database under the given container root.
func Open(container string) (*Cache, error) {
	path := filepath.Join(container, cacheSubdir, cacheDB)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db %s: %w", path, err)
	}
	// The driver defers opening the file; fail early if it is unreadable.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open cache db %s: %w", path, err)
	}
	return &Cache{container: container, db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// DataDir is the directory holding file-resident payloads.
func (c *Cache) DataDir() string {
	return filepath.Join(c.container, cacheSubdir, cacheDataSubdir)
}

// Stream iterates over the API-relevant cache rows in database order, calling
// fn for each one. Iteration stops at the first error.
func (c *Cache) Stream(fn func(Row) error) error {
	rows, err := c.db.Query(`
		SELECT
			r.request_key,
			r.time_stamp,
			d.receiver_data,
			d.isDataOnFS,
			typeof(d.receiver_data)
		FROM cfurl_cache_response r
		JOIN cfurl_cache_receiver_data d ON r.entry_ID = d.entry_ID
		WHERE r.request_key LIKE ?`,
		APIPrefix+"%")
	if err != nil {
		return fmt.Errorf("query cache rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			source  string
			stamp   string
			payload []byte
			onDisk  bool
			coltype string
		)
		if err := rows.Scan(&source, &stamp, &payload, &onDisk, &coltype); err != nil {
			return fmt.Errorf("scan cache row: %w", err)
		}

		ts, err := parseTimestamp(stamp)
		if err != nil {
			return fmt.Errorf("cache row %s: %w", source, err)
		}

		row := Row{Source: source, Timestamp: ts, OnDisk: onDisk}
		// A text payload is a file name in the cache data directory; a blob is
		// the response body itself.
		if coltype == "text" {
			row.FileName = string(payload)
		} else {
			row.Inline = payload
		}

		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Cache timestamps are ISO-8601-ish and usually lack a zone; naive values are
// taken as UTC.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp: %q", s)
}
