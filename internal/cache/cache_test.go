package cache

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// fakeContainer builds a storefront container with a populated Cache.db and
// data directory.
func fakeContainer(t *testing.T) string {
	t.Helper()
	container := t.TempDir()
	dir := filepath.Join(container, cacheSubdir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, cacheDataSubdir), 0o755))

	db, err := sql.Open("sqlite", filepath.Join(dir, cacheDB))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec(`
		CREATE TABLE cfurl_cache_response (
			entry_ID INTEGER PRIMARY KEY,
			request_key TEXT,
			time_stamp TEXT
		);
		CREATE TABLE cfurl_cache_receiver_data (
			entry_ID INTEGER,
			receiver_data BLOB,
			isDataOnFS INTEGER
		);
	`)
	require.NoError(t, err)
	return container
}

func insertRow(t *testing.T, container string, entryID int, source, stamp string, payload any, onFS bool) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(container, cacheSubdir, cacheDB))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec("INSERT INTO cfurl_cache_response (entry_ID, request_key, time_stamp) VALUES (?, ?, ?)",
		entryID, source, stamp)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO cfurl_cache_receiver_data (entry_ID, receiver_data, isDataOnFS) VALUES (?, ?, ?)",
		entryID, payload, onFS)
	require.NoError(t, err)
}

func TestStream(t *testing.T) {
	container := fakeContainer(t)

	inlineSource := APIPrefix + "catalog/us/apps?ids=100"
	fileSource := APIPrefix + "catalog/us/charts?genre=36"
	insertRow(t, container, 1, inlineSource, "2024-05-01 10:00:00", []byte(`{"data":[]}`), false)
	insertRow(t, container, 2, fileSource, "2024-05-01T11:30:00", "abc-123", true)
	// Rows outside the API prefix are never surfaced.
	insertRow(t, container, 3, "https://example.com/image.png", "2024-05-01 12:00:00", []byte("png"), false)

	c, err := Open(container)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	var rows []Row
	require.NoError(t, c.Stream(func(r Row) error {
		rows = append(rows, r)
		return nil
	}))
	require.Len(t, rows, 2)

	inline := rowBySource(t, rows, inlineSource)
	assert.Equal(t, []byte(`{"data":[]}`), inline.Inline)
	assert.Empty(t, inline.FileName)
	assert.False(t, inline.OnDisk)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), inline.Timestamp)

	fileRow := rowBySource(t, rows, fileSource)
	assert.Equal(t, "abc-123", fileRow.FileName)
	assert.Nil(t, fileRow.Inline)
	assert.True(t, fileRow.OnDisk)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 30, 0, 0, time.UTC), fileRow.Timestamp)
}

func rowBySource(t *testing.T, rows []Row, source string) Row {
	t.Helper()
	for _, r := range rows {
		if r.Source == source {
			return r
		}
	}
	t.Fatalf("no row for source %s", source)
	return Row{}
}

func TestStreamBadTimestamp(t *testing.T) {
	container := fakeContainer(t)
	insertRow(t, container, 1, APIPrefix+"catalog/us/apps", "not a timestamp", []byte("{}"), false)

	c, err := Open(container)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	err = c.Stream(func(Row) error { return nil })
	require.Error(t, err)
}

func TestResolver(t *testing.T) {
	container := fakeContainer(t)
	dataDir := filepath.Join(container, cacheSubdir, cacheDataSubdir)

	var warnings []string
	resolver := &Resolver{
		DataDir: dataDir,
		Warnf: func(format string, args ...any) {
			warnings = append(warnings, format)
		},
	}

	t.Run("inline payload", func(t *testing.T) {
		v, err := resolver.Resolve(Row{Source: "s", Inline: []byte(`{"data":[1,2]}`)})
		require.NoError(t, err)
		m, ok := v.(map[string]any)
		require.True(t, ok)
		assert.Len(t, m["data"], 2)
	})

	t.Run("file payload", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, "res-1"), []byte(`{"ok":true}`), 0o644))
		v, err := resolver.Resolve(Row{Source: "s", FileName: "res-1", OnDisk: true})
		require.NoError(t, err)
		m := v.(map[string]any)
		assert.Equal(t, true, m["ok"])
	})

	t.Run("mismatched hint warns but resolves", func(t *testing.T) {
		warnings = nil
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, "res-2"), []byte(`{}`), 0o644))
		_, err := resolver.Resolve(Row{Source: "s", FileName: "res-2", OnDisk: false})
		require.NoError(t, err)
		assert.Len(t, warnings, 1)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := resolver.Resolve(Row{Source: "s", FileName: "res-missing", OnDisk: true})
		require.Error(t, err)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := resolver.Resolve(Row{Source: "s", Inline: []byte(`{"broken":`)})
		require.Error(t, err)
	})
}

func TestOpenMissingDB(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
