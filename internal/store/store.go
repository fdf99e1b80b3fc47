// Package store is the durable model for everything recovered from the
// storefront cache: applications, the genre taxonomy, per-country stores,
// metadata snapshots, and chart snapshots with their ranked entries.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("not found")

// Timestamps are persisted as RFC 3339 UTC text so that equality on the
// uniqueness keys is exact.
const timeLayout = time.RFC3339Nano

const schema = `
CREATE TABLE IF NOT EXISTS applications (
	adam_id INTEGER PRIMARY KEY CHECK (adam_id >= 0)
);

CREATE TABLE IF NOT EXISTS genres (
	genre_id  INTEGER PRIMARY KEY CHECK (genre_id >= 0),
	name      TEXT,
	parent_id INTEGER REFERENCES genres(genre_id)
);

CREATE TABLE IF NOT EXISTS stores (
	country TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS metadata (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	application_id INTEGER NOT NULL REFERENCES applications(adam_id),
	country        TEXT NOT NULL REFERENCES stores(country),
	source         TEXT NOT NULL,
	timestamp      TEXT NOT NULL,
	data           TEXT,
	UNIQUE (application_id, country, source, timestamp)
);

CREATE TABLE IF NOT EXISTS charts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	genre_id   INTEGER NOT NULL REFERENCES genres(genre_id),
	country    TEXT NOT NULL REFERENCES stores(country),
	chart_type INTEGER NOT NULL,
	timestamp  TEXT NOT NULL,
	UNIQUE (genre_id, country, chart_type, timestamp)
);

CREATE TABLE IF NOT EXISTS chart_entries (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	chart_id       INTEGER NOT NULL REFERENCES charts(id),
	application_id INTEGER NOT NULL REFERENCES applications(adam_id),
	position       INTEGER NOT NULL CHECK (position >= 0),
	UNIQUE (chart_id, application_id),
	UNIQUE (chart_id, position),
	UNIQUE (chart_id, application_id, position)
);
`

// Repository wraps the sqlite database holding the reconciled model.
type Repository struct {
	db       *sql.DB
	validate *validator.Validate
}

// Open opens (creating if necessary) the repository database at path.
func Open(path string) (*Repository, error) {
	// The pragma goes in the DSN so every pooled connection enforces foreign
	// keys, not just the one that happened to run an Exec.
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Repository{
		db:       db,
		validate: validator.New(),
	}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Tx is one all-or-nothing unit of work against the repository.
type Tx struct {
	tx *sql.Tx
	r  *Repository
}

// Transact runs fn inside a transaction, committing on nil and rolling back on
// error. Each discrete reconciliation unit (one metadata upsert, one genre
// upsert, one chart with all of its entries) runs under exactly one Transact.
func (r *Repository) Transact(fn func(*Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(&Tx{tx: tx, r: r}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *Repository) check(v any) error {
	if err := r.validate.Struct(v); err != nil {
		return fmt.Errorf("validate %T: %w", v, err)
	}
	return nil
}

// GetOrCreateStore returns the store for country, creating it if absent.
func (t *Tx) GetOrCreateStore(country string) (Store, bool, error) {
	s := Store{Country: country}
	var got string
	err := t.tx.QueryRow("SELECT country FROM stores WHERE country = ?", country).Scan(&got)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return s, false, err
	}
	if err := t.r.check(s); err != nil {
		return s, false, err
	}
	if _, err := t.tx.Exec("INSERT INTO stores (country) VALUES (?)", country); err != nil {
		return s, false, fmt.Errorf("insert store %s: %w", country, err)
	}
	return s, true, nil
}

// GetOrCreateApplication returns the application with the given storefront id,
// creating it if absent.
func (t *Tx) GetOrCreateApplication(adamID int64) (Application, bool, error) {
	a := Application{AdamID: adamID}
	var got int64
	err := t.tx.QueryRow("SELECT adam_id FROM applications WHERE adam_id = ?", adamID).Scan(&got)
	if err == nil {
		return a, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return a, false, err
	}
	if err := t.r.check(a); err != nil {
		return a, false, err
	}
	if _, err := t.tx.Exec("INSERT INTO applications (adam_id) VALUES (?)", adamID); err != nil {
		return a, false, fmt.Errorf("insert application %d: %w", adamID, err)
	}
	return a, true, nil
}

// GetApplication looks up an existing application, returning ErrNotFound if it
// was never observed.
func (t *Tx) GetApplication(adamID int64) (Application, error) {
	var got int64
	err := t.tx.QueryRow("SELECT adam_id FROM applications WHERE adam_id = ?", adamID).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return Application{}, fmt.Errorf("application %d: %w", adamID, ErrNotFound)
	}
	if err != nil {
		return Application{}, err
	}
	return Application{AdamID: got}, nil
}

// GetOrCreateGenre returns the genre with the given storefront id, creating a
// bare (unnamed, unparented) node if absent.
func (t *Tx) GetOrCreateGenre(genreID int64) (Genre, bool, error) {
	g, err := t.getGenre(genreID)
	if err == nil {
		return g, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Genre{}, false, err
	}
	g = Genre{GenreID: genreID}
	if err := t.r.check(g); err != nil {
		return g, false, err
	}
	if _, err := t.tx.Exec("INSERT INTO genres (genre_id) VALUES (?)", genreID); err != nil {
		return g, false, fmt.Errorf("insert genre %d: %w", genreID, err)
	}
	return g, true, nil
}

func (t *Tx) getGenre(genreID int64) (Genre, error) {
	g := Genre{GenreID: genreID}
	var name sql.NullString
	var parent sql.NullInt64
	err := t.tx.QueryRow("SELECT name, parent_id FROM genres WHERE genre_id = ?", genreID).
		Scan(&name, &parent)
	if errors.Is(err, sql.ErrNoRows) {
		return g, fmt.Errorf("genre %d: %w", genreID, ErrNotFound)
	}
	if err != nil {
		return g, err
	}
	if name.Valid {
		g.Name = &name.String
	}
	if parent.Valid {
		g.ParentID = &parent.Int64
	}
	return g, nil
}

// UpdateGenre persists the mutable display fields of g. The parent, if set,
// must already exist.
func (t *Tx) UpdateGenre(g Genre) error {
	if err := t.r.check(g); err != nil {
		return err
	}
	var name sql.NullString
	if g.Name != nil {
		name = sql.NullString{String: *g.Name, Valid: true}
	}
	var parent sql.NullInt64
	if g.ParentID != nil {
		parent = sql.NullInt64{Int64: *g.ParentID, Valid: true}
	}
	res, err := t.tx.Exec("UPDATE genres SET name = ?, parent_id = ? WHERE genre_id = ?",
		name, parent, g.GenreID)
	if err != nil {
		return fmt.Errorf("update genre %d: %w", g.GenreID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("genre %d: %w", g.GenreID, ErrNotFound)
	}
	return nil
}

// MetadataByKey returns all metadata rows matching the full uniqueness key.
// The schema guarantees at most one; callers treat more as a broken invariant.
func (t *Tx) MetadataByKey(appID int64, country, source string, ts time.Time) ([]Metadata, error) {
	rows, err := t.tx.Query(`
		SELECT id, application_id, country, source, timestamp, data
		FROM metadata
		WHERE application_id = ? AND country = ? AND source = ? AND timestamp = ?`,
		appID, country, source, ts.UTC().Format(timeLayout))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMetadata(rows)
}

// CreateMetadata validates and inserts a new metadata snapshot, filling in m.ID.
func (t *Tx) CreateMetadata(m *Metadata) error {
	if err := t.r.check(*m); err != nil {
		return err
	}
	res, err := t.tx.Exec(`
		INSERT INTO metadata (application_id, country, source, timestamp, data)
		VALUES (?, ?, ?, ?, ?)`,
		m.ApplicationID, m.Country, m.Source, m.Timestamp.UTC().Format(timeLayout), m.Data)
	if err != nil {
		return fmt.Errorf("insert metadata for app %d: %w", m.ApplicationID, err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// UpdateMetadataData overwrites the stored payload of one metadata row. Only
// the conflict-resolution path calls this.
func (t *Tx) UpdateMetadataData(id int64, data []byte) error {
	res, err := t.tx.Exec("UPDATE metadata SET data = ? WHERE id = ?", data, id)
	if err != nil {
		return fmt.Errorf("update metadata %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("metadata %d: %w", id, ErrNotFound)
	}
	return nil
}

// ChartExists reports whether a chart with the exact uniqueness key has
// already been recorded.
func (t *Tx) ChartExists(genreID int64, country string, chartType ChartType, ts time.Time) (bool, error) {
	var one int
	err := t.tx.QueryRow(`
		SELECT 1 FROM charts
		WHERE genre_id = ? AND country = ? AND chart_type = ? AND timestamp = ?`,
		genreID, country, int(chartType), ts.UTC().Format(timeLayout)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateChart validates and inserts a new chart snapshot, filling in c.ID.
func (t *Tx) CreateChart(c *Chart) error {
	if err := t.r.check(*c); err != nil {
		return err
	}
	res, err := t.tx.Exec(`
		INSERT INTO charts (genre_id, country, chart_type, timestamp)
		VALUES (?, ?, ?, ?)`,
		c.GenreID, c.Country, int(c.ChartType), c.Timestamp.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert chart genre=%d store=%s: %w", c.GenreID, c.Country, err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// CreateChartEntry validates and inserts one ranked entry. The referenced
// application must already exist.
func (t *Tx) CreateChartEntry(e *ChartEntry) error {
	if err := t.r.check(*e); err != nil {
		return err
	}
	res, err := t.tx.Exec(`
		INSERT INTO chart_entries (chart_id, application_id, position)
		VALUES (?, ?, ?)`,
		e.ChartID, e.ApplicationID, e.Position)
	if err != nil {
		return fmt.Errorf("insert chart entry pos=%d app=%d: %w", e.Position, e.ApplicationID, err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

func scanMetadata(rows *sql.Rows) ([]Metadata, error) {
	var out []Metadata
	for rows.Next() {
		var m Metadata
		var ts string
		var data sql.NullString
		if err := rows.Scan(&m.ID, &m.ApplicationID, &m.Country, &m.Source, &ts, &data); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("metadata %d: bad timestamp %q: %w", m.ID, ts, err)
		}
		m.Timestamp = parsed
		if data.Valid {
			m.Data = []byte(data.String)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
