package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppInfo is the derived view of an application, computed from its latest
// usable metadata snapshot rather than stored on the row itself.
type AppInfo struct {
	AdamID   int64
	Name     string
	BundleID string
	Known    bool
	Bundle   bool
}

func (i AppInfo) Display() string {
	if i.Name == "" {
		return fmt.Sprintf("%d", i.AdamID)
	}
	return i.Name
}

// LatestMetadata returns the newest non-placeholder metadata snapshot for an
// application. An empty country matches any store. Rows whose payload is null
// or lacks an attributes object are skipped.
func (r *Repository) LatestMetadata(appID int64, country string) (Metadata, error) {
	q := `
		SELECT id, application_id, country, source, timestamp, data
		FROM metadata
		WHERE application_id = ? AND data IS NOT NULL`
	args := []any{appID}
	if country != "" {
		q += " AND country = ?"
		args = append(args, country)
	}
	q += " ORDER BY timestamp DESC"

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return Metadata{}, err
	}
	defer func() { _ = rows.Close() }()

	all, err := scanMetadata(rows)
	if err != nil {
		return Metadata{}, err
	}
	for _, m := range all {
		if m.Usable() {
			return m, nil
		}
	}
	return Metadata{}, fmt.Errorf("metadata for app %d: %w", appID, ErrNotFound)
}

// AppInfo derives the display fields of an application across all stores.
func (r *Repository) AppInfo(appID int64) (AppInfo, error) {
	info := AppInfo{AdamID: appID}
	m, err := r.LatestMetadata(appID, "")
	if errors.Is(err, ErrNotFound) {
		return info, nil
	}
	if err != nil {
		return info, err
	}
	doc, err := m.Doc()
	if err != nil {
		return info, err
	}
	info.Known = true
	info.Bundle = doc["type"] == "app-bundles"
	attrs, _ := doc["attributes"].(map[string]any)
	if name, ok := attrs["name"].(string); ok {
		info.Name = name
	}
	if platforms, ok := attrs["platformAttributes"].(map[string]any); ok {
		if osx, ok := platforms["osx"].(map[string]any); ok {
			if bid, ok := osx["bundleId"].(string); ok {
				info.BundleID = bid
			}
		}
	}
	return info, nil
}

// LatestChart returns the most recent chart snapshot for the given key.
func (r *Repository) LatestChart(genreID int64, country string, chartType ChartType) (Chart, error) {
	var c Chart
	var ts string
	err := r.db.QueryRow(`
		SELECT id, genre_id, country, chart_type, timestamp
		FROM charts
		WHERE genre_id = ? AND country = ? AND chart_type = ?
		ORDER BY timestamp DESC
		LIMIT 1`,
		genreID, country, int(chartType)).
		Scan(&c.ID, &c.GenreID, &c.Country, &c.ChartType, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("chart genre=%d store=%s type=%s: %w", genreID, country, chartType, ErrNotFound)
	}
	if err != nil {
		return c, err
	}
	c.Timestamp, err = time.Parse(timeLayout, ts)
	if err != nil {
		return c, fmt.Errorf("chart %d: bad timestamp %q: %w", c.ID, ts, err)
	}
	return c, nil
}

// ChartEntries lists a chart's entries ordered by position.
func (r *Repository) ChartEntries(chartID int64) ([]ChartEntry, error) {
	rows, err := r.db.Query(`
		SELECT id, chart_id, application_id, position
		FROM chart_entries
		WHERE chart_id = ?
		ORDER BY position`, chartID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ChartEntry
	for rows.Next() {
		var e ChartEntry
		if err := rows.Scan(&e.ID, &e.ChartID, &e.ApplicationID, &e.Position); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetGenre looks up one genre node.
func (r *Repository) GetGenre(genreID int64) (Genre, error) {
	g := Genre{GenreID: genreID}
	var name sql.NullString
	var parent sql.NullInt64
	err := r.db.QueryRow("SELECT name, parent_id FROM genres WHERE genre_id = ?", genreID).
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

// FirstStore returns the first store on record. In most deployments there is
// exactly one.
func (r *Repository) FirstStore() (Store, error) {
	var s Store
	err := r.db.QueryRow("SELECT country FROM stores ORDER BY country LIMIT 1").Scan(&s.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("stores: %w", ErrNotFound)
	}
	return s, err
}

// CountMetadata reports the number of metadata rows on record, optionally for
// one application.
func (r *Repository) CountMetadata(appID int64) (int, error) {
	q := "SELECT COUNT(*) FROM metadata"
	args := []any{}
	if appID > 0 {
		q += " WHERE application_id = ?"
		args = append(args, appID)
	}
	var n int
	err := r.db.QueryRow(q, args...).Scan(&n)
	return n, err
}
