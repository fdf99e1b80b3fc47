// Package scan is the reconciliation engine: it takes decoded cache
// resources, classifies them, and merges the application, genre, chart, and
// metadata facts they carry into the repository.
package scan

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/appstore-research/mascache/internal/classify"
	"github.com/appstore-research/mascache/internal/store"
	"github.com/appstore-research/mascache/internal/ux"
)

var (
	// ErrAborted terminates a run on an operator's abort decision.
	ErrAborted = errors.New("aborted")
	// ErrInvariant marks a repository uniqueness guarantee about to break.
	ErrInvariant = errors.New("invariant violation")
)

// errChartKnown short-circuits chart ingestion when the exact chart key is
// already on record.
var errChartKnown = errors.New("chart already recorded")

// roomContents addresses the application list nested inside an editorial
// rooms item.
var roomContents = jp.MustParseString("relationships.contents.data")

// Engine reconciles decoded resources into the repository, one resource at a
// time. It is synchronous by design: the conflict resolver may block on an
// operator decision before any further mutation proceeds.
type Engine struct {
	Repo     *store.Repository
	Resolver Resolver
	// Out receives progress lines. Defaults to io.Discard.
	Out io.Writer
}

func (e *Engine) out() io.Writer {
	if e.Out == nil {
		return io.Discard
	}
	return e.Out
}

// ProcessResource ingests one decoded resource observed at ts from the given
// source URL. Embedded application records are fully upserted before any
// chart entries referencing them are created.
func (e *Engine) ProcessResource(doc any, source string, ts time.Time) error {
	res, err := classify.Classify(source)
	if err != nil {
		return err
	}

	var st store.Store
	var stCreated bool
	if err := e.Repo.Transact(func(tx *store.Tx) error {
		st, stCreated, err = tx.GetOrCreateStore(res.Country)
		return err
	}); err != nil {
		return err
	}
	if stCreated {
		ux.Successf(e.out(), "Added new store: %s", st.Country)
	}

	switch res.Kind {
	case classify.KindApps:
		return e.processApps(doc, source, ts, st)
	case classify.KindCharts:
		return e.processCharts(doc, res, source, ts, st)
	case classify.KindCategories:
		return e.processCategories(doc)
	case classify.KindEditorial:
		return e.processEditorial(doc, source, ts, st)
	}
	return fmt.Errorf("unhandled resource kind: %s", res.Kind)
}

func (e *Engine) processApps(doc any, source string, ts time.Time, st store.Store) error {
	records, err := listField(doc, "data")
	if err != nil {
		return err
	}
	for _, raw := range records {
		rec, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("application record is not an object: %s", source)
		}
		if err := e.addApplicationData(rec, source, ts, st); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) processCharts(doc any, res classify.Resource, source string, ts time.Time, st store.Store) error {
	genreParam := res.Query["genre"]
	if len(genreParam) != 1 {
		return fmt.Errorf("charts resource needs exactly one genre parameter, got %d: %s", len(genreParam), source)
	}
	genreID, err := strconv.ParseInt(genreParam[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad genre parameter %q: %w", genreParam[0], err)
	}
	genre, err := e.addGenre(genreID, nil, nil)
	if err != nil {
		return err
	}

	results, err := mapField(doc, "results")
	if err != nil {
		return err
	}
	chartList, err := listField(results, "apps")
	if err != nil {
		return err
	}

	// Split the payload by chart type, preserving payload order.
	charts := map[store.ChartType][]any{}
	var order []store.ChartType
	for _, raw := range chartList {
		item, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("chart item is not an object: %s", source)
		}
		tag, _ := item["chart"].(string)
		chartType, err := store.ChartTypeFromAPI(tag)
		if err != nil {
			return err
		}
		data, err := listField(item, "data")
		if err != nil {
			return err
		}
		if _, seen := charts[chartType]; !seen {
			order = append(order, chartType)
		}
		charts[chartType] = data
	}

	// Upsert all referenced applications first. Some arrive with prefetched
	// metadata inside the chart payload.
	for _, chartType := range order {
		for _, raw := range charts[chartType] {
			rec, ok := raw.(map[string]any)
			if !ok {
				return fmt.Errorf("chart application record is not an object: %s", source)
			}
			if err := e.addApplicationData(rec, source, ts, st); err != nil {
				return err
			}
		}
	}

	for _, chartType := range order {
		chart := store.Chart{
			GenreID:   genre.GenreID,
			Country:   st.Country,
			ChartType: chartType,
			Timestamp: ts,
		}
		err := e.Repo.Transact(func(tx *store.Tx) error {
			exists, err := tx.ChartExists(chart.GenreID, chart.Country, chart.ChartType, chart.Timestamp)
			if err != nil {
				return err
			}
			if exists {
				return errChartKnown
			}
			if err := tx.CreateChart(&chart); err != nil {
				return err
			}
			for position, raw := range charts[chartType] {
				rec := raw.(map[string]any)
				appID, err := recordID(rec)
				if err != nil {
					return err
				}
				app, err := tx.GetApplication(appID)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%w: chart entry references unknown application %d", ErrInvariant, appID)
				}
				if err != nil {
					return err
				}
				entry := store.ChartEntry{
					ChartID:       chart.ID,
					ApplicationID: app.AdamID,
					Position:      position,
				}
				if err := tx.CreateChartEntry(&entry); err != nil {
					return err
				}
			}
			return nil
		})
		if errors.Is(err, errChartKnown) {
			// The whole resource counts as already ingested. Note that this
			// also skips any chart types not yet processed for this resource.
			return nil
		}
		if err != nil {
			return err
		}
		ux.Successf(e.out(), "Successfully added chart: %s %s %s", genre.Display(), st.Country, chartType)
	}
	return nil
}

func (e *Engine) processCategories(doc any) error {
	results, err := mapField(doc, "results")
	if err != nil {
		return err
	}
	categories, err := listField(results, "categories")
	if err != nil {
		return err
	}
	for _, raw := range categories {
		category, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("category is not an object")
		}
		genreID, err := genreField(category)
		if err != nil {
			return err
		}
		name, _ := category["name"].(string)
		parent, err := e.addGenre(genreID, &name, nil)
		if err != nil {
			return err
		}
		children, err := listField(category, "children")
		if err != nil {
			return err
		}
		for _, rawChild := range children {
			child, ok := rawChild.(map[string]any)
			if !ok {
				return fmt.Errorf("category child is not an object")
			}
			childID, err := genreField(child)
			if err != nil {
				return err
			}
			childName, _ := child["name"].(string)
			if _, err := e.addGenre(childID, &childName, &parent.GenreID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) processEditorial(doc any, source string, ts time.Time, st store.Store) error {
	items, err := listField(doc, "data")
	if err != nil {
		return err
	}
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("editorial item is not an object: %s", source)
		}
		switch item["type"] {
		case "groupings":
			// Groupings nest their applications too deep to be worth
			// extracting; skip them.
			continue
		case "rooms":
			matches := roomContents.Get(item)
			if len(matches) != 1 {
				return fmt.Errorf("rooms item without contents: %s", source)
			}
			records, ok := matches[0].([]any)
			if !ok {
				return fmt.Errorf("rooms contents is not a list: %s", source)
			}
			for _, rawRec := range records {
				rec, ok := rawRec.(map[string]any)
				if !ok {
					return fmt.Errorf("rooms application record is not an object: %s", source)
				}
				if err := e.addApplicationData(rec, source, ts, st); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("unhandled editorial type %v: %s", item["type"], source)
		}
	}
	return nil
}

// addGenre get-or-creates a genre and updates its display fields if they
// changed. Creation and update are reported separately.
func (e *Engine) addGenre(genreID int64, name *string, parentID *int64) (store.Genre, error) {
	var genre store.Genre
	err := e.Repo.Transact(func(tx *store.Tx) error {
		g, created, err := tx.GetOrCreateGenre(genreID)
		if err != nil {
			return err
		}
		updated := false
		if name != nil && (g.Name == nil || *g.Name != *name) {
			g.Name = name
			updated = true
		}
		if parentID != nil && (g.ParentID == nil || *g.ParentID != *parentID) {
			g.ParentID = parentID
			updated = true
		}
		if updated {
			if err := tx.UpdateGenre(g); err != nil {
				return err
			}
		}
		if created {
			ux.Successf(e.out(), "Added genre: %s", g.Display())
		} else if updated {
			ux.Successf(e.out(), "Updated genre: %s", g.Display())
		}
		genre = g
		return nil
	})
	return genre, err
}

// recordID extracts the numeric application id of a record. The storefront
// serializes ids as strings in some payloads and numbers in others.
func recordID(rec map[string]any) (int64, error) {
	v, ok := rec["id"]
	if !ok {
		return 0, fmt.Errorf("application record has no id field")
	}
	switch id := v.(type) {
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad application id %q: %w", id, err)
		}
		return n, nil
	case int64:
		return id, nil
	case float64:
		return int64(id), nil
	}
	return 0, fmt.Errorf("application id has unexpected type %T", v)
}

// genreField extracts the numeric genre id of a category item.
func genreField(item map[string]any) (int64, error) {
	v, ok := item["genre"]
	if !ok {
		return 0, fmt.Errorf("category has no genre field")
	}
	switch id := v.(type) {
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad genre id %q: %w", id, err)
		}
		return n, nil
	case int64:
		return id, nil
	case float64:
		return int64(id), nil
	}
	return 0, fmt.Errorf("genre id has unexpected type %T", v)
}

func mapField(doc any, key string) (map[string]any, error) {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("resource is not an object")
	}
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("resource has no %q object", key)
	}
	return v, nil
}

func listField(doc any, key string) ([]any, error) {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("resource is not an object")
	}
	v, ok := m[key].([]any)
	if !ok {
		return nil, fmt.Errorf("resource has no %q list", key)
	}
	return v, nil
}
