package scan

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appstore-research/mascache/internal/store"
)

// scriptResolver replays a fixed list of decisions, failing the run if the
// engine asks for more than scripted.
type scriptResolver struct {
	decisions []Decision
	conflicts []Conflict
}

func (r *scriptResolver) Resolve(c Conflict) (Decision, error) {
	r.conflicts = append(r.conflicts, c)
	if len(r.decisions) == 0 {
		return DecisionAbort, fmt.Errorf("unexpected conflict for app %d", c.AppID)
	}
	d := r.decisions[0]
	r.decisions = r.decisions[1:]
	return d, nil
}

func newTestEngine(t *testing.T, decisions ...Decision) (*Engine, *store.Repository, *scriptResolver, *bytes.Buffer) {
	t.Helper()
	repo, err := store.Open(filepath.Join(t.TempDir(), "mas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	resolver := &scriptResolver{decisions: decisions}
	out := &bytes.Buffer{}
	engine := &Engine{Repo: repo, Resolver: resolver, Out: out}
	return engine, repo, resolver, out
}

func doc(t *testing.T, s string) any {
	t.Helper()
	v, err := oj.Parse([]byte(s))
	require.NoError(t, err)
	return v
}

var (
	testTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	appsSource   = "https://api.apps.apple.com/v1/catalog/us/apps?ids=100"
	chartsSource = "https://api.apps.apple.com/v1/catalog/us/charts?genre=36&limit=10"
)

func TestProcessFlatApps(t *testing.T) {
	engine, repo, resolver, out := newTestEngine(t)

	resource := doc(t, `{"data":[{"id":"100","type":"apps","attributes":{"name":"Pages"}}]}`)
	require.NoError(t, engine.ProcessResource(resource, appsSource, testTime))

	info, err := repo.AppInfo(100)
	require.NoError(t, err)
	assert.True(t, info.Known)
	assert.Equal(t, "Pages", info.Name)

	n, err := repo.CountMetadata(100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Empty(t, resolver.conflicts)
	assert.Contains(t, out.String(), "Added new store: us")
	assert.Contains(t, out.String(), "Added new application: 100")
}

func TestProcessFlatAppsMissingID(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	resource := doc(t, `{"data":[{"type":"apps"}]}`)
	err := engine.ProcessResource(resource, appsSource, testTime)
	require.Error(t, err)
}

func chartsResource(t *testing.T) any {
	t.Helper()
	return doc(t, `{
		"results": {
			"apps": [
				{"chart": "top-free", "data": [{"id": "100"}]},
				{"chart": "top-paid", "data": [{"id": "100"}]}
			]
		}
	}`)
}

func TestProcessCharts(t *testing.T) {
	engine, repo, resolver, out := newTestEngine(t)

	// App 100 is already known with metadata from an earlier flat resource.
	apps := doc(t, `{"data":[{"id":"100","type":"apps","attributes":{"name":"Pages"}}]}`)
	require.NoError(t, engine.ProcessResource(apps, appsSource, testTime))

	require.NoError(t, engine.ProcessResource(chartsResource(t), chartsSource, testTime))

	for _, chartType := range []store.ChartType{store.ChartFree, store.ChartPaid} {
		chart, err := repo.LatestChart(36, "us", chartType)
		require.NoError(t, err, "chart %s should exist", chartType)
		entries, err := repo.ChartEntries(chart.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(100), entries[0].ApplicationID)
		assert.Equal(t, 0, entries[0].Position)
	}

	// The chart payload's bare {"id": "100"} records land under the charts
	// source key; the app's original metadata is untouched and not duplicated.
	n, err := repo.CountMetadata(100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Empty(t, resolver.conflicts)
	assert.Contains(t, out.String(), "Added genre: 36")
	assert.Contains(t, out.String(), "Successfully added chart")
}

func TestProcessChartsIdempotent(t *testing.T) {
	engine, repo, resolver, _ := newTestEngine(t)

	require.NoError(t, engine.ProcessResource(chartsResource(t), chartsSource, testTime))
	before, err := repo.CountMetadata(0)
	require.NoError(t, err)

	// The exact same resource a second time: the chart existence check
	// short-circuits and the metadata exact-match branch triggers.
	require.NoError(t, engine.ProcessResource(chartsResource(t), chartsSource, testTime))

	after, err := repo.CountMetadata(0)
	require.NoError(t, err)
	assert.Equal(t, before, after, "re-ingestion must not add metadata rows")

	for _, chartType := range []store.ChartType{store.ChartFree, store.ChartPaid} {
		chart, err := repo.LatestChart(36, "us", chartType)
		require.NoError(t, err)
		entries, err := repo.ChartEntries(chart.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	}
	assert.Empty(t, resolver.conflicts)
}

func TestProcessChartsShortCircuitSkipsRemainingTypes(t *testing.T) {
	engine, repo, _, _ := newTestEngine(t)

	// First a resource that records only the free chart for this key.
	freeOnly := doc(t, `{
		"results": {
			"apps": [{"chart": "top-free", "data": [{"id": "100"}]}]
		}
	}`)
	require.NoError(t, engine.ProcessResource(freeOnly, chartsSource, testTime))

	// The full resource for the same key: the free chart already exists, so
	// processing stops before the paid chart is ever considered.
	require.NoError(t, engine.ProcessResource(chartsResource(t), chartsSource, testTime))

	_, err := repo.LatestChart(36, "us", store.ChartPaid)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessChartsErrors(t *testing.T) {
	t.Run("missing genre parameter", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t)
		err := engine.ProcessResource(chartsResource(t),
			"https://api.apps.apple.com/v1/catalog/us/charts?limit=10", testTime)
		require.Error(t, err)
	})

	t.Run("unknown chart type", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t)
		resource := doc(t, `{
			"results": {
				"apps": [{"chart": "top-grossing", "data": [{"id": "100"}]}]
			}
		}`)
		err := engine.ProcessResource(resource, chartsSource, testTime)
		require.Error(t, err)
	})
}

func TestMetadataConflict(t *testing.T) {
	v1 := `{"data":[{"id":"100","type":"apps","attributes":{"name":"Pages","version":"1.0"}}]}`
	v2 := `{"data":[{"id":"100","type":"apps","attributes":{"name":"Pages","version":"2.0"}}]}`

	t.Run("update overwrites the stored payload", func(t *testing.T) {
		engine, repo, resolver, _ := newTestEngine(t, DecisionUpdate)

		require.NoError(t, engine.ProcessResource(doc(t, v1), appsSource, testTime))
		require.NoError(t, engine.ProcessResource(doc(t, v2), appsSource, testTime))

		require.Len(t, resolver.conflicts, 1)
		assert.Equal(t, int64(100), resolver.conflicts[0].AppID)
		assert.NotEmpty(t, resolver.conflicts[0].Diff)

		m, err := repo.LatestMetadata(100, "us")
		require.NoError(t, err)
		d, err := m.Doc()
		require.NoError(t, err)
		attrs := d["attributes"].(map[string]any)
		assert.Equal(t, "2.0", attrs["version"])

		n, err := repo.CountMetadata(100)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "update must not add a second row")
	})

	t.Run("keep leaves the store untouched", func(t *testing.T) {
		engine, repo, resolver, _ := newTestEngine(t, DecisionKeep)

		require.NoError(t, engine.ProcessResource(doc(t, v1), appsSource, testTime))
		require.NoError(t, engine.ProcessResource(doc(t, v2), appsSource, testTime))

		require.Len(t, resolver.conflicts, 1)

		m, err := repo.LatestMetadata(100, "us")
		require.NoError(t, err)
		d, err := m.Doc()
		require.NoError(t, err)
		attrs := d["attributes"].(map[string]any)
		assert.Equal(t, "1.0", attrs["version"])
	})

	t.Run("abort terminates the run", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t, DecisionAbort)

		require.NoError(t, engine.ProcessResource(doc(t, v1), appsSource, testTime))
		err := engine.ProcessResource(doc(t, v2), appsSource, testTime)
		require.ErrorIs(t, err, ErrAborted)
	})

	t.Run("identical payload is a no-op", func(t *testing.T) {
		engine, repo, resolver, _ := newTestEngine(t)

		require.NoError(t, engine.ProcessResource(doc(t, v1), appsSource, testTime))
		require.NoError(t, engine.ProcessResource(doc(t, v1), appsSource, testTime))

		assert.Empty(t, resolver.conflicts)
		n, err := repo.CountMetadata(100)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("key order does not count as a difference", func(t *testing.T) {
		engine, _, resolver, _ := newTestEngine(t)

		reordered := `{"data":[{"attributes":{"version":"1.0","name":"Pages"},"type":"apps","id":"100"}]}`
		require.NoError(t, engine.ProcessResource(doc(t, v1), appsSource, testTime))
		require.NoError(t, engine.ProcessResource(doc(t, reordered), appsSource, testTime))

		assert.Empty(t, resolver.conflicts, "semantically equal documents must compare equal")
	})
}

func TestProcessCategories(t *testing.T) {
	engine, repo, _, out := newTestEngine(t)

	resource := doc(t, `{
		"results": {
			"categories": [
				{
					"genre": "6000",
					"name": "Business",
					"children": [
						{"genre": "7000", "name": "Productivity"}
					]
				}
			]
		}
	}`)
	source := "https://api.apps.apple.com/v1/editorial/us/categories?platform=osx"
	require.NoError(t, engine.ProcessResource(resource, source, testTime))

	parent, err := repo.GetGenre(6000)
	require.NoError(t, err)
	require.NotNil(t, parent.Name)
	assert.Equal(t, "Business", *parent.Name)
	assert.Nil(t, parent.ParentID)

	child, err := repo.GetGenre(7000)
	require.NoError(t, err)
	require.NotNil(t, child.Name)
	assert.Equal(t, "Productivity", *child.Name)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, int64(6000), *child.ParentID)

	assert.Contains(t, out.String(), "Added genre: Business")

	t.Run("re-ingest is a no-op", func(t *testing.T) {
		out.Reset()
		require.NoError(t, engine.ProcessResource(resource, source, testTime))
		assert.NotContains(t, out.String(), "Added genre")
		assert.NotContains(t, out.String(), "Updated genre")
	})
}

func TestProcessEditorial(t *testing.T) {
	source := "https://api.apps.apple.com/v1/editorial/us/featured-content"

	t.Run("rooms feed the metadata path", func(t *testing.T) {
		engine, repo, _, _ := newTestEngine(t)

		resource := doc(t, `{
			"data": [
				{"type": "groupings", "id": "g1"},
				{
					"type": "rooms",
					"id": "r1",
					"relationships": {"contents": {"data": [{"id": "200"}]}}
				}
			]
		}`)
		require.NoError(t, engine.ProcessResource(resource, source, testTime))

		n, err := repo.CountMetadata(200)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("unknown editorial type fails", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t)

		resource := doc(t, `{"data": [{"type": "banners", "id": "b1"}]}`)
		err := engine.ProcessResource(resource, source, testTime)
		require.Error(t, err)
	})
}
