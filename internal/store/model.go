package store

import (
	"fmt"
	"time"

	"github.com/ohler55/ojg/oj"
)

// ChartType is the closed set of ranking flavors the storefront publishes.
type ChartType int

const (
	ChartFree ChartType = iota
	ChartPaid
)

var chartTypeAPI = map[ChartType]string{
	ChartFree: "top-free",
	ChartPaid: "top-paid",
}

var chartTypeFromAPI = map[string]ChartType{
	"top-free": ChartFree,
	"top-paid": ChartPaid,
}

// ChartTypeFromAPI maps a storefront chart tag to its ChartType. Unknown tags
// are an error, never an index panic.
func ChartTypeFromAPI(s string) (ChartType, error) {
	t, ok := chartTypeFromAPI[s]
	if !ok {
		return 0, fmt.Errorf("unknown chart type: %q", s)
	}
	return t, nil
}

// API returns the storefront tag for t.
func (t ChartType) API() string {
	return chartTypeAPI[t]
}

func (t ChartType) String() string {
	switch t {
	case ChartFree:
		return "free"
	case ChartPaid:
		return "paid"
	}
	return fmt.Sprintf("ChartType(%d)", int(t))
}

// Application is a bare identity row. Display fields (name, bundle id,
// known/bundle status) are derived from the latest usable Metadata snapshot,
// see AppInfo.
type Application struct {
	AdamID int64 `validate:"min=0"`
}

// Genre is one node of the category taxonomy. Name and parent are filled in
// lazily as category resources are observed.
type Genre struct {
	GenreID  int64 `validate:"min=0"`
	Name     *string
	ParentID *int64
}

func (g Genre) Display() string {
	if g.Name != nil {
		return *g.Name
	}
	return fmt.Sprintf("%d", g.GenreID)
}

// Store is one country storefront.
type Store struct {
	Country string `validate:"required,len=2,lowercase,alpha"`
}

// Metadata is one observed JSON description of an application in one store,
// keyed by (application, store, source, timestamp). Written once; mutated only
// through the conflict-resolution path.
type Metadata struct {
	ID            int64
	ApplicationID int64  `validate:"min=0"`
	Country       string `validate:"required,len=2,lowercase,alpha"`
	Source        string `validate:"required,url"`
	Timestamp     time.Time
	Data          []byte
}

// Doc parses the raw payload. A nil payload yields a nil document.
func (m Metadata) Doc() (map[string]any, error) {
	if len(m.Data) == 0 {
		return nil, nil
	}
	v, err := oj.Parse(m.Data)
	if err != nil {
		return nil, fmt.Errorf("parse metadata %d: %w", m.ID, err)
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("metadata %d: payload is not an object", m.ID)
	}
	return doc, nil
}

// Usable reports whether the snapshot carries real attributes. The storefront
// fetches some applications lazily, leaving placeholder rows without an
// attributes payload.
func (m Metadata) Usable() bool {
	doc, err := m.Doc()
	if err != nil || doc == nil {
		return false
	}
	_, ok := doc["attributes"]
	return ok
}

// Chart is an immutable ranking snapshot, keyed by
// (genre, store, chart type, timestamp).
type Chart struct {
	ID        int64
	GenreID   int64  `validate:"min=0"`
	Country   string `validate:"required,len=2,lowercase,alpha"`
	ChartType ChartType
	Timestamp time.Time
}

// ChartEntry is one ranked position inside a Chart. Positions are zero-based.
type ChartEntry struct {
	ID            int64
	ChartID       int64 `validate:"min=1"`
	ApplicationID int64 `validate:"min=0"`
	Position      int   `validate:"min=0"`
}
