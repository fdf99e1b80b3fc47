// Package classify turns cached request URLs into the resource kind that
// decides how a payload is interpreted.
package classify

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind is the closed set of resource shapes the engine knows how to ingest.
type Kind int

const (
	// KindApps is a flat list of application records ("apps" / "contents").
	KindApps Kind = iota
	// KindCharts is a set of ranked lists keyed by a genre query parameter.
	KindCharts
	// KindCategories is the genre taxonomy ("editorial categories").
	KindCategories
	// KindEditorial is a heterogeneous editorial item list (rooms, groupings).
	KindEditorial
)

func (k Kind) String() string {
	switch k {
	case KindApps:
		return "apps"
	case KindCharts:
		return "charts"
	case KindCategories:
		return "categories"
	case KindEditorial:
		return "editorial"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Resource is the classification of one cached request.
type Resource struct {
	Kind    Kind
	Mode    string
	SubMode string
	Country string
	Query   url.Values
}

// Classify parses a cached request URL into a Resource. The path after the API
// version prefix must carry at least a mode and a country; catalog resources
// additionally need a recognized sub-mode.
func Classify(source string) (Resource, error) {
	u, err := url.Parse(source)
	if err != nil {
		return Resource{}, fmt.Errorf("parse source url: %w", err)
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	// segs[0] is the API version, e.g. "v1".
	if len(segs) < 3 || segs[0] == "" {
		return Resource{}, fmt.Errorf("unknown url, path too short: %s", source)
	}

	res := Resource{
		Mode:    segs[1],
		Country: segs[2],
		Query:   u.Query(),
	}

	switch res.Mode {
	case "catalog":
		if len(segs) < 4 {
			return Resource{}, fmt.Errorf("unknown url, missing catalog sub-mode: %s", source)
		}
		res.SubMode = segs[3]
		switch res.SubMode {
		case "apps", "contents":
			res.Kind = KindApps
		case "charts":
			res.Kind = KindCharts
		default:
			return Resource{}, fmt.Errorf("unhandled catalog sub-mode: %s", res.SubMode)
		}
	case "editorial":
		if len(segs) < 4 {
			return Resource{}, fmt.Errorf("unknown url, missing editorial sub-mode: %s", source)
		}
		res.SubMode = segs[3]
		if res.SubMode == "categories" {
			res.Kind = KindCategories
		} else {
			res.Kind = KindEditorial
		}
	default:
		return Resource{}, fmt.Errorf("unhandled mode: %s", res.Mode)
	}

	return res, nil
}
