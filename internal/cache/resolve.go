package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ohler55/ojg/oj"
)

// Resolver turns a raw cache row into its decoded JSON document.
type Resolver struct {
	// DataDir is the directory holding file-resident payloads.
	DataDir string
	// Warnf receives non-fatal resolution notices. Optional.
	Warnf func(format string, args ...any)
}

func (r *Resolver) warnf(format string, args ...any) {
	if r.Warnf != nil {
		r.Warnf(format, args...)
	}
}

// Resolve decodes the payload of row, reading it from the cache data
// directory when file-resident. A row whose on-disk hint disagrees with its
// payload shape is noted but still resolved.
func (r *Resolver) Resolve(row Row) (any, error) {
	raw := row.Inline
	if row.FileName != "" {
		if !row.OnDisk {
			r.warnf("resource might not be cached, trying to locate anyway: %s", row.FileName)
		}
		var err error
		raw, err = os.ReadFile(filepath.Join(r.DataDir, row.FileName))
		if err != nil {
			return nil, fmt.Errorf("read cached resource: %w", err)
		}
	}

	doc, err := oj.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse cached resource %s: %w", row.Source, err)
	}
	return doc, nil
}
