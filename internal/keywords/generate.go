// Package keywords expands keyword templates across niche and location lists.
package keywords

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoTemplates           = errors.New("no templates provided")
	ErrNoNicheRows           = errors.New("no niche rows provided, expect two columns: service, core_keyword")
	ErrNoLocations           = errors.New("no locations provided")
	ErrEmptyNichePlaceholder = errors.New("niche placeholder is empty")
	ErrEmptyLocPlaceholder   = errors.New("location placeholder is empty")
)

// Row is one generated query.
type Row struct {
	Service     string
	Location    string
	CoreKeyword string
	Keyword     string
}

// Generate returns one row per (location, niche row, template), in that
// nesting order. Both placeholders are replaced literally wherever they occur
// and the resulting keyword is lowercased. Values are trimmed and blank values
// are ignored; a niche row whose service or core keyword is blank is skipped.
func Generate(templates []string, niche [][]string, nichePlaceholder string, locations []string, locationPlaceholder string) ([]Row, error) {
	tpls := compact(templates)
	locs := compact(locations)

	pairs := make([][2]string, 0, len(niche))
	for i, row := range niche {
		if blankRow(row) {
			continue
		}
		if len(row) != 2 {
			return nil, fmt.Errorf("niche row %d has %d columns, want 2 (service, core_keyword)", i+1, len(row))
		}
		service := strings.TrimSpace(row[0])
		core := strings.TrimSpace(row[1])
		if service == "" || core == "" {
			continue
		}
		pairs = append(pairs, [2]string{service, core})
	}

	nichePh := strings.TrimSpace(nichePlaceholder)
	locPh := strings.TrimSpace(locationPlaceholder)

	switch {
	case len(tpls) == 0:
		return nil, ErrNoTemplates
	case len(pairs) == 0:
		return nil, ErrNoNicheRows
	case len(locs) == 0:
		return nil, ErrNoLocations
	case nichePh == "":
		return nil, ErrEmptyNichePlaceholder
	case locPh == "":
		return nil, ErrEmptyLocPlaceholder
	}

	out := make([]Row, 0, len(locs)*len(pairs)*len(tpls))
	for _, loc := range locs {
		for _, p := range pairs {
			for _, tpl := range tpls {
				kw := strings.ReplaceAll(tpl, nichePh, p[1])
				kw = strings.ReplaceAll(kw, locPh, loc)
				out = append(out, Row{
					Service:     p[0],
					Location:    loc,
					CoreKeyword: p[1],
					Keyword:     strings.ToLower(kw),
				})
			}
		}
	}
	return out, nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
