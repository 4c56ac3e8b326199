package keywords

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kalambet/rankwatch/internal/storage"
)

// SourceRows turns generated rows into source rows, attaching the
// coordinates of the matching location when locs has them.
func SourceRows(rows []Row, locs []Location) []storage.SourceRow {
	coords := make(map[string]Location, len(locs))
	for _, l := range locs {
		coords[l.Name] = l
	}

	out := make([]storage.SourceRow, len(rows))
	for i, r := range rows {
		sr := storage.SourceRow{
			Service:     r.Service,
			Location:    r.Location,
			CoreKeyword: r.CoreKeyword,
			Keyword:     r.Keyword,
		}
		if l, ok := coords[r.Location]; ok {
			sr.Lat, sr.Lng = l.Lat, l.Lng
		}
		out[i] = sr
	}
	return out
}

// ReadSourceRows loads keyword,lat,lng rows. A first row whose coordinates
// don't parse is taken as a header. Later rows keep blank or unparseable
// coordinates as missing so the enumerator skips them instead of the import
// failing.
func ReadSourceRows(path string) ([]storage.SourceRow, error) {
	table, err := ReadTable(path)
	if err != nil {
		return nil, err
	}

	var out []storage.SourceRow
	for i, row := range table {
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if len(row) < 3 {
			return nil, fmt.Errorf("row %d: want keyword,lat,lng, got %d columns", i+1, len(row))
		}
		lat := parseCoord(row[1])
		lng := parseCoord(row[2])
		if i == 0 && (lat == nil || lng == nil) {
			continue
		}
		out = append(out, storage.SourceRow{
			Keyword: strings.TrimSpace(row[0]),
			Lat:     lat,
			Lng:     lng,
		})
	}
	return out, nil
}

func parseCoord(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}
