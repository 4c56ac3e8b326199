package keywords

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Location is a location name with optional coordinates.
type Location struct {
	Name string
	Lat  *float64
	Lng  *float64
}

// ReadTable loads a list file as rows of columns. CSV files are split on
// commas; .txt and .pdf files yield one single-column row per non-blank line.
func ReadTable(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		return readCSV(f)
	case ".pdf":
		lines, err := readPDFLines(path)
		if err != nil {
			return nil, err
		}
		return singleColumn(lines), nil
	case ".txt", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		lines, err := readLines(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return singleColumn(lines), nil
	default:
		return nil, fmt.Errorf("unsupported list file type %q", filepath.Ext(path))
	}
}

// ReadList loads a list file and flattens every cell into one list.
func ReadList(path string) ([]string, error) {
	rows, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, row := range rows {
		out = append(out, row...)
	}
	return compact(out), nil
}

// ReadNiche loads service/core keyword pairs. A .txt or .pdf line may use
// a comma to separate the two columns.
func ReadNiche(path string) ([][]string, error) {
	rows, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 1 && strings.Contains(row[0], ",") {
			row = strings.Split(row[0], ",")
		}
		out = append(out, row)
	}
	return out, nil
}

// ReadLocations loads locations. Rows of the form name,lat,lng carry
// coordinates; a header row whose coordinates don't parse is skipped.
func ReadLocations(path string) ([]Location, error) {
	rows, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	var out []Location
	for i, row := range rows {
		name := ""
		if len(row) > 0 {
			name = strings.TrimSpace(row[0])
		}
		if name == "" {
			continue
		}
		loc := Location{Name: name}
		if len(row) >= 3 {
			lat, latErr := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
			lng, lngErr := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
			if latErr != nil || lngErr != nil {
				if i == 0 {
					continue
				}
				return nil, fmt.Errorf("location %q: invalid coordinates %q,%q", name, row[1], row[2])
			}
			loc.Lat, loc.Lng = &lat, &lng
		}
		out = append(out, loc)
	}
	return out, nil
}

// LocationNames returns the names of locs in order.
func LocationNames(locs []Location) []string {
	out := make([]string, len(locs))
	for i, l := range locs {
		out[i] = l.Name
	}
	return out
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	return rows, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func readPDFLines(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("reading pdf page %d: %w", i, err)
		}
		for _, row := range rows {
			var sb strings.Builder
			for _, w := range row.Content {
				sb.WriteString(w.S)
			}
			if line := strings.TrimSpace(sb.String()); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines, nil
}

func singleColumn(lines []string) [][]string {
	out := make([][]string, len(lines))
	for i, l := range lines {
		out[i] = []string{l}
	}
	return out
}
