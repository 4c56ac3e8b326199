package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/rankwatch/internal/storage"
)

const scanPageSize = 500

// EnumeratorStore is what the enumerator reads.
type EnumeratorStore interface {
	SourceReader
	CursorStore
	ResolvedPositions() (map[int]string, error)
	OutstandingJobs() ([]storage.Job, error)
}

// Enumerator lists source rows that still need a submission.
type Enumerator struct {
	store   EnumeratorStore
	cap     int
	maxScan int
	logger  *slog.Logger
}

// NewEnumerator creates an Enumerator bounded by SafetyCap and MaxScanRows.
func NewEnumerator(store EnumeratorStore) *Enumerator {
	return &Enumerator{
		store:   store,
		cap:     SafetyCap,
		maxScan: MaxScanRows,
		logger:  slog.Default(),
	}
}

// Cursor returns the persisted cursor, or storage.FirstDataRow when it is
// absent or points at the header.
func Cursor(store CursorStore) (int, error) {
	c, err := store.GetCursor()
	if errors.Is(err, storage.ErrNotFound) {
		return storage.FirstDataRow, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading cursor: %w", err)
	}
	if c < storage.FirstDataRow {
		return storage.FirstDataRow, nil
	}
	return c, nil
}

// Scan is the outcome of one enumeration. Resume is non-zero when the scan
// stopped at the row limit before the end of the table; the next scan should
// start there.
type Scan struct {
	Items  []WorkItem
	Resume int
}

// Enumerate returns the work items of one Scan.
func (e *Enumerator) Enumerate(ctx context.Context) ([]WorkItem, error) {
	sc, err := e.Scan(ctx)
	return sc.Items, err
}

// Scan reads the source table from the cursor in position order and collects
// every row that has a keyword and both coordinates and whose position is not
// already claimed. A position is claimed by an outstanding ledger job, or by
// a non-placeholder result written for the keyword the row holds now. At most
// SafetyCap items are returned and at most MaxScanRows rows are read.
func (e *Enumerator) Scan(ctx context.Context) (Scan, error) {
	cursor, err := Cursor(e.store)
	if err != nil {
		return Scan{}, err
	}
	resolved, err := e.store.ResolvedPositions()
	if err != nil {
		return Scan{}, fmt.Errorf("reading resolved positions: %w", err)
	}
	outstanding, err := e.outstandingPositions()
	if err != nil {
		return Scan{}, err
	}

	var sc Scan
	skipped, scanned := 0, 0
	from := cursor
	for len(sc.Items) < e.cap {
		if err := ctx.Err(); err != nil {
			return Scan{}, err
		}
		rows, err := e.store.ListSourceRows(from, scanPageSize)
		if err != nil {
			return Scan{}, fmt.Errorf("reading source rows from %d: %w", from, err)
		}
		scanned += len(rows)
		for _, r := range rows {
			if _, ok := outstanding[r.Position]; ok {
				continue
			}
			kw := strings.TrimSpace(r.Keyword)
			if prev, ok := resolved[r.Position]; ok && prev == kw {
				continue
			}
			if kw == "" || r.Lat == nil || r.Lng == nil {
				skipped++
				continue
			}
			sc.Items = append(sc.Items, WorkItem{Keyword: kw, Lat: *r.Lat, Lng: *r.Lng, Position: r.Position})
			if len(sc.Items) == e.cap {
				break
			}
		}
		if len(rows) < scanPageSize {
			break
		}
		from = rows[len(rows)-1].Position + 1
		if scanned >= e.maxScan && len(sc.Items) < e.cap {
			sc.Resume = from
			break
		}
	}

	e.logger.Debug("enumerated work items", "cursor", cursor, "items", len(sc.Items), "scanned", scanned,
		"malformed", skipped, "resume", sc.Resume)
	return sc, nil
}

func (e *Enumerator) outstandingPositions() (map[int]struct{}, error) {
	jobs, err := e.store.OutstandingJobs()
	if err != nil {
		return nil, fmt.Errorf("reading outstanding jobs: %w", err)
	}
	out := make(map[int]struct{}, len(jobs))
	for _, j := range jobs {
		out[j.SourcePosition] = struct{}{}
	}
	return out, nil
}
