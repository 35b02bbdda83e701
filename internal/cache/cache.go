// Package cache maintains one on-disk CSV table of daily records per symbol
// and the update-plan logic that decides what a refresh must fetch.
package cache

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meet-minimalist/nsedata/internal/apperror"
	"github.com/meet-minimalist/nsedata/internal/market"
)

const dateFormat = time.DateOnly

var columns = []string{
	"Date", "Symbol", "Series",
	"PrevClose", "OpenPrice", "HighPrice", "LowPrice", "LastPrice", "ClosePrice", "AveragePrice",
	"TotalTradedQuantity", "Turnover", "NoOfTrades", "DeliverableQty", "DeliverablePct",
}

// Store persists one CSV file per symbol under a base directory. Distinct
// symbols map to distinct files, so no locking is needed as long as a symbol
// is owned by a single worker at a time.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apperror.Wrap(apperror.Storage, fmt.Errorf("create cache dir: %w", err))
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) BaseDir() string { return s.baseDir }

// Path returns the table file for a symbol. Symbols may contain characters
// that are not filesystem-safe (e.g. "M&M"); those are replaced.
func (s *Store) Path(symbol string) string {
	return filepath.Join(s.baseDir, sanitize(symbol)+".csv")
}

func sanitize(symbol string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, symbol)
}

// Load reads a symbol's table. A missing file is not an error; it returns no
// records. A malformed file returns a CacheRead error so callers can decide
// to re-fetch the full history.
func (s *Store) Load(symbol string) ([]market.DailyRecord, error) {
	f, err := os.Open(s.Path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperror.Wrap(apperror.CacheRead, fmt.Errorf("open table for %s: %w", symbol, err))
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(columns)

	rows, err := r.ReadAll()
	if err != nil {
		return nil, apperror.Wrap(apperror.CacheRead, fmt.Errorf("read table for %s: %w", symbol, err))
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	records := make([]market.DailyRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec, err := decodeRow(row)
		if err != nil {
			return nil, apperror.Wrap(apperror.CacheRead, fmt.Errorf("table for %s: %w", symbol, err))
		}
		records = append(records, rec)
	}
	return records, nil
}

// LatestDate returns the maximum trade date in a symbol's table, or false if
// no table exists or it is empty. A corrupt table logs a warning and reports
// false, forcing a full re-fetch rather than blocking the symbol.
func (s *Store) LatestDate(symbol string) (time.Time, bool) {
	records, err := s.Load(symbol)
	if err != nil {
		slog.Warn("unreadable cache table, treating as absent", "symbol", symbol, "error", err)
		return time.Time{}, false
	}
	if len(records) == 0 {
		return time.Time{}, false
	}

	latest := records[0].Date
	for _, rec := range records[1:] {
		if rec.Date.After(latest) {
			latest = rec.Date
		}
	}
	return latest, true
}

// MergeAndPersist combines existing and freshly fetched records, keeping the
// fetched value when both sets carry the same trade date, sorts ascending by
// date, and atomically rewrites the symbol's table. The whole-table overwrite
// (temp file + rename) guarantees a reader never observes a partial merge.
// Returns the number of rows written.
func (s *Store) MergeAndPersist(symbol string, existing, fetched []market.DailyRecord) (int, error) {
	byDate := make(map[time.Time]market.DailyRecord, len(existing)+len(fetched))
	for _, rec := range existing {
		byDate[market.Day(rec.Date)] = rec
	}
	for _, rec := range fetched {
		// Re-fetched rows are more authoritative than stale cache.
		byDate[market.Day(rec.Date)] = rec
	}

	merged := make([]market.DailyRecord, 0, len(byDate))
	for _, rec := range byDate {
		merged = append(merged, rec)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date.Before(merged[j].Date) })

	if err := s.writeTable(symbol, merged); err != nil {
		return 0, err
	}

	slog.Info("persisted table", "symbol", symbol, "rows", len(merged), "path", s.Path(symbol))
	return len(merged), nil
}

func (s *Store) writeTable(symbol string, records []market.DailyRecord) error {
	tmp, err := os.CreateTemp(s.baseDir, sanitize(symbol)+"-*.tmp")
	if err != nil {
		return apperror.Wrap(apperror.Storage, fmt.Errorf("create temp table for %s: %w", symbol, err))
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := csv.NewWriter(tmp)
	if err := w.Write(columns); err != nil {
		_ = tmp.Close()
		return apperror.Wrap(apperror.Storage, fmt.Errorf("write header for %s: %w", symbol, err))
	}
	for _, rec := range records {
		if err := w.Write(encodeRow(rec)); err != nil {
			_ = tmp.Close()
			return apperror.Wrap(apperror.Storage, fmt.Errorf("write row for %s: %w", symbol, err))
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return apperror.Wrap(apperror.Storage, fmt.Errorf("flush table for %s: %w", symbol, err))
	}
	if err := tmp.Close(); err != nil {
		return apperror.Wrap(apperror.Storage, fmt.Errorf("close temp table for %s: %w", symbol, err))
	}

	if err := os.Rename(tmpName, s.Path(symbol)); err != nil {
		return apperror.Wrap(apperror.Storage, fmt.Errorf("replace table for %s: %w", symbol, err))
	}
	return nil
}

func encodeRow(rec market.DailyRecord) []string {
	return []string{
		rec.Date.Format(dateFormat),
		rec.Symbol,
		rec.Series,
		formatFloat(rec.PrevClose),
		formatFloat(rec.Open),
		formatFloat(rec.High),
		formatFloat(rec.Low),
		formatFloat(rec.Last),
		formatFloat(rec.Close),
		formatFloat(rec.Average),
		strconv.FormatInt(rec.TradedQty, 10),
		formatFloat(rec.Turnover),
		strconv.FormatInt(rec.Trades, 10),
		strconv.FormatInt(rec.DeliverableQty, 10),
		formatFloat(rec.DeliverablePct),
	}
}

func decodeRow(row []string) (market.DailyRecord, error) {
	var rec market.DailyRecord
	var err error

	rec.Date, err = time.Parse(dateFormat, row[0])
	if err != nil {
		return rec, fmt.Errorf("parse date %q: %w", row[0], err)
	}
	rec.Symbol = row[1]
	rec.Series = row[2]

	floats := []struct {
		dst *float64
		idx int
	}{
		{&rec.PrevClose, 3}, {&rec.Open, 4}, {&rec.High, 5}, {&rec.Low, 6},
		{&rec.Last, 7}, {&rec.Close, 8}, {&rec.Average, 9},
		{&rec.Turnover, 11}, {&rec.DeliverablePct, 14},
	}
	for _, f := range floats {
		*f.dst, err = strconv.ParseFloat(row[f.idx], 64)
		if err != nil {
			return rec, fmt.Errorf("parse %s %q: %w", columns[f.idx], row[f.idx], err)
		}
	}

	ints := []struct {
		dst *int64
		idx int
	}{
		{&rec.TradedQty, 10}, {&rec.Trades, 12}, {&rec.DeliverableQty, 13},
	}
	for _, f := range ints {
		*f.dst, err = strconv.ParseInt(row[f.idx], 10, 64)
		if err != nil {
			return rec, fmt.Errorf("parse %s %q: %w", columns[f.idx], row[f.idx], err)
		}
	}

	return rec, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
