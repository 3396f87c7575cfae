package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/parquet-go/parquet-go"

	"datahub/internal/domain"
)

// Compile-time interface check.
var _ MarketStore = (*ParquetStore)(nil)

// ParquetStore implements MarketStore with one Parquet file per trading day:
//
//	<DataDir>/cn/<collection>/<YYYY>/<YYYYMMDD>.parquet
//
// An upsert rewrites the day's file with incoming records replacing stored
// ones of the same symbol. Files are locked per day only.
type ParquetStore struct {
	DataDir    string
	Collection string

	locks sync.Map // path -> *sync.Mutex
}

// NewParquetStore creates a ParquetStore rooted at dataDir.
func NewParquetStore(dataDir, collection string) (*ParquetStore, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	return &ParquetStore{DataDir: dataDir, Collection: collection}, nil
}

// MarketRow is the Parquet schema of a cleaned record. Column order follows
// domain.MarketFields.
type MarketRow struct {
	Date           string   `parquet:"date"`
	Symbol         string   `parquet:"symbol"`
	Open           float64  `parquet:"open"`
	High           float64  `parquet:"high"`
	Low            float64  `parquet:"low"`
	Close          float64  `parquet:"close"`
	Volume         float64  `parquet:"volume"`
	PreClose       float64  `parquet:"pre_close"`
	LimitUp        *float64 `parquet:"limit_up,optional"`
	LimitDown      *float64 `parquet:"limit_down,optional"`
	IndexComponent *string  `parquet:"index_component,optional"`
	Name           *string  `parquet:"name,optional"`
}

// EnsureSchema creates the collection directory. The unique key is enforced
// by mergeMarketRows on every write.
func (s *ParquetStore) EnsureSchema(_ context.Context) error {
	return os.MkdirAll(filepath.Join(s.DataDir, "cn", s.Collection), 0o755)
}

// UpsertMarket merges records into their day files.
func (s *ParquetStore) UpsertMarket(ctx context.Context, records []domain.MarketRecord) (int, error) {
	byDate := make(map[string][]MarketRow)
	for _, r := range records {
		byDate[r.Date] = append(byDate[r.Date], toMarketRow(r))
	}

	written := 0
	for date, rows := range byDate {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := s.upsertDay(date, rows); err != nil {
			return written, fmt.Errorf("writing %s: %w", date, err)
		}
		written += len(symbolSet(rows))
	}
	return written, nil
}

// MarketByDate reads one day's records ordered by symbol.
func (s *ParquetStore) MarketByDate(_ context.Context, date string) ([]domain.MarketRecord, error) {
	rows, err := readMarketRows(s.dayPath(date))
	if err != nil {
		return nil, err
	}
	out := make([]domain.MarketRecord, len(rows))
	for i, r := range rows {
		out[i] = fromMarketRow(r)
	}
	return out, nil
}

// Close is a no-op; files are closed after every write.
func (s *ParquetStore) Close(context.Context) error { return nil }

func (s *ParquetStore) upsertDay(date string, rows []MarketRow) error {
	path := s.dayPath(date)
	mu, _ := s.locks.LoadOrStore(path, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	existing, err := readMarketRows(path)
	if err != nil {
		return err
	}
	merged := mergeMarketRows(existing, rows)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, merged); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// dayPath returns <DataDir>/cn/<collection>/<YYYY>/<date>.parquet.
func (s *ParquetStore) dayPath(date string) string {
	year := date
	if len(date) >= 4 {
		year = date[:4]
	}
	return filepath.Join(s.DataDir, "cn", s.Collection, year, date+".parquet")
}

func readMarketRows(path string) ([]MarketRow, error) {
	rows, err := parquet.ReadFile[MarketRow](path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return rows, err
}

// mergeMarketRows deduplicates rows by symbol, preferring incoming rows over
// existing ones. The result is sorted by symbol.
func mergeMarketRows(existing, incoming []MarketRow) []MarketRow {
	seen := make(map[string]MarketRow, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Symbol] = r
	}
	for _, r := range incoming {
		seen[r.Symbol] = r
	}

	merged := make([]MarketRow, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Symbol < merged[j].Symbol
	})
	return merged
}

func symbolSet(rows []MarketRow) map[string]struct{} {
	syms := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		syms[r.Symbol] = struct{}{}
	}
	return syms
}

func toMarketRow(r domain.MarketRecord) MarketRow {
	return MarketRow{
		Date:           r.Date,
		Symbol:         r.Symbol,
		Open:           r.Open,
		High:           r.High,
		Low:            r.Low,
		Close:          r.Close,
		Volume:         r.Volume,
		PreClose:       r.PreClose,
		LimitUp:        r.LimitUp,
		LimitDown:      r.LimitDown,
		IndexComponent: r.IndexComponent,
		Name:           r.Name,
	}
}

func fromMarketRow(r MarketRow) domain.MarketRecord {
	return domain.MarketRecord{
		Date:           r.Date,
		Symbol:         r.Symbol,
		Open:           r.Open,
		High:           r.High,
		Low:            r.Low,
		Close:          r.Close,
		Volume:         r.Volume,
		PreClose:       r.PreClose,
		LimitUp:        r.LimitUp,
		LimitDown:      r.LimitDown,
		IndexComponent: r.IndexComponent,
		Name:           r.Name,
	}
}
