package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"saturn/internal/domain"
)

// Compile-time interface checks.
var _ SnapshotStore = (*ParquetStore)(nil)
var _ ArchiveStore = (*ParquetStore)(nil)

// ParquetStore implements SnapshotStore and ArchiveStore using Parquet files
// on disk. Layout:
//
//	<DataDir>/snapshots/<SYMBOL>/<YYYY-MM-DD>.parquet   one partition per day
//	<DataDir>/archive/<SYMBOL>.parquet                  one consolidated file
//
// Every write goes to a temp file in the target directory and is renamed
// into place, so a partition is never observed half-written.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// QuoteRecord is the Parquet schema for chain snapshot rows.
type QuoteRecord struct {
	Symbol            string  `parquet:"symbol"`
	SnapshotTime      int64   `parquet:"snapshot_time,timestamp(millisecond)"`
	Expiration        int64   `parquet:"expiration,timestamp(millisecond)"`
	Strike            float64 `parquet:"strike"`
	OptionType        string  `parquet:"option_type"`
	Bid               float64 `parquet:"bid"`
	Ask               float64 `parquet:"ask"`
	Last              float64 `parquet:"last"`
	Volume            int64   `parquet:"volume"`
	OpenInterest      int64   `parquet:"open_interest"`
	ImpliedVolatility float64 `parquet:"implied_volatility"`
	Delta             float64 `parquet:"delta"`
	Gamma             float64 `parquet:"gamma"`
	Theta             float64 `parquet:"theta"`
	Vega              float64 `parquet:"vega"`
	CollectedAt       int64   `parquet:"collected_at,timestamp(millisecond)"`
}

// BarRecord is the Parquet schema for consolidated archive rows.
type BarRecord struct {
	Symbol      string  `parquet:"symbol"`
	Date        int64   `parquet:"date,timestamp(millisecond)"`
	Expiration  int64   `parquet:"expiration,timestamp(millisecond)"`
	Strike      float64 `parquet:"strike"`
	OptionType  string  `parquet:"option_type"`
	Open        float64 `parquet:"open"`
	High        float64 `parquet:"high"`
	Low         float64 `parquet:"low"`
	Close       float64 `parquet:"close"`
	Volume      int64   `parquet:"volume"`
	ArchiveDate int64   `parquet:"archive_date,timestamp(millisecond)"`
}

func toQuoteRecord(q domain.OptionQuote) QuoteRecord {
	return QuoteRecord{
		Symbol:            q.Symbol,
		SnapshotTime:      q.SnapshotTime.UnixMilli(),
		Expiration:        q.Expiration.UnixMilli(),
		Strike:            q.Strike,
		OptionType:        string(q.Type),
		Bid:               q.Bid,
		Ask:               q.Ask,
		Last:              q.Last,
		Volume:            q.Volume,
		OpenInterest:      q.OpenInterest,
		ImpliedVolatility: q.ImpliedVolatility,
		Delta:             q.Delta,
		Gamma:             q.Gamma,
		Theta:             q.Theta,
		Vega:              q.Vega,
		CollectedAt:       q.CollectedAt.UnixMilli(),
	}
}

func fromQuoteRecord(r QuoteRecord) domain.OptionQuote {
	return domain.OptionQuote{
		Symbol:            r.Symbol,
		SnapshotTime:      time.UnixMilli(r.SnapshotTime).UTC(),
		Expiration:        time.UnixMilli(r.Expiration).UTC(),
		Strike:            r.Strike,
		Type:              domain.OptionType(r.OptionType),
		Bid:               r.Bid,
		Ask:               r.Ask,
		Last:              r.Last,
		Volume:            r.Volume,
		OpenInterest:      r.OpenInterest,
		ImpliedVolatility: r.ImpliedVolatility,
		Delta:             r.Delta,
		Gamma:             r.Gamma,
		Theta:             r.Theta,
		Vega:              r.Vega,
		CollectedAt:       time.UnixMilli(r.CollectedAt).UTC(),
	}
}

func toBarRecord(b domain.OptionBar) BarRecord {
	return BarRecord{
		Symbol:      b.Symbol,
		Date:        b.Date.UnixMilli(),
		Expiration:  b.Expiration.UnixMilli(),
		Strike:      b.Strike,
		OptionType:  string(b.Type),
		Open:        b.Open,
		High:        b.High,
		Low:         b.Low,
		Close:       b.Close,
		Volume:      b.Volume,
		ArchiveDate: b.ArchiveDate.UnixMilli(),
	}
}

func fromBarRecord(r BarRecord) domain.OptionBar {
	return domain.OptionBar{
		Symbol:      r.Symbol,
		Date:        time.UnixMilli(r.Date).UTC(),
		Expiration:  time.UnixMilli(r.Expiration).UTC(),
		Strike:      r.Strike,
		Type:        domain.OptionType(r.OptionType),
		Open:        r.Open,
		High:        r.High,
		Low:         r.Low,
		Close:       r.Close,
		Volume:      r.Volume,
		ArchiveDate: time.UnixMilli(r.ArchiveDate).UTC(),
	}
}

// ---------------------------------------------------------------------------
// SnapshotStore implementation
// ---------------------------------------------------------------------------

// AppendSnapshot appends quotes to the day's partition, rejecting rows whose
// key is already present in the dataset (or duplicated within the batch).
func (s *ParquetStore) AppendSnapshot(_ context.Context, symbol string, day time.Time, quotes []domain.OptionQuote) (AppendResult, error) {
	if len(quotes) == 0 {
		return AppendResult{}, nil
	}

	path := s.snapshotPath(symbol, day)
	existing, err := readParquetFile[QuoteRecord](path)
	if err != nil {
		return AppendResult{}, IOErr("AppendSnapshot", err)
	}

	seen := make(map[domain.QuoteKey]struct{}, len(existing)+len(quotes))
	for _, r := range existing {
		seen[fromQuoteRecord(r).Key()] = struct{}{}
	}

	var res AppendResult
	merged := existing
	for _, q := range quotes {
		if !q.Type.Valid() {
			return AppendResult{}, DataErr("AppendSnapshot", fmt.Errorf("invalid option type %q", q.Type))
		}
		k := q.Key()
		if _, dup := seen[k]; dup {
			res.Rejected++
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, toQuoteRecord(q))
		res.Written++
	}

	if res.Written == 0 {
		// Nothing new; leave the dataset untouched.
		return res, nil
	}

	if err := writeParquetFile(path, merged); err != nil {
		return AppendResult{}, IOErr("AppendSnapshot", err)
	}
	return res, nil
}

// ReadSnapshot returns the snapshot dataset for the symbol and day, in stored
// (append) order.
func (s *ParquetStore) ReadSnapshot(_ context.Context, symbol string, day time.Time) ([]domain.OptionQuote, error) {
	records, err := readParquetFile[QuoteRecord](s.snapshotPath(symbol, day))
	if err != nil {
		return nil, IOErr("ReadSnapshot", err)
	}
	quotes := make([]domain.OptionQuote, 0, len(records))
	for _, r := range records {
		quotes = append(quotes, fromQuoteRecord(r))
	}
	return quotes, nil
}

// LatestSnapshotDate scans the symbol's partition directory for the most
// recent date.
func (s *ParquetStore) LatestSnapshotDate(_ context.Context, symbol string) (time.Time, error) {
	dir := filepath.Join(s.DataDir, "snapshots", strings.ToUpper(symbol))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, IOErr("LatestSnapshotDate", err)
	}

	var latest time.Time
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".parquet")
		if name == e.Name() {
			continue
		}
		d, perr := time.Parse("2006-01-02", name)
		if perr != nil {
			continue
		}
		if d.After(latest) {
			latest = d
		}
	}
	return latest, nil
}

// PurgeSnapshots removes partitions dated strictly before olderThan across
// all symbols.
func (s *ParquetStore) PurgeSnapshots(_ context.Context, olderThan time.Time) (int, error) {
	root := filepath.Join(s.DataDir, "snapshots")
	symbols, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, IOErr("PurgeSnapshots", err)
	}

	cutoff := domain.Date(olderThan)
	removed := 0
	for _, sym := range symbols {
		if !sym.IsDir() {
			continue
		}
		dir := filepath.Join(root, sym.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, IOErr("PurgeSnapshots", err)
		}
		for _, e := range entries {
			name := strings.TrimSuffix(e.Name(), ".parquet")
			if name == e.Name() {
				continue
			}
			d, perr := time.Parse("2006-01-02", name)
			if perr != nil {
				continue
			}
			if d.Before(cutoff) {
				if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
					return removed, IOErr("PurgeSnapshots", err)
				}
				removed++
			}
		}
	}
	return removed, nil
}

// ---------------------------------------------------------------------------
// ArchiveStore implementation
// ---------------------------------------------------------------------------

// MergeArchive merges bars into the symbol's consolidated dataset. Incoming
// rows win on key conflict: they represent the freshest authoritative pull.
func (s *ParquetStore) MergeArchive(_ context.Context, symbol string, bars []domain.OptionBar) (int, error) {
	path := s.archivePath(symbol)
	existing, err := readParquetFile[BarRecord](path)
	if err != nil {
		return 0, IOErr("MergeArchive", err)
	}

	if len(bars) == 0 {
		return len(existing), nil
	}

	merged := make(map[domain.BarKey]BarRecord, len(existing)+len(bars))
	for _, r := range existing {
		merged[fromBarRecord(r).Key()] = r
	}
	for _, b := range bars {
		if !b.Type.Valid() {
			return 0, DataErr("MergeArchive", fmt.Errorf("invalid option type %q", b.Type))
		}
		merged[b.Key()] = toBarRecord(b)
	}

	out := make([]BarRecord, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Expiration != b.Expiration {
			return a.Expiration < b.Expiration
		}
		if a.Strike != b.Strike {
			return a.Strike < b.Strike
		}
		return a.OptionType < b.OptionType
	})

	if err := writeParquetFile(path, out); err != nil {
		return 0, IOErr("MergeArchive", err)
	}
	return len(out), nil
}

// ReadArchive returns the symbol's full consolidated dataset in stored
// (sorted) order.
func (s *ParquetStore) ReadArchive(_ context.Context, symbol string) ([]domain.OptionBar, error) {
	records, err := readParquetFile[BarRecord](s.archivePath(symbol))
	if err != nil {
		return nil, IOErr("ReadArchive", err)
	}
	bars := make([]domain.OptionBar, 0, len(records))
	for _, r := range records {
		bars = append(bars, fromBarRecord(r))
	}
	return bars, nil
}

// LatestArchiveDate returns the max bar date in the archive. The archive
// itself is the single source of truth — there is no separately maintained
// "last archived" field to drift out of sync.
func (s *ParquetStore) LatestArchiveDate(_ context.Context, symbol string) (time.Time, error) {
	records, err := readParquetFile[BarRecord](s.archivePath(symbol))
	if err != nil {
		return time.Time{}, IOErr("LatestArchiveDate", err)
	}
	var latest int64
	for _, r := range records {
		if r.Date > latest {
			latest = r.Date
		}
	}
	if latest == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(latest).UTC(), nil
}

// ArchiveDates returns the distinct bar dates present, ascending.
func (s *ParquetStore) ArchiveDates(_ context.Context, symbol string) ([]time.Time, error) {
	records, err := readParquetFile[BarRecord](s.archivePath(symbol))
	if err != nil {
		return nil, IOErr("ArchiveDates", err)
	}
	set := make(map[int64]struct{})
	for _, r := range records {
		set[r.Date] = struct{}{}
	}
	dates := make([]time.Time, 0, len(set))
	for d := range set {
		dates = append(dates, time.UnixMilli(d).UTC())
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// snapshotPath returns the partition path for a symbol and day.
// Layout: <DataDir>/snapshots/<SYMBOL>/<YYYY-MM-DD>.parquet
func (s *ParquetStore) snapshotPath(symbol string, day time.Time) string {
	return filepath.Join(s.DataDir, "snapshots", strings.ToUpper(symbol), day.Format("2006-01-02")+".parquet")
}

// archivePath returns the consolidated archive path for a symbol.
// Layout: <DataDir>/archive/<SYMBOL>.parquet
func (s *ParquetStore) archivePath(symbol string) string {
	return filepath.Join(s.DataDir, "archive", strings.ToUpper(symbol)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

// writeParquetFile writes records to a temp file in the target directory and
// renames it into place, so readers never observe a partial dataset.
func writeParquetFile[T any](path string, records []T) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := parquet.WriteFile(tmpPath, records); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// readParquetFile reads all records from path. A missing file yields an
// empty slice, not an error.
func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
