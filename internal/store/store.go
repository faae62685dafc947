// Package store persists option data: chain snapshots and the consolidated
// historical archive in Parquet, run metadata and the symbol registry in
// SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"saturn/internal/domain"
)

// AppendResult reports the outcome of a snapshot append.
type AppendResult struct {
	Written  int // rows stored
	Rejected int // rows skipped because their key was already present
}

// SnapshotStore persists per-day option chain snapshots.
type SnapshotStore interface {
	// AppendSnapshot appends quotes to the day's snapshot dataset for the
	// symbol, creating it if absent. Rows whose key is already present are
	// rejected individually; the write is all-or-nothing.
	AppendSnapshot(ctx context.Context, symbol string, day time.Time, quotes []domain.OptionQuote) (AppendResult, error)

	// ReadSnapshot returns the snapshot dataset for the symbol and day.
	ReadSnapshot(ctx context.Context, symbol string, day time.Time) ([]domain.OptionQuote, error)

	// LatestSnapshotDate returns the most recent snapshot date for the
	// symbol, or a zero time if no snapshots exist.
	LatestSnapshotDate(ctx context.Context, symbol string) (time.Time, error)

	// PurgeSnapshots deletes snapshot partitions older than the cutoff date
	// for every symbol, returning the number of partitions removed.
	PurgeSnapshots(ctx context.Context, olderThan time.Time) (int, error)
}

// ArchiveStore persists the consolidated per-symbol historical archive.
type ArchiveStore interface {
	// MergeArchive merges bars into the symbol's consolidated dataset,
	// deduplicating by key with incoming rows winning, then re-sorting by
	// (date, expiration, strike, type). All-or-nothing per call. Returns
	// the total record count after the merge.
	MergeArchive(ctx context.Context, symbol string, bars []domain.OptionBar) (int, error)

	// ReadArchive returns the symbol's full consolidated dataset.
	ReadArchive(ctx context.Context, symbol string) ([]domain.OptionBar, error)

	// LatestArchiveDate returns the most recent bar date in the archive, or
	// a zero time if the archive does not exist.
	LatestArchiveDate(ctx context.Context, symbol string) (time.Time, error)

	// ArchiveDates returns the distinct bar dates present, ascending.
	ArchiveDates(ctx context.Context, symbol string) ([]time.Time, error)
}

// MetaStore persists download-run metadata and the symbol registry.
type MetaStore interface {
	// AddSymbol registers a symbol, or reactivates/updates it if present.
	AddSymbol(ctx context.Context, sym domain.Symbol) error

	// ListSymbols returns registered symbols, optionally active only.
	ListSymbols(ctx context.Context, activeOnly bool) ([]domain.Symbol, error)

	// SetSymbolActive toggles a symbol's active flag.
	SetSymbolActive(ctx context.Context, symbol string, active bool) error

	// LogRun creates a pending DownloadRun and returns it with its ID set.
	LogRun(ctx context.Context, symbol, dataType string) (*domain.DownloadRun, error)

	// UpdateRunStatus advances a run through its state machine, recording
	// the record count and error message on terminal states. Transitions
	// that would regress the state machine fail with a Data error.
	UpdateRunStatus(ctx context.Context, runID int64, status domain.RunStatus, recordsCount int64, errMsg string) error

	// LastRun returns the most recent run for a symbol and data type, or
	// nil if none exists.
	LastRun(ctx context.Context, symbol, dataType string) (*domain.DownloadRun, error)

	// LastSuccessfulRun returns the most recent successful run for a symbol
	// and data type, or nil if none exists.
	LastSuccessfulRun(ctx context.Context, symbol, dataType string) (*domain.DownloadRun, error)

	// ListRecentRuns returns runs started at or after since, newest first.
	// An empty symbol matches all symbols.
	ListRecentRuns(ctx context.Context, symbol string, since time.Time) ([]domain.DownloadRun, error)

	// StaleRunningRuns returns non-terminal runs started more than maxAge
	// ago — candidates for reconciliation after a crash or restart.
	StaleRunningRuns(ctx context.Context, maxAge time.Duration) ([]domain.DownloadRun, error)
}

// ---------------------------------------------------------------------------
// Error kinds
// ---------------------------------------------------------------------------

// Kind separates infrastructure failures from data-shape failures so callers
// can retry the former and abort on the latter.
type Kind int

const (
	// KindIO covers disk, permission, and database-engine failures.
	KindIO Kind = iota
	// KindData covers schema mismatches, duplicate keys, and state-machine
	// violations.
	KindData
)

// String returns the kind name.
func (k Kind) String() string {
	if k == KindData {
		return "data"
	}
	return "io"
}

// StorageError wraps a storage failure with its kind.
type StorageError struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }

// IOErr wraps err as an infrastructure failure.
func IOErr(op string, err error) error {
	return &StorageError{Kind: KindIO, Op: op, Err: err}
}

// DataErr wraps err as a data-shape failure.
func DataErr(op string, err error) error {
	return &StorageError{Kind: KindData, Op: op, Err: err}
}

// IsIOError reports whether err is an infrastructure storage failure.
func IsIOError(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == KindIO
}

// IsDataError reports whether err is a data-shape storage failure.
func IsDataError(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == KindData
}
