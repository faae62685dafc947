// Package source defines the Data Source Client boundary: fetching option
// chain snapshots and historical contract bars from an external market-data
// provider.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"saturn/internal/domain"
)

// Client abstracts the external market-data provider. Implementations must
// classify failures as transient or permanent via FetchError so callers can
// decide whether to retry.
type Client interface {
	// Name returns the client identifier (e.g. "alpaca", "simulator").
	Name() string

	// FetchChainSnapshot returns the current state of the option chain for
	// symbol, bounded by the snapshot selection policy. SnapshotTime on the
	// returned quotes is set to asOf.
	FetchChainSnapshot(ctx context.Context, symbol string, asOf time.Time, policy SnapshotPolicy) ([]domain.OptionQuote, error)

	// FetchHistoricalBars returns daily bars for the symbol's option
	// contracts within [start, end] (dates, inclusive), bounded by the
	// archive selection policy.
	FetchHistoricalBars(ctx context.Context, symbol string, start, end time.Time, policy ArchivePolicy) ([]domain.OptionBar, error)
}

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

// ErrorKind classifies a fetch failure for retry decisions.
type ErrorKind int

const (
	// Transient failures (network, timeout, rate limit) are worth retrying.
	Transient ErrorKind = iota
	// Permanent failures (bad symbol, malformed request) are not.
	Permanent
)

// String returns the kind name.
func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// FetchError wraps a provider failure with its retry classification.
type FetchError struct {
	Kind ErrorKind
	Op   string // provider operation, e.g. "GetOptionChain"
	Err  error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error { return e.Err }

// TransientErr wraps err as a retryable fetch failure.
func TransientErr(op string, err error) error {
	return &FetchError{Kind: Transient, Op: op, Err: err}
}

// PermanentErr wraps err as a non-retryable fetch failure.
func PermanentErr(op string, err error) error {
	return &FetchError{Kind: Permanent, Op: op, Err: err}
}

// IsTransient reports whether err is a fetch failure worth retrying.
// Unclassified errors are treated as transient so that a single oddball
// failure does not kill a run.
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == Transient
	}
	return true
}

// IsPermanent reports whether err is a fetch failure that must not be retried.
func IsPermanent(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == Permanent
	}
	return false
}
