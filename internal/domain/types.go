// Package domain defines the core data types shared across the pipeline:
// option quotes, historical bars, download runs, and the symbol registry.
package domain

import (
	"fmt"
	"time"
)

// OptionType identifies a contract as a call or a put.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// Valid reports whether t is one of the known option types.
func (t OptionType) Valid() bool {
	return t == Call || t == Put
}

// OptionQuote is one row of a chain snapshot: the observed state of a single
// contract at a point in time. Uniquely identified by
// (Symbol, SnapshotTime, Expiration, Strike, Type) within a dataset.
type OptionQuote struct {
	Symbol            string
	SnapshotTime      time.Time
	Expiration        time.Time // date, midnight UTC
	Strike            float64
	Type              OptionType
	Bid               float64
	Ask               float64
	Last              float64
	Volume            int64
	OpenInterest      int64
	ImpliedVolatility float64
	Delta             float64
	Gamma             float64
	Theta             float64
	Vega              float64
	CollectedAt       time.Time
}

// QuoteKey is the uniqueness key of an OptionQuote.
type QuoteKey struct {
	Symbol       string
	SnapshotTime int64 // Unix ms
	Expiration   int64 // Unix ms, midnight UTC
	Strike       float64
	Type         OptionType
}

// Key returns the uniqueness key for the quote.
func (q OptionQuote) Key() QuoteKey {
	return QuoteKey{
		Symbol:       q.Symbol,
		SnapshotTime: q.SnapshotTime.UnixMilli(),
		Expiration:   q.Expiration.UnixMilli(),
		Strike:       q.Strike,
		Type:         q.Type,
	}
}

// OptionBar is one daily OHLCV bar for a single contract in the consolidated
// historical archive. Uniquely identified by
// (Symbol, Date, Expiration, Strike, Type).
type OptionBar struct {
	Symbol      string
	Date        time.Time // date, midnight UTC
	Expiration  time.Time // date, midnight UTC
	Strike      float64
	Type        OptionType
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      int64
	ArchiveDate time.Time // when this row was archived
}

// BarKey is the uniqueness key of an OptionBar.
type BarKey struct {
	Symbol     string
	Date       int64 // Unix ms, midnight UTC
	Expiration int64 // Unix ms, midnight UTC
	Strike     float64
	Type       OptionType
}

// Key returns the uniqueness key for the bar.
func (b OptionBar) Key() BarKey {
	return BarKey{
		Symbol:     b.Symbol,
		Date:       b.Date.UnixMilli(),
		Expiration: b.Expiration.UnixMilli(),
		Strike:     b.Strike,
		Type:       b.Type,
	}
}

// RunStatus is the lifecycle state of a DownloadRun.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed
}

// CanTransition reports whether a run may move from s to next. The state
// machine is append-only: pending → running → {success, failed}. A run never
// regresses to an earlier state.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunPending:
		return next == RunRunning || next == RunFailed
	case RunRunning:
		return next == RunSuccess || next == RunFailed
	default:
		return false
	}
}

// Data types recorded on download runs.
const (
	DataTypeSnapshot = "snapshot"
	DataTypeArchive  = "historical_archive"
)

// DownloadRun tracks one collection or archival attempt.
type DownloadRun struct {
	ID           int64
	Symbol       string
	DataType     string
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   time.Time // zero until terminal
	RecordsCount int64
	ErrorMessage string
}

// String renders a short human-readable summary of the run.
func (r DownloadRun) String() string {
	return fmt.Sprintf("run %d %s/%s %s (%d records)", r.ID, r.Symbol, r.DataType, r.Status, r.RecordsCount)
}

// Symbol is one row of the symbol registry.
type Symbol struct {
	Symbol      string
	DisplayName string
	IsActive    bool
}

// FreshnessReport describes how current a symbol's archived data is relative
// to the trading calendar.
type FreshnessReport struct {
	Symbol       string
	HasData      bool
	LatestDate   time.Time // zero when HasData is false
	ExpectedDate time.Time
	IsFresh      bool
	LagDays      int
	Reason       string
}

// Date truncates t to midnight UTC. Dataset keys and calendar arithmetic work
// on dates in this normalized form.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
