// Package freshness evaluates how current the archived data is relative to
// the trading calendar: what we have versus what a fully caught-up archive
// would have.
package freshness

import (
	"context"
	"fmt"
	"time"

	"saturn/internal/calendar"
	"saturn/internal/domain"
	"saturn/internal/store"
)

// Checker compares archive contents against the trading calendar.
type Checker struct {
	arch store.ArchiveStore
	meta store.MetaStore
	cal  *calendar.Calendar
}

// New creates a Checker.
func New(arch store.ArchiveStore, meta store.MetaStore, cal *calendar.Calendar) *Checker {
	return &Checker{arch: arch, meta: meta, cal: cal}
}

// Check reports the freshness of one symbol's archive as of now. A symbol is
// fresh when its latest archived date is at or past the calendar's expected
// latest date. LagDays counts the calendar days the archive is behind.
func (c *Checker) Check(ctx context.Context, symbol string, now time.Time) (domain.FreshnessReport, error) {
	report := domain.FreshnessReport{
		Symbol:       symbol,
		ExpectedDate: c.cal.ExpectedLatestDataDate(now),
	}

	latest, err := c.arch.LatestArchiveDate(ctx, symbol)
	if err != nil {
		return report, fmt.Errorf("reading latest archive date: %w", err)
	}

	if latest.IsZero() {
		report.Reason, err = c.emptyReason(ctx, symbol)
		if err != nil {
			return report, err
		}
		return report, nil
	}

	report.HasData = true
	report.LatestDate = latest
	if !latest.Before(report.ExpectedDate) {
		report.IsFresh = true
		return report, nil
	}

	report.LagDays = int(report.ExpectedDate.Sub(latest).Hours() / 24)
	report.Reason = fmt.Sprintf("latest archived date %s is %d days behind expected %s",
		latest.Format("2006-01-02"), report.LagDays, report.ExpectedDate.Format("2006-01-02"))
	return report, nil
}

// emptyReason explains why a symbol has no archived data, from its run
// history.
func (c *Checker) emptyReason(ctx context.Context, symbol string) (string, error) {
	last, err := c.meta.LastRun(ctx, symbol, domain.DataTypeArchive)
	if err != nil {
		return "", fmt.Errorf("reading run history: %w", err)
	}
	switch {
	case last == nil:
		return "no archive run has been attempted", nil
	case last.Status == domain.RunFailed:
		return fmt.Sprintf("last archive run failed: %s", last.ErrorMessage), nil
	case !last.Status.Terminal():
		return "an archive run is still in progress", nil
	default:
		return "archive runs succeeded but the upstream returned no data", nil
	}
}

// CheckAll reports freshness for every registered active symbol.
func (c *Checker) CheckAll(ctx context.Context, now time.Time) ([]domain.FreshnessReport, error) {
	symbols, err := c.meta.ListSymbols(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing symbols: %w", err)
	}
	reports := make([]domain.FreshnessReport, 0, len(symbols))
	for _, sym := range symbols {
		report, err := c.Check(ctx, sym.Symbol, now)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Gaps returns the trading days inside the archive's own date span that have
// no bars at all. An empty archive has no span and therefore no gaps.
func (c *Checker) Gaps(ctx context.Context, symbol string) ([]time.Time, error) {
	dates, err := c.arch.ArchiveDates(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("reading archive dates: %w", err)
	}
	if len(dates) < 2 {
		return nil, nil
	}

	have := make(map[time.Time]struct{}, len(dates))
	for _, d := range dates {
		have[d] = struct{}{}
	}

	var gaps []time.Time
	for _, d := range c.cal.TradingDaysBetween(dates[0], dates[len(dates)-1]) {
		if _, ok := have[d]; !ok {
			gaps = append(gaps, d)
		}
	}
	return gaps, nil
}
