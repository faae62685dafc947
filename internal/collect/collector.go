// Package collect runs the periodic chain snapshot loop: on every interval
// inside the trading window, fetch a bounded snapshot of the option chain for
// each active symbol and append it to the day's partition.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"saturn/internal/calendar"
	"saturn/internal/domain"
	"saturn/internal/source"
	"saturn/internal/store"
	"saturn/internal/util"
)

// Config tunes the snapshot loop.
type Config struct {
	Interval         time.Duration         // time between collection cycles
	Concurrency      int                   // parallel symbol workers per cycle
	RetentionDays    int                   // purge partitions older than this; 0 disables
	Policy           source.SnapshotPolicy // chain selection bounds
	RetryAttempts    int                   // attempts per fetch, transient errors only
	RetryBaseDelay   time.Duration         // initial backoff delay
	FailureThreshold int                   // consecutive failures before a symbol is unhealthy
	StaleRunAge      time.Duration         // non-terminal runs older than this get reconciled
}

// DefaultConfig returns the collector defaults: 5 minute interval, 4 workers,
// 90 day retention, 3 retries starting at 1s, unhealthy after 3 failures.
func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Minute,
		Concurrency:      4,
		RetentionDays:    90,
		Policy:           source.DefaultSnapshotPolicy(),
		RetryAttempts:    3,
		RetryBaseDelay:   time.Second,
		FailureThreshold: 3,
		StaleRunAge:      time.Hour,
	}
}

// Collector drives snapshot collection for the active symbol set.
type Collector struct {
	src  source.Client
	snap store.SnapshotStore
	meta store.MetaStore
	cal  *calendar.Calendar
	cfg  Config
	log  *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	mu        sync.Mutex
	failures  map[string]int // consecutive failures per symbol
	lastPurge time.Time      // date of the last retention purge
}

// New creates a Collector. Zero config fields fall back to defaults.
func New(src source.Client, snap store.SnapshotStore, meta store.MetaStore, cal *calendar.Calendar, cfg Config, log *slog.Logger) *Collector {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.StaleRunAge <= 0 {
		cfg.StaleRunAge = def.StaleRunAge
	}
	if cfg.Policy == (source.SnapshotPolicy{}) {
		cfg.Policy = def.Policy
	}
	return &Collector{
		src:      src,
		snap:     snap,
		meta:     meta,
		cal:      cal,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		failures: make(map[string]int),
	}
}

// Run blocks, collecting snapshots on every interval tick that falls inside
// the trading window, until ctx is cancelled. Ticks outside the window are
// skipped without logging a run.
func (c *Collector) Run(ctx context.Context) error {
	c.log.Info("collector starting",
		"source", c.src.Name(),
		"interval", c.cfg.Interval,
		"concurrency", c.cfg.Concurrency)

	if err := c.reconcileStaleRuns(ctx); err != nil {
		c.log.Warn("reconciling stale runs", "error", err)
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("collector stopping")
			return ctx.Err()
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick runs one scheduled cycle, gated on the trading calendar.
func (c *Collector) tick(ctx context.Context) {
	now := c.now()
	if !c.cal.IsTradingDay(now) || !c.cal.InWindow(now) {
		c.log.Debug("outside trading window, skipping cycle", "time", now)
		return
	}
	if err := c.cycle(ctx, now); err != nil {
		c.log.Error("collection cycle", "error", err)
	}
	c.maybePurge(ctx, now)
}

// CollectNow runs a single collection cycle immediately, bypassing the
// trading-window gate. Used by the on-demand CLI path.
func (c *Collector) CollectNow(ctx context.Context) error {
	return c.cycle(ctx, c.now())
}

// cycle collects a snapshot for every active symbol, at most Concurrency in
// parallel. A symbol's failure is recorded on its own run and never blocks
// the other symbols.
func (c *Collector) cycle(ctx context.Context, now time.Time) error {
	symbols, err := c.meta.ListSymbols(ctx, true)
	if err != nil {
		return fmt.Errorf("listing symbols: %w", err)
	}
	if len(symbols) == 0 {
		c.log.Debug("no active symbols")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			if err := c.collectSymbol(gctx, sym.Symbol, now); err != nil {
				c.log.Error("collecting symbol", "symbol", sym.Symbol, "error", err)
			}
			return nil
		})
	}
	g.Wait()
	return nil
}

// collectSymbol runs the full lifecycle for one symbol: log a run, fetch
// with retry, append, and record the terminal status.
func (c *Collector) collectSymbol(ctx context.Context, symbol string, now time.Time) error {
	run, err := c.meta.LogRun(ctx, symbol, domain.DataTypeSnapshot)
	if err != nil {
		return fmt.Errorf("logging run: %w", err)
	}
	if err := c.meta.UpdateRunStatus(ctx, run.ID, domain.RunRunning, 0, ""); err != nil {
		return fmt.Errorf("starting run %d: %w", run.ID, err)
	}

	var quotes []domain.OptionQuote
	err = util.Retry(ctx, c.cfg.RetryAttempts, c.cfg.RetryBaseDelay, func() error {
		var ferr error
		quotes, ferr = c.src.FetchChainSnapshot(ctx, symbol, now, c.cfg.Policy)
		if ferr != nil && source.IsPermanent(ferr) {
			return util.Permanent(ferr)
		}
		return ferr
	})
	if err != nil {
		c.failRun(ctx, run.ID, symbol, err)
		return fmt.Errorf("fetching chain: %w", err)
	}

	// An empty chain is a failure, not a degenerate success: a feed that
	// stops returning data has to trip the health signal.
	if len(quotes) == 0 {
		err := fmt.Errorf("no data returned for %s", symbol)
		c.failRun(ctx, run.ID, symbol, err)
		return err
	}

	res, err := c.snap.AppendSnapshot(ctx, symbol, c.partitionDay(now), quotes)
	if err != nil {
		c.failRun(ctx, run.ID, symbol, err)
		return fmt.Errorf("appending snapshot: %w", err)
	}

	if err := c.meta.UpdateRunStatus(ctx, run.ID, domain.RunSuccess, int64(res.Written), ""); err != nil {
		return fmt.Errorf("finishing run %d: %w", run.ID, err)
	}

	c.mu.Lock()
	c.failures[symbol] = 0
	c.mu.Unlock()

	c.log.Info("snapshot collected",
		"symbol", symbol,
		"written", res.Written,
		"rejected", res.Rejected,
		"run", run.ID)
	return nil
}

// partitionDay returns the calendar date of t in the exchange timezone as a
// midnight-UTC date. Keying on UTC directly would roll a late-evening manual
// collection into the next day's partition.
func (c *Collector) partitionDay(t time.Time) time.Time {
	lt := t.In(c.cal.Location())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}

// failRun records a failed terminal status and bumps the symbol's
// consecutive-failure count. Runs even when the surrounding context is
// already cancelled.
func (c *Collector) failRun(ctx context.Context, runID int64, symbol string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := c.meta.UpdateRunStatus(ctx, runID, domain.RunFailed, 0, cause.Error()); err != nil {
		c.log.Error("recording failed run", "run", runID, "error", err)
	}
	c.mu.Lock()
	c.failures[symbol]++
	n := c.failures[symbol]
	c.mu.Unlock()
	if n >= c.cfg.FailureThreshold {
		c.log.Warn("symbol unhealthy", "symbol", symbol, "consecutive_failures", n)
	}
}

// Health reports whether every symbol is below the consecutive-failure
// threshold, and the symbols that are not.
func (c *Collector) Health() (bool, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var failing []string
	for sym, n := range c.failures {
		if n >= c.cfg.FailureThreshold {
			failing = append(failing, sym)
		}
	}
	return len(failing) == 0, failing
}

// maybePurge removes snapshot partitions past retention, at most once per
// calendar day.
func (c *Collector) maybePurge(ctx context.Context, now time.Time) {
	if c.cfg.RetentionDays <= 0 {
		return
	}
	today := c.partitionDay(now)

	c.mu.Lock()
	done := c.lastPurge.Equal(today)
	if !done {
		c.lastPurge = today
	}
	c.mu.Unlock()
	if done {
		return
	}

	cutoff := today.AddDate(0, 0, -c.cfg.RetentionDays)
	removed, err := c.snap.PurgeSnapshots(ctx, cutoff)
	if err != nil {
		c.log.Error("purging snapshots", "cutoff", cutoff, "error", err)
		return
	}
	if removed > 0 {
		c.log.Info("purged snapshot partitions", "removed", removed, "cutoff", cutoff)
	}
}

// reconcileStaleRuns marks runs orphaned by a previous crash as failed so
// they stop counting as in-flight.
func (c *Collector) reconcileStaleRuns(ctx context.Context) error {
	stale, err := c.meta.StaleRunningRuns(ctx, c.cfg.StaleRunAge)
	if err != nil {
		return err
	}
	for _, run := range stale {
		if err := c.meta.UpdateRunStatus(ctx, run.ID, domain.RunFailed, 0, "orphaned by restart"); err != nil {
			c.log.Warn("reconciling run", "run", run.ID, "error", err)
			continue
		}
		c.log.Info("reconciled stale run", "run", run.ID, "symbol", run.Symbol, "started_at", run.StartedAt)
	}
	return nil
}
