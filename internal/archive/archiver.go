// Package archive backfills the consolidated historical archive: daily bars
// for each symbol's option contracts, fetched in bounded chunks and merged
// into a single per-symbol dataset.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"saturn/internal/domain"
	"saturn/internal/source"
	"saturn/internal/store"
	"saturn/internal/util"
)

// Config tunes archival.
type Config struct {
	ChunkDays      int                  // max days per upstream request
	LookbackDays   int                  // initial backfill depth for empty archives
	Policy         source.ArchivePolicy // contract selection bounds
	Concurrency    int                  // parallel symbols in ArchiveAll
	RetryAttempts  int                  // attempts per chunk fetch, transient errors only
	RetryBaseDelay time.Duration        // initial backoff delay
}

// DefaultConfig returns the archiver defaults: 30 day chunks, 30 day initial
// lookback, 2 parallel symbols, 3 retries starting at 1s.
func DefaultConfig() Config {
	return Config{
		ChunkDays:      30,
		LookbackDays:   30,
		Policy:         source.DefaultArchivePolicy(),
		Concurrency:    2,
		RetryAttempts:  3,
		RetryBaseDelay: time.Second,
	}
}

// Result summarizes one symbol's archival run.
type Result struct {
	Symbol  string
	Start   time.Time // zero when nothing needed archiving
	End     time.Time
	Chunks  int   // chunks fetched and merged
	Fetched int64 // bars fetched upstream
	Total   int   // archive size after the run
}

// Archiver backfills per-symbol archives. Concurrent calls for the same
// symbol are coalesced so a symbol's archive is only ever written by one
// goroutine at a time.
type Archiver struct {
	src  source.Client
	arch store.ArchiveStore
	meta store.MetaStore
	cfg  Config
	log  *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	group singleflight.Group
}

// New creates an Archiver. Zero config fields fall back to defaults.
func New(src source.Client, arch store.ArchiveStore, meta store.MetaStore, cfg Config, log *slog.Logger) *Archiver {
	def := DefaultConfig()
	if cfg.ChunkDays <= 0 {
		cfg.ChunkDays = def.ChunkDays
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = def.LookbackDays
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
	if cfg.Policy == (source.ArchivePolicy{}) {
		cfg.Policy = def.Policy
	}
	return &Archiver{
		src:  src,
		arch: arch,
		meta: meta,
		cfg:  cfg,
		log:  log,
		now:  time.Now,
	}
}

// ArchiveSymbol brings one symbol's archive up to yesterday. The range starts
// the day after the latest archived bar, or LookbackDays back for an empty
// archive, and ends at today minus one. Each chunk is merged as soon as it is
// fetched, so an interrupted run resumes where it stopped.
func (a *Archiver) ArchiveSymbol(ctx context.Context, symbol string) (Result, error) {
	v, err, _ := a.group.Do(symbol, func() (any, error) {
		return a.archiveSymbol(ctx, symbol)
	})
	if v == nil {
		return Result{Symbol: symbol}, err
	}
	return v.(Result), err
}

func (a *Archiver) archiveSymbol(ctx context.Context, symbol string) (Result, error) {
	res := Result{Symbol: symbol}
	today := domain.Date(a.now())
	end := today.AddDate(0, 0, -1)

	latest, err := a.arch.LatestArchiveDate(ctx, symbol)
	if err != nil {
		return res, fmt.Errorf("reading latest archive date: %w", err)
	}
	var start time.Time
	if latest.IsZero() {
		start = today.AddDate(0, 0, -a.cfg.LookbackDays)
	} else {
		start = latest.AddDate(0, 0, 1)
	}

	if start.After(end) {
		a.log.Debug("archive up to date", "symbol", symbol, "latest", latest)
		return res, nil
	}
	res.Start, res.End = start, end

	run, err := a.meta.LogRun(ctx, symbol, domain.DataTypeArchive)
	if err != nil {
		return res, fmt.Errorf("logging run: %w", err)
	}
	if err := a.meta.UpdateRunStatus(ctx, run.ID, domain.RunRunning, 0, ""); err != nil {
		return res, fmt.Errorf("starting run %d: %w", run.ID, err)
	}

	a.log.Info("archiving", "symbol", symbol, "start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"), "run", run.ID)

	for chunkStart := start; !chunkStart.After(end); chunkStart = chunkStart.AddDate(0, 0, a.cfg.ChunkDays) {
		if err := ctx.Err(); err != nil {
			a.failRun(ctx, run.ID, res.Fetched, err)
			return res, err
		}
		chunkEnd := chunkStart.AddDate(0, 0, a.cfg.ChunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		var bars []domain.OptionBar
		err := util.Retry(ctx, a.cfg.RetryAttempts, a.cfg.RetryBaseDelay, func() error {
			var ferr error
			bars, ferr = a.src.FetchHistoricalBars(ctx, symbol, chunkStart, chunkEnd, a.cfg.Policy)
			if ferr != nil && source.IsPermanent(ferr) {
				return util.Permanent(ferr)
			}
			return ferr
		})
		if err != nil {
			a.failRun(ctx, run.ID, res.Fetched, err)
			return res, fmt.Errorf("fetching chunk %s..%s: %w",
				chunkStart.Format("2006-01-02"), chunkEnd.Format("2006-01-02"), err)
		}

		// Merge immediately. A crash after this point loses nothing: the
		// next run starts from the new latest date.
		total, err := a.arch.MergeArchive(ctx, symbol, bars)
		if err != nil {
			a.failRun(ctx, run.ID, res.Fetched, err)
			return res, fmt.Errorf("merging chunk %s..%s: %w",
				chunkStart.Format("2006-01-02"), chunkEnd.Format("2006-01-02"), err)
		}

		res.Chunks++
		res.Fetched += int64(len(bars))
		res.Total = total
		a.log.Debug("chunk merged", "symbol", symbol,
			"chunk_start", chunkStart.Format("2006-01-02"),
			"chunk_end", chunkEnd.Format("2006-01-02"),
			"bars", len(bars), "total", total)
	}

	if err := a.meta.UpdateRunStatus(ctx, run.ID, domain.RunSuccess, res.Fetched, ""); err != nil {
		return res, fmt.Errorf("finishing run %d: %w", run.ID, err)
	}
	a.log.Info("archive complete", "symbol", symbol, "chunks", res.Chunks, "fetched", res.Fetched, "total", res.Total)
	return res, nil
}

// ArchiveAll archives every active symbol, at most Concurrency in parallel.
// One symbol's failure does not stop the others; the first error is returned
// after all symbols finish.
func (a *Archiver) ArchiveAll(ctx context.Context) ([]Result, error) {
	symbols, err := a.meta.ListSymbols(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing symbols: %w", err)
	}

	results := make([]Result, len(symbols))
	errs := make([]error, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			res, err := a.ArchiveSymbol(gctx, sym.Symbol)
			results[i] = res
			if err != nil {
				errs[i] = err
				a.log.Error("archiving symbol", "symbol", sym.Symbol, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// failRun records the terminal status even when the surrounding context is
// already cancelled.
func (a *Archiver) failRun(ctx context.Context, runID int64, fetched int64, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := a.meta.UpdateRunStatus(ctx, runID, domain.RunFailed, fetched, cause.Error()); err != nil {
		a.log.Error("recording failed run", "run", runID, "error", err)
	}
}
