package collect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"saturn/internal/calendar"
	"saturn/internal/domain"
	"saturn/internal/source"
	"saturn/internal/store"
)

func testCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New("America/New_York",
		calendar.ClockTime{Hour: 9, Minute: 45},
		calendar.ClockTime{Hour: 16, Minute: 45},
		calendar.ClockTime{Hour: 16, Minute: 30},
		nil)
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	return cal
}

func testStores(t *testing.T) (*store.ParquetStore, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()
	meta, err := store.OpenSQLite(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { meta.Close() })
	return store.NewParquetStore(dir), meta
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource returns canned quotes per symbol, or a canned error.
type fakeSource struct {
	mu     sync.Mutex
	quotes map[string][]domain.OptionQuote
	errs   map[string]error
	calls  map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		quotes: make(map[string][]domain.OptionQuote),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchChainSnapshot(_ context.Context, symbol string, asOf time.Time, _ source.SnapshotPolicy) ([]domain.OptionQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	out := make([]domain.OptionQuote, len(f.quotes[symbol]))
	copy(out, f.quotes[symbol])
	for i := range out {
		out[i].SnapshotTime = asOf
	}
	return out, nil
}

func (f *fakeSource) FetchHistoricalBars(context.Context, string, time.Time, time.Time, source.ArchivePolicy) ([]domain.OptionBar, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSource) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func quoteFor(symbol string, strike float64) domain.OptionQuote {
	return domain.OptionQuote{
		Symbol:     symbol,
		Expiration: time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC),
		Strike:     strike,
		Type:       domain.Call,
		Bid:        1.0,
		Ask:        1.1,
	}
}

func addActive(t *testing.T, meta store.MetaStore, symbols ...string) {
	t.Helper()
	for _, s := range symbols {
		if err := meta.AddSymbol(context.Background(), domain.Symbol{Symbol: s, IsActive: true}); err != nil {
			t.Fatalf("AddSymbol %s: %v", s, err)
		}
	}
}

func newTestCollector(t *testing.T, src source.Client, snap *store.ParquetStore, meta *store.SQLiteStore, now time.Time) *Collector {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	c := New(src, snap, meta, testCalendar(t), cfg, discardLogger())
	c.now = func() time.Time { return now }
	return c
}

func TestCollectNowWritesSnapshotsAndRuns(t *testing.T) {
	ctx := context.Background()
	snap, meta := testStores(t)
	addActive(t, meta, "SPY", "QQQ")

	src := newFakeSource()
	src.quotes["SPY"] = []domain.OptionQuote{quoteFor("SPY", 420), quoteFor("SPY", 425)}
	src.quotes["QQQ"] = []domain.OptionQuote{quoteFor("QQQ", 500)}

	now := time.Date(2025, 6, 27, 14, 0, 0, 0, time.UTC)
	c := newTestCollector(t, src, snap, meta, now)

	if err := c.CollectNow(ctx); err != nil {
		t.Fatalf("CollectNow: %v", err)
	}

	for sym, want := range map[string]int{"SPY": 2, "QQQ": 1} {
		got, err := snap.ReadSnapshot(ctx, sym, domain.Date(now))
		if err != nil {
			t.Fatalf("ReadSnapshot %s: %v", sym, err)
		}
		if len(got) != want {
			t.Fatalf("%s: got %d rows, want %d", sym, len(got), want)
		}
		run, err := meta.LastRun(ctx, sym, domain.DataTypeSnapshot)
		if err != nil {
			t.Fatalf("LastRun %s: %v", sym, err)
		}
		if run == nil || run.Status != domain.RunSuccess || run.RecordsCount != int64(want) {
			t.Fatalf("%s run: %+v", sym, run)
		}
	}
}

func TestEmptyChainIsFailure(t *testing.T) {
	ctx := context.Background()
	snap, meta := testStores(t)
	addActive(t, meta, "SPY")

	// The source answers without error but with zero quotes.
	src := newFakeSource()

	now := time.Date(2025, 6, 27, 14, 0, 0, 0, time.UTC)
	c := newTestCollector(t, src, snap, meta, now)

	if err := c.CollectNow(ctx); err != nil {
		t.Fatalf("CollectNow: %v", err)
	}

	run, err := meta.LastRun(ctx, "SPY", domain.DataTypeSnapshot)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if run == nil || run.Status != domain.RunFailed {
		t.Fatalf("run: %+v, want failed for an empty chain", run)
	}
	if !strings.Contains(run.ErrorMessage, "no data") {
		t.Fatalf("ErrorMessage = %q", run.ErrorMessage)
	}

	got, err := snap.ReadSnapshot(ctx, "SPY", domain.Date(now))
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("partition written for an empty chain: %d rows", len(got))
	}

	// Repeated empty responses trip the health signal.
	for i := 0; i < c.cfg.FailureThreshold-1; i++ {
		c.CollectNow(ctx)
	}
	ok, failing := c.Health()
	if ok || len(failing) != 1 || failing[0] != "SPY" {
		t.Fatalf("health = %v %v, want unhealthy [SPY]", ok, failing)
	}
}

func TestPartitionDayUsesExchangeDate(t *testing.T) {
	ctx := context.Background()
	snap, meta := testStores(t)
	addActive(t, meta, "SPY")

	src := newFakeSource()
	src.quotes["SPY"] = []domain.OptionQuote{quoteFor("SPY", 420)}

	// 2025-06-28 01:00 UTC is still Friday 2025-06-27 21:00 in New York;
	// a late manual collection belongs to Friday's partition.
	now := time.Date(2025, 6, 28, 1, 0, 0, 0, time.UTC)
	c := newTestCollector(t, src, snap, meta, now)

	if err := c.CollectNow(ctx); err != nil {
		t.Fatalf("CollectNow: %v", err)
	}

	got, err := snap.ReadSnapshot(ctx, "SPY", time.Date(2025, 6, 27, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Friday partition has %d rows, want 1", len(got))
	}
	got, err = snap.ReadSnapshot(ctx, "SPY", time.Date(2025, 6, 28, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("UTC-date partition has %d rows, want 0", len(got))
	}
}

func TestSymbolFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	snap, meta := testStores(t)
	addActive(t, meta, "AAA", "BBB", "CCC")

	src := newFakeSource()
	src.quotes["BBB"] = []domain.OptionQuote{quoteFor("BBB", 100)}
	src.quotes["CCC"] = []domain.OptionQuote{quoteFor("CCC", 200)}
	src.errs["AAA"] = source.PermanentErr("chain", errors.New("unknown symbol"))

	now := time.Date(2025, 6, 27, 14, 0, 0, 0, time.UTC)
	c := newTestCollector(t, src, snap, meta, now)

	if err := c.CollectNow(ctx); err != nil {
		t.Fatalf("CollectNow: %v", err)
	}

	// AAA failed and was recorded as such.
	run, err := meta.LastRun(ctx, "AAA", domain.DataTypeSnapshot)
	if err != nil {
		t.Fatalf("LastRun AAA: %v", err)
	}
	if run == nil || run.Status != domain.RunFailed || run.ErrorMessage == "" {
		t.Fatalf("AAA run: %+v", run)
	}
	// Permanent errors are not retried.
	if n := src.callCount("AAA"); n != 1 {
		t.Fatalf("AAA fetched %d times, want 1", n)
	}

	// BBB and CCC still succeeded in the same cycle.
	for _, sym := range []string{"BBB", "CCC"} {
		run, err := meta.LastRun(ctx, sym, domain.DataTypeSnapshot)
		if err != nil {
			t.Fatalf("LastRun %s: %v", sym, err)
		}
		if run == nil || run.Status != domain.RunSuccess {
			t.Fatalf("%s run: %+v", sym, run)
		}
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	ctx := context.Background()
	snap, meta := testStores(t)
	addActive(t, meta, "SPY")

	src := newFakeSource()
	src.errs["SPY"] = source.TransientErr("chain", errors.New("429"))

	now := time.Date(2025, 6, 27, 14, 0, 0, 0, time.UTC)
	c := newTestCollector(t, src, snap, meta, now)

	if err := c.CollectNow(ctx); err != nil {
		t.Fatalf("CollectNow: %v", err)
	}
	if n := src.callCount("SPY"); n != c.cfg.RetryAttempts {
		t.Fatalf("SPY fetched %d times, want %d", n, c.cfg.RetryAttempts)
	}
	run, err := meta.LastRun(ctx, "SPY", domain.DataTypeSnapshot)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if run.Status != domain.RunFailed {
		t.Fatalf("run status %s, want failed", run.Status)
	}
}

func TestTickSkipsOutsideWindow(t *testing.T) {
	ctx := context.Background()
	snap, meta := testStores(t)
	addActive(t, meta, "SPY")

	src := newFakeSource()
	src.quotes["SPY"] = []domain.OptionQuote{quoteFor("SPY", 420)}

	// Saturday, and also outside the window in ET.
	now := time.Date(2025, 6, 28, 14, 0, 0, 0, time.UTC)
	c := newTestCollector(t, src, snap, meta, now)
	c.tick(ctx)

	if n := src.callCount("SPY"); n != 0 {
		t.Fatalf("fetched %d times outside window, want 0", n)
	}
	run, err := meta.LastRun(ctx, "SPY", domain.DataTypeSnapshot)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if run != nil {
		t.Fatalf("run logged outside window: %+v", run)
	}

	// 3am ET on a trading day: trading day, outside window.
	c.now = func() time.Time { return time.Date(2025, 6, 27, 7, 0, 0, 0, time.UTC) }
	c.tick(ctx)
	if n := src.callCount("SPY"); n != 0 {
		t.Fatalf("fetched %d times pre-open, want 0", n)
	}

	// 2pm ET on a trading day: inside window.
	c.now = func() time.Time { return time.Date(2025, 6, 27, 18, 0, 0, 0, time.UTC) }
	c.tick(ctx)
	if n := src.callCount("SPY"); n != 1 {
		t.Fatalf("fetched %d times inside window, want 1", n)
	}
}

func TestRepeatCycleRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	snap, meta := testStores(t)
	addActive(t, meta, "SPY")

	src := newFakeSource()
	src.quotes["SPY"] = []domain.OptionQuote{quoteFor("SPY", 420)}

	now := time.Date(2025, 6, 27, 14, 0, 0, 0, time.UTC)
	c := newTestCollector(t, src, snap, meta, now)

	// Two cycles at the same instant produce identical keys; the second
	// append writes nothing but the run still succeeds.
	if err := c.CollectNow(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if err := c.CollectNow(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	got, err := snap.ReadSnapshot(ctx, "SPY", domain.Date(now))
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows after repeat cycle, want 1", len(got))
	}
	run, err := meta.LastRun(ctx, "SPY", domain.DataTypeSnapshot)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if run.Status != domain.RunSuccess || run.RecordsCount != 0 {
		t.Fatalf("second run: %+v, want success with 0 records", run)
	}
}

func TestHealthThreshold(t *testing.T) {
	ctx := context.Background()
	snap, meta := testStores(t)
	addActive(t, meta, "SPY")

	src := newFakeSource()
	src.errs["SPY"] = source.PermanentErr("chain", errors.New("boom"))

	now := time.Date(2025, 6, 27, 14, 0, 0, 0, time.UTC)
	c := newTestCollector(t, src, snap, meta, now)

	for i := 0; i < c.cfg.FailureThreshold-1; i++ {
		c.CollectNow(ctx)
	}
	if ok, _ := c.Health(); !ok {
		t.Fatal("unhealthy before reaching threshold")
	}

	c.CollectNow(ctx)
	ok, failing := c.Health()
	if ok || len(failing) != 1 || failing[0] != "SPY" {
		t.Fatalf("health = %v %v, want unhealthy [SPY]", ok, failing)
	}

	// One success resets the counter.
	src.mu.Lock()
	delete(src.errs, "SPY")
	src.quotes["SPY"] = []domain.OptionQuote{quoteFor("SPY", 420)}
	src.mu.Unlock()
	c.CollectNow(ctx)
	if ok, _ := c.Health(); !ok {
		t.Fatal("still unhealthy after a successful cycle")
	}
}

func TestRetentionPurge(t *testing.T) {
	ctx := context.Background()
	snap, meta := testStores(t)
	addActive(t, meta, "SPY")

	old := time.Date(2025, 1, 2, 14, 0, 0, 0, time.UTC)
	if _, err := snap.AppendSnapshot(ctx, "SPY", domain.Date(old), []domain.OptionQuote{
		func() domain.OptionQuote { q := quoteFor("SPY", 400); q.SnapshotTime = old; return q }(),
	}); err != nil {
		t.Fatalf("seed old partition: %v", err)
	}

	src := newFakeSource()
	src.quotes["SPY"] = []domain.OptionQuote{quoteFor("SPY", 420)}

	now := time.Date(2025, 6, 27, 18, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.RetentionDays = 90
	cfg.RetryBaseDelay = time.Millisecond
	c := New(src, snap, meta, testCalendar(t), cfg, discardLogger())
	c.now = func() time.Time { return now }

	c.tick(ctx)

	got, err := snap.ReadSnapshot(ctx, "SPY", domain.Date(old))
	if err != nil {
		t.Fatalf("ReadSnapshot old: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("old partition survived purge: %d rows", len(got))
	}
	got, err = snap.ReadSnapshot(ctx, "SPY", domain.Date(now))
	if err != nil {
		t.Fatalf("ReadSnapshot today: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("today's partition: %d rows, want 1", len(got))
	}
}

func TestReconcileStaleRuns(t *testing.T) {
	ctx := context.Background()
	snap, meta := testStores(t)

	orphan, err := meta.LogRun(ctx, "SPY", domain.DataTypeSnapshot)
	if err != nil {
		t.Fatalf("LogRun: %v", err)
	}
	if err := meta.UpdateRunStatus(ctx, orphan.ID, domain.RunRunning, 0, ""); err != nil {
		t.Fatalf("to running: %v", err)
	}

	cfg := DefaultConfig()
	cfg.StaleRunAge = time.Nanosecond
	c := New(newFakeSource(), snap, meta, testCalendar(t), cfg, discardLogger())

	time.Sleep(5 * time.Millisecond)
	if err := c.reconcileStaleRuns(ctx); err != nil {
		t.Fatalf("reconcileStaleRuns: %v", err)
	}

	run, err := meta.LastRun(ctx, "SPY", domain.DataTypeSnapshot)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if run.Status != domain.RunFailed || run.ErrorMessage != "orphaned by restart" {
		t.Fatalf("orphan not reconciled: %+v", run)
	}
}
