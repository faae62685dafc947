package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"saturn/internal/calendar"
	"saturn/internal/config"
	"saturn/internal/freshness"
	"saturn/internal/store"
)

func main() {
	showGaps := flag.Bool("gaps", false, "also report missing trading days inside each archive")
	staleAge := flag.Duration("stale-after", time.Hour, "age past which a non-terminal run is reported as stale")
	flag.Parse()

	cfgPath := "config/saturn.yaml"
	if p := os.Getenv("SATURN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cal, err := newCalendar(cfg)
	if err != nil {
		log.Fatalf("failed to build calendar: %v", err)
	}

	meta, err := store.OpenSQLite(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open metadata store: %v", err)
	}
	defer meta.Close()
	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	checker := freshness.New(pstore, meta, cal)
	ctx := context.Background()

	reports, err := checker.CheckAll(ctx, time.Now())
	if err != nil {
		log.Fatalf("freshness check failed: %v", err)
	}

	fmt.Printf("%-8s %-6s %-12s %-12s %-4s %s\n", "SYMBOL", "FRESH", "LATEST", "EXPECTED", "LAG", "REASON")
	for _, r := range reports {
		latest := "-"
		if r.HasData {
			latest = r.LatestDate.Format("2006-01-02")
		}
		fmt.Printf("%-8s %-6v %-12s %-12s %-4d %s\n",
			r.Symbol, r.IsFresh, latest, r.ExpectedDate.Format("2006-01-02"), r.LagDays, r.Reason)
	}

	if *showGaps {
		for _, r := range reports {
			if !r.HasData {
				continue
			}
			gaps, err := checker.Gaps(ctx, r.Symbol)
			if err != nil {
				log.Fatalf("gap check failed for %s: %v", r.Symbol, err)
			}
			if len(gaps) == 0 {
				continue
			}
			fmt.Printf("\n%s missing trading days:\n", r.Symbol)
			for _, g := range gaps {
				fmt.Printf("  %s\n", g.Format("2006-01-02"))
			}
		}
	}

	stale, err := meta.StaleRunningRuns(ctx, *staleAge)
	if err != nil {
		log.Fatalf("stale run check failed: %v", err)
	}
	if len(stale) > 0 {
		fmt.Printf("\nstale runs (older than %s):\n", staleAge)
		for _, run := range stale {
			fmt.Printf("  %s started %s\n", run, run.StartedAt.Format(time.RFC3339))
		}
	}
}

func newCalendar(cfg *config.Config) (*calendar.Calendar, error) {
	open, err := calendar.ParseClockTime(cfg.Market.Open)
	if err != nil {
		return nil, err
	}
	cls, err := calendar.ParseClockTime(cfg.Market.Close)
	if err != nil {
		return nil, err
	}
	cutoff, err := calendar.ParseClockTime(cfg.Market.Cutoff)
	if err != nil {
		return nil, err
	}
	return calendar.New(cfg.Market.Timezone, open, cls, cutoff, cfg.Market.ExtraHolidays)
}
