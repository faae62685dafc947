package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"saturn/internal/calendar"
	"saturn/internal/collect"
	"saturn/internal/config"
	"saturn/internal/source"
	"saturn/internal/store"
	"saturn/internal/util"
)

func main() {
	once := flag.Bool("once", false, "run a single collection cycle and exit")
	srcName := flag.String("source", "", "data source: alpaca or simulator (default: alpaca when credentials are set)")
	flag.Parse()

	cfgPath := "config/saturn.yaml"
	if p := os.Getenv("SATURN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/saturn-collector-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := util.NewLoggerTo(w, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

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

	src := newSourceClient(cfg, *srcName)

	collector := collect.New(src, pstore, meta, cal, collect.Config{
		Interval:      time.Duration(cfg.Collector.IntervalMinutes) * time.Minute,
		Concurrency:   cfg.Collector.Concurrency,
		RetentionDays: cfg.Collector.RetentionDays,
		Policy: source.SnapshotPolicy{
			ExpirationWindowDays: cfg.Collector.ExpirationWindowDays,
			MaxExpirations:       cfg.Collector.MaxExpirations,
			StrikeCount:          cfg.Collector.StrikeCount,
		},
		RetryAttempts:    cfg.Fetch.RetryAttempts,
		RetryBaseDelay:   time.Duration(cfg.Fetch.RetryBaseMillis) * time.Millisecond,
		FailureThreshold: cfg.Collector.FailureThreshold,
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		logger.Info("running single collection cycle", "source", src.Name())
		if err := collector.CollectNow(ctx); err != nil {
			log.Fatalf("collection cycle failed: %v", err)
		}
		return
	}

	logger.Info("starting saturn-collector daemon", "logFile", logFileName, "source", src.Name())
	if err := collector.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("daemon error: %v", err)
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

func newSourceClient(cfg *config.Config, name string) source.Client {
	if name == "simulator" || (name == "" && cfg.Alpaca.APIKey == "") {
		return source.NewSimulator()
	}
	return source.NewAlpacaClient(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL,
		time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second,
		cfg.Fetch.RateLimitPerMin,
	)
}
