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

	"saturn/internal/archive"
	"saturn/internal/config"
	"saturn/internal/source"
	"saturn/internal/store"
	"saturn/internal/util"
)

func main() {
	symbol := flag.String("symbol", "", "archive a single symbol")
	all := flag.Bool("all", false, "archive every active symbol")
	srcName := flag.String("source", "", "data source: alpaca or simulator (default: alpaca when credentials are set)")
	flag.Parse()

	if (*symbol == "" && !*all) || (*symbol != "" && *all) {
		fmt.Fprintln(os.Stderr, "usage: saturn-archiver -symbol SPY | -all")
		os.Exit(2)
	}

	cfgPath := "config/saturn.yaml"
	if p := os.Getenv("SATURN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logFileName := fmt.Sprintf("/tmp/saturn-archiver-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := util.NewLoggerTo(w, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	meta, err := store.OpenSQLite(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open metadata store: %v", err)
	}
	defer meta.Close()
	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	src := newSourceClient(cfg, *srcName)

	archiver := archive.New(src, pstore, meta, archive.Config{
		ChunkDays:    cfg.Archive.ChunkDays,
		LookbackDays: cfg.Archive.LookbackDays,
		Policy: source.ArchivePolicy{
			ExpirationWindowDays: cfg.Archive.ExpirationWindowDays,
			StrikeBandPct:        cfg.Archive.StrikeBandPct,
		},
		RetryAttempts:  cfg.Fetch.RetryAttempts,
		RetryBaseDelay: time.Duration(cfg.Fetch.RetryBaseMillis) * time.Millisecond,
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var results []archive.Result
	if *all {
		results, err = archiver.ArchiveAll(ctx)
	} else {
		var res archive.Result
		res, err = archiver.ArchiveSymbol(ctx, *symbol)
		results = []archive.Result{res}
	}

	for _, res := range results {
		if res.Start.IsZero() {
			fmt.Printf("%-8s up to date\n", res.Symbol)
			continue
		}
		fmt.Printf("%-8s %s..%s  chunks=%d fetched=%d total=%d\n",
			res.Symbol,
			res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"),
			res.Chunks, res.Fetched, res.Total)
	}
	if err != nil {
		log.Fatalf("archival failed: %v", err)
	}
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
