package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"saturn/internal/config"
	"saturn/internal/domain"
	"saturn/internal/store"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  saturn-symbols list [-all]
  saturn-symbols add -symbol SPY [-name "S&P 500 ETF"]
  saturn-symbols deactivate -symbol SPY
  saturn-symbols activate -symbol SPY
  saturn-symbols runs [-symbol SPY] [-since 24h]`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfgPath := "config/saturn.yaml"
	if p := os.Getenv("SATURN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	meta, err := store.OpenSQLite(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open metadata store: %v", err)
	}
	defer meta.Close()

	ctx := context.Background()
	switch os.Args[1] {
	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		all := fs.Bool("all", false, "include inactive symbols")
		fs.Parse(os.Args[2:])

		symbols, err := meta.ListSymbols(ctx, !*all)
		if err != nil {
			log.Fatalf("listing symbols: %v", err)
		}
		for _, s := range symbols {
			state := "active"
			if !s.IsActive {
				state = "inactive"
			}
			fmt.Printf("%-8s %-10s %s\n", s.Symbol, state, s.DisplayName)
		}

	case "add":
		fs := flag.NewFlagSet("add", flag.ExitOnError)
		symbol := fs.String("symbol", "", "ticker symbol")
		name := fs.String("name", "", "display name")
		fs.Parse(os.Args[2:])
		if *symbol == "" {
			usage()
		}
		if err := meta.AddSymbol(ctx, domain.Symbol{Symbol: *symbol, DisplayName: *name, IsActive: true}); err != nil {
			log.Fatalf("adding symbol: %v", err)
		}
		fmt.Printf("added %s\n", *symbol)

	case "deactivate", "activate":
		fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
		symbol := fs.String("symbol", "", "ticker symbol")
		fs.Parse(os.Args[2:])
		if *symbol == "" {
			usage()
		}
		active := os.Args[1] == "activate"
		if err := meta.SetSymbolActive(ctx, *symbol, active); err != nil {
			log.Fatalf("updating symbol: %v", err)
		}
		fmt.Printf("%s %sd\n", *symbol, os.Args[1])

	case "runs":
		fs := flag.NewFlagSet("runs", flag.ExitOnError)
		symbol := fs.String("symbol", "", "filter by symbol")
		since := fs.Duration("since", 24*time.Hour, "show runs started within this window")
		fs.Parse(os.Args[2:])

		runs, err := meta.ListRecentRuns(ctx, *symbol, time.Now().Add(-*since))
		if err != nil {
			log.Fatalf("listing runs: %v", err)
		}
		for _, r := range runs {
			line := fmt.Sprintf("%-6d %-8s %-18s %-8s %6d  %s",
				r.ID, r.Symbol, r.DataType, r.Status, r.RecordsCount,
				r.StartedAt.Format(time.RFC3339))
			if r.ErrorMessage != "" {
				line += "  " + r.ErrorMessage
			}
			fmt.Println(line)
		}

	default:
		usage()
	}
}
