package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meet-minimalist/nsedata/internal/bulk"
	"github.com/meet-minimalist/nsedata/internal/cache"
	"github.com/meet-minimalist/nsedata/internal/config"
	"github.com/meet-minimalist/nsedata/internal/platform/sqlite"
	runrepo "github.com/meet-minimalist/nsedata/internal/repository/run"
	"github.com/meet-minimalist/nsedata/internal/scraper"
	"github.com/meet-minimalist/nsedata/internal/scraper/nse"
	"github.com/meet-minimalist/nsedata/internal/scraper/yahoo"
	"github.com/meet-minimalist/nsedata/internal/symbols"
)

const usage = `Usage: nsedata <command> [flags]

Commands:
  update      refresh cached symbols with any missing trailing days
  download    download full history from scratch, replacing cached data
  history     show recent batch runs

Flags (update / download):
  -config PATH     YAML config file (optional)
  -symbols PATH    file with one symbol per line
  -index NAME      fetch symbols from an NSE index (e.g. nifty50)
  -source NAME     data source: nse or yahoo
  -workers N       concurrent symbol workers

Flags (history):
  -config PATH     YAML config file (optional)
  -limit N         number of runs to show (default 20)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	symbolsFile := fs.String("symbols", "", "file with one symbol per line")
	index := fs.String("index", "", "NSE index to fetch symbols from")
	source := fs.String("source", "", "data source: nse or yahoo")
	workers := fs.Int("workers", 0, "concurrent symbol workers")
	limit := fs.Int("limit", 20, "number of runs to show")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	// Flags override file and environment.
	if *symbolsFile != "" {
		cfg.SymbolsFile = *symbolsFile
	}
	if *index != "" {
		cfg.Index = *index
	}
	if *source != "" {
		cfg.Source = *source
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	// Root context: cancelled on SIGINT/SIGTERM so in-flight symbol workers
	// stop promptly and the batch report still gets written.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runRepo := runrepo.NewRepository(db.DB)

	switch command {
	case "update", "download":
		if err := runBatch(rootCtx, cfg, runRepo, bulk.Mode(command)); err != nil {
			slog.Error("batch failed", "command", command, "error", err)
			os.Exit(1)
		}
	case "history":
		if err := showHistory(rootCtx, runRepo, *limit); err != nil {
			slog.Error("failed to list runs", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func runBatch(ctx context.Context, cfg *config.Config, runRepo *runrepo.Repository, mode bulk.Mode) error {
	store, err := cache.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}

	nseClient := nse.New(nse.WithWorkers(cfg.Workers))

	registry := scraper.NewRegistry()
	registry.Register(nseClient)
	registry.Register(yahoo.New(
		yahoo.WithWorkers(cfg.Workers),
		yahoo.WithSymbolSuffix(".NS"),
	))

	fetcher, err := registry.Get(cfg.Source)
	if err != nil {
		return fmt.Errorf("%w (available: %s)", err, strings.Join(registry.Sources(), ", "))
	}

	list, err := resolveSymbols(ctx, cfg, nseClient)
	if err != nil {
		return err
	}

	runner := bulk.NewRunner(store, fetcher,
		bulk.WithWorkers(cfg.Workers),
		bulk.WithPacer(bulk.NewPacer(cfg.PaceInterval)),
		bulk.WithSymbolTimeout(cfg.SymbolTimeout),
		bulk.WithEpoch(cfg.EpochDate()),
		bulk.WithRunHistory(runRepo),
	)

	report, err := runner.Run(ctx, mode, list)
	if err != nil {
		return err
	}

	fmt.Printf("%s finished: %d updated, %d failed, %d up to date\n",
		mode, len(report.Updated), len(report.Failed), len(report.UpToDate))
	fmt.Printf("report written to %s\n", report.DefaultPath(store.BaseDir()))
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d symbols failed", len(report.Failed))
	}
	return nil
}

// resolveSymbols prefers an explicit symbol file over an index lookup.
func resolveSymbols(ctx context.Context, cfg *config.Config, src symbols.IndexSource) ([]string, error) {
	if cfg.SymbolsFile != "" {
		return symbols.FromFile(cfg.SymbolsFile)
	}
	if cfg.Index != "" {
		return symbols.FromIndex(ctx, src, nse.ResolveIndex(cfg.Index))
	}
	return nil, fmt.Errorf("no symbols given: use -symbols or -index")
}

func showHistory(ctx context.Context, runRepo *runrepo.Repository, limit int) error {
	runs, err := runRepo.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded yet")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("#%d %-8s %s  %d symbols: %d updated, %d failed, %d up to date (%s)\n",
			r.ID, r.Mode, r.StartedAt.Local().Format(time.DateTime),
			r.Total, r.Updated, r.Failed, r.UpToDate,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}
	return nil
}
