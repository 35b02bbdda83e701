// Package bulk orchestrates symbol refreshes across a bounded worker pool and
// produces the three-way run report.
package bulk

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meet-minimalist/nsedata/internal/apperror"
	"github.com/meet-minimalist/nsedata/internal/cache"
	"github.com/meet-minimalist/nsedata/internal/run"
	"github.com/meet-minimalist/nsedata/internal/scraper"
)

// Mode selects between an incremental refresh and a full history download.
type Mode string

const (
	ModeUpdate   Mode = "update"
	ModeDownload Mode = "download"
)

// Outcome is the result of one symbol's refresh. Err is always captured here,
// never propagated: one symbol must not terminate the batch.
type Outcome struct {
	Symbol     string
	Updated    bool
	NewRecords int
	Err        error
}

// Runner fans symbol refreshes out over a bounded worker pool. Each symbol is
// fully owned by one worker for its lifetime; the only shared resources (the
// report artifact and run history) are written by Run after collection.
type Runner struct {
	store   *cache.Store
	fetcher scraper.Fetcher

	workers       int
	pacer         *Pacer
	symbolTimeout time.Duration
	epoch         time.Time
	runs          run.Repository
	now           func() time.Time
}

func NewRunner(store *cache.Store, fetcher scraper.Fetcher, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:   store,
		fetcher: fetcher,
		workers: 3,
		epoch:   time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers <= 0 {
		r.workers = 1
	}
	return r
}

type RunnerOption func(*Runner)

// WithWorkers caps the number of in-flight symbol refreshes. This is a rate
// courtesy toward the source, not a throughput knob.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) { r.workers = n }
}

// WithPacer throttles task starts independently of worker count.
func WithPacer(p *Pacer) RunnerOption {
	return func(r *Runner) { r.pacer = p }
}

// WithSymbolTimeout bounds the total time one symbol may spend fetching, so a
// stuck request cannot starve its worker slot indefinitely.
func WithSymbolTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.symbolTimeout = d }
}

// WithEpoch sets the fallback start date used when a symbol has no cache.
func WithEpoch(t time.Time) RunnerOption {
	return func(r *Runner) { r.epoch = t }
}

// WithRunHistory records every finished batch in the given repository.
func WithRunHistory(repo run.Repository) RunnerOption {
	return func(r *Runner) { r.runs = repo }
}

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// UpdateSymbol refreshes one symbol's table with the missing trailing date
// range. All failures are captured in the Outcome.
func (r *Runner) UpdateSymbol(ctx context.Context, symbol string) Outcome {
	latest, haveLatest := r.store.LatestDate(symbol)
	plan := cache.ComputeUpdatePlan(latest, haveLatest, r.now(), r.epoch)
	if !plan.FetchNeeded {
		return Outcome{Symbol: symbol}
	}
	return r.refresh(ctx, symbol, plan)
}

// DownloadSymbol fetches a symbol's full history. A table that is already
// current is left untouched; otherwise the range starts at the exchange
// listing date when the fetcher can resolve it, else at the epoch.
func (r *Runner) DownloadSymbol(ctx context.Context, symbol string) Outcome {
	latest, haveLatest := r.store.LatestDate(symbol)
	if haveLatest && !cache.ComputeUpdatePlan(latest, true, r.now(), r.epoch).FetchNeeded {
		return Outcome{Symbol: symbol}
	}

	start := r.epoch
	if ld, ok := r.fetcher.(scraper.ListingDater); ok {
		if d, found := ld.ListingDate(ctx, symbol); found {
			start = d
			slog.Info("using listing date as range start", "symbol", symbol, "date", d.Format(time.DateOnly))
		}
	}

	plan := cache.ComputeUpdatePlan(start.AddDate(0, 0, -1), true, r.now(), r.epoch)
	if !plan.FetchNeeded {
		return Outcome{Symbol: symbol}
	}
	return r.refresh(ctx, symbol, plan)
}

func (r *Runner) refresh(ctx context.Context, symbol string, plan cache.UpdatePlan) Outcome {
	if r.symbolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.symbolTimeout)
		defer cancel()
	}

	fetched, err := r.fetcher.FetchRange(ctx, symbol, plan.Start, plan.End)
	if err != nil {
		return Outcome{Symbol: symbol, Err: apperror.Wrap(apperror.TransientFetch, err)}
	}
	if len(fetched) == 0 {
		// No trading data in the range (holidays, weekends): up to date.
		return Outcome{Symbol: symbol}
	}

	existing, err := r.store.Load(symbol)
	if err != nil {
		// Corrupt cache must not block the refresh; the merged rewrite
		// replaces the bad file.
		slog.Warn("discarding unreadable cache table", "symbol", symbol, "error", err)
		existing = nil
	}

	if _, err := r.store.MergeAndPersist(symbol, existing, fetched); err != nil {
		return Outcome{Symbol: symbol, Err: err}
	}

	return Outcome{Symbol: symbol, Updated: true, NewRecords: len(fetched)}
}

// Run refreshes all symbols with bounded parallelism and collects the
// three-way report. Cancelling ctx stops dispatching new symbols; in-flight
// refreshes finish so no table is left mid-write. Undispatched symbols are
// reported failed with the cancellation cause rather than dropped silently.
func (r *Runner) Run(ctx context.Context, mode Mode, symbols []string) (*Report, error) {
	if len(symbols) == 0 {
		return nil, apperror.New(apperror.Config, "no symbols to process")
	}

	startedAt := r.now()
	slog.Info("starting batch", "mode", string(mode), "symbols", len(symbols), "workers", r.workers)

	outcomes := make([]Outcome, len(symbols))

	var g errgroup.Group
	g.SetLimit(r.workers)

	for i, symbol := range symbols {
		i, symbol := i, symbol
		if err := ctx.Err(); err != nil {
			outcomes[i] = Outcome{Symbol: symbol, Err: err}
			continue
		}

		g.Go(func() error {
			if err := r.pacer.Wait(ctx); err != nil {
				outcomes[i] = Outcome{Symbol: symbol, Err: err}
				return nil
			}

			var out Outcome
			switch mode {
			case ModeDownload:
				out = r.DownloadSymbol(ctx, symbol)
			default:
				out = r.UpdateSymbol(ctx, symbol)
			}
			outcomes[i] = out

			switch {
			case out.Err != nil:
				slog.Error("symbol failed", "symbol", symbol, "code", apperror.CodeOf(out.Err), "error", out.Err)
			case out.Updated:
				slog.Info("symbol updated", "symbol", symbol, "new_records", out.NewRecords)
			default:
				slog.Info("symbol already up to date", "symbol", symbol)
			}
			return nil
		})
	}

	_ = g.Wait()

	report := newReport(mode, startedAt, r.now(), outcomes)

	reportPath := report.DefaultPath(r.store.BaseDir())
	if err := report.WriteFile(reportPath); err != nil {
		slog.Error("write run report", "path", reportPath, "error", err)
	}

	r.recordRun(report, reportPath)

	slog.Info("batch finished",
		"mode", string(mode),
		"updated", len(report.Updated),
		"failed", len(report.Failed),
		"up_to_date", len(report.UpToDate),
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report, nil
}

// recordRun persists the batch to run history. History is best-effort
// bookkeeping; failures are logged, not returned.
func (r *Runner) recordRun(report *Report, reportPath string) {
	if r.runs == nil {
		return
	}

	rec := &run.Run{
		Mode:       string(report.Mode),
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Total:      len(report.Updated) + len(report.Failed) + len(report.UpToDate),
		Updated:    len(report.Updated),
		Failed:     len(report.Failed),
		UpToDate:   len(report.UpToDate),
		ReportPath: reportPath,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.runs.Create(ctx, rec); err != nil {
		slog.Error("record run history", "error", err)
	}
}
