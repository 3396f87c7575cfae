package cn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"datahub/internal/domain"
	"datahub/internal/gather"
	"datahub/internal/metrics"
	"datahub/internal/store"
	"datahub/internal/tushare"
	"datahub/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface check
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*MarketCleanGatherer)(nil)

// DayCleaner produces the cleaned records of one trading day.
type DayCleaner interface {
	Clean(ctx context.Context, day time.Time) ([]domain.MarketRecord, error)
}

// Options controls the batching of a run.
type Options struct {
	StartDate  string        // YYYY-MM-DD or YYYYMMDD
	EndDate    string        // empty means today
	BatchSize  int           // trading days per batch
	MaxWorkers int           // days cleaned concurrently
	BatchPause time.Duration // cooldown between batches
}

// DefaultOptions returns the production batching: batches of 8 days on a
// pool of 10 workers with a one second pause between batches.
func DefaultOptions() Options {
	return Options{
		BatchSize:  8,
		MaxWorkers: 10,
		BatchPause: time.Second,
	}
}

// Summary reports the outcome of a run. Failed days contribute no records;
// operators should compare Failed and Records against expectations since a
// run does not fail because of them.
type Summary struct {
	Days      int
	Batches   int
	Succeeded int
	Failed    int
	Records   int
	Elapsed   time.Duration
}

// ---------------------------------------------------------------------------
// MarketCleanGatherer: batched daily cleaning of China A-share quotes.
// ---------------------------------------------------------------------------

// MarketCleanGatherer resolves the trading days of a range and cleans them
// batch by batch, writing each day through a MarketStore.
type MarketCleanGatherer struct {
	calendar *Calendar
	cleaner  DayCleaner
	store    store.MarketStore
	opts     Options
	metrics  *metrics.Run
	log      *slog.Logger

	// OnProgress, when set, receives the completed percentage (0-100) after
	// every trading day. It is always called from the goroutine running
	// the gatherer.
	OnProgress func(percent int)
}

// NewMarketCleanGatherer creates a gatherer reading from q, which should be
// a shared tushare.CachedQuerier, and writing to s.
func NewMarketCleanGatherer(q tushare.Querier, s store.MarketStore, opts Options) *MarketCleanGatherer {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = def.MaxWorkers
	}
	if opts.BatchPause < 0 {
		opts.BatchPause = 0
	}

	log := slog.Default().With("gatherer", "cn-market-clean")
	return &MarketCleanGatherer{
		calendar: NewCalendar(q),
		cleaner:  NewCleaner(q, log),
		store:    s,
		opts:     opts,
		log:      log,
	}
}

// SetMetrics attaches run metrics. Nil disables them.
func (g *MarketCleanGatherer) SetMetrics(m *metrics.Run) { g.metrics = m }

// Name returns the gatherer identifier.
func (g *MarketCleanGatherer) Name() string { return "cn-market-clean" }

// Run cleans the configured date range.
func (g *MarketCleanGatherer) Run(ctx context.Context) error {
	start, err := util.ParseDate(g.opts.StartDate)
	if err != nil {
		return fmt.Errorf("start date: %w", err)
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if g.opts.EndDate != "" {
		if end, err = util.ParseDate(g.opts.EndDate); err != nil {
			return fmt.Errorf("end date: %w", err)
		}
	}

	_, err = g.RunRange(ctx, start, end)
	return err
}

// dayResult is the completion message of one trading day.
type dayResult struct {
	day     time.Time
	records int
	elapsed time.Duration
	err     error
}

// RunRange cleans every trading day in [start, end]. Resolving the calendar
// or preparing the store are the only errors that stop a run before any
// day is scheduled; a failed day is logged and counted and the run moves
// on. Cancelling ctx stops the run at the next batch boundary. Elapsed is
// set on every return, but only a run that reached its last batch stamps
// the completion metric.
func (g *MarketCleanGatherer) RunRange(ctx context.Context, start, end time.Time) (sum Summary, err error) {
	runStart := time.Now()
	defer func() { sum.Elapsed = time.Since(runStart) }()
	g.log.Info("starting market data cleaning", "start", start.Format(util.ISODate), "end", end.Format(util.ISODate))

	days, err := g.calendar.Resolve(ctx, start, end)
	if err != nil {
		return Summary{}, fmt.Errorf("resolving trading days: %w", err)
	}
	sum.Days = len(days)
	g.log.Info("trading days to process", "days", len(days))
	if len(days) == 0 {
		return sum, nil
	}

	if err := g.store.EnsureSchema(ctx); err != nil {
		return sum, fmt.Errorf("ensuring store schema: %w", err)
	}

	batches := SplitBatches(days, g.opts.BatchSize)
	sum.Batches = len(batches)

	completed := 0
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			g.log.Warn("run cancelled", "completedDays", completed, "totalDays", len(days), "elapsed", time.Since(runStart))
			return sum, err
		}

		for res := range g.runBatch(ctx, batch) {
			completed++
			date := util.Compact(res.day)
			if res.err != nil {
				sum.Failed++
				g.log.Error("day failed", "date", date, "error", res.err)
			} else {
				sum.Succeeded++
				sum.Records += res.records
				g.log.Info("saved market records", "date", date, "records", res.records, "elapsed", res.elapsed)
			}
			g.metrics.DayDone(res.records, res.elapsed, res.err)
			g.progress(completed * 100 / len(days))
		}

		if i < len(batches)-1 {
			g.log.Info("batch complete", "batch", fmt.Sprintf("%d/%d", i+1, len(batches)), "pause", g.opts.BatchPause)
			if err := sleepCtx(ctx, g.opts.BatchPause); err != nil {
				g.log.Warn("run cancelled", "completedDays", completed, "totalDays", len(days), "elapsed", time.Since(runStart))
				return sum, err
			}
		}
	}

	sum.Elapsed = time.Since(runStart)
	g.metrics.Finish(time.Now())
	g.log.Info("market data cleaning complete",
		"days", sum.Days,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"records", sum.Records,
		"elapsed", sum.Elapsed,
	)
	return sum, nil
}

// runBatch cleans the days of one batch on the worker pool and streams one
// result per day. The channel is closed once every day has finished.
func (g *MarketCleanGatherer) runBatch(ctx context.Context, batch []time.Time) <-chan dayResult {
	results := make(chan dayResult, len(batch))

	var eg errgroup.Group
	eg.SetLimit(g.opts.MaxWorkers)

	go func() {
		defer close(results)
		for _, day := range batch {
			eg.Go(func() error {
				start := time.Now()
				n, err := g.processDay(ctx, day)
				results <- dayResult{day: day, records: n, elapsed: time.Since(start), err: err}
				return nil
			})
		}
		eg.Wait()
	}()
	return results
}

// processDay cleans one day and upserts its records.
func (g *MarketCleanGatherer) processDay(ctx context.Context, day time.Time) (int, error) {
	records, err := g.cleaner.Clean(ctx, day)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	n, err := g.store.UpsertMarket(ctx, records)
	if err != nil {
		return n, fmt.Errorf("upserting %s: %w", util.Compact(day), err)
	}
	return n, nil
}

func (g *MarketCleanGatherer) progress(pct int) {
	if g.OnProgress != nil {
		g.OnProgress(pct)
	}
}

// SplitBatches cuts days into consecutive batches of at most size days.
func SplitBatches(days []time.Time, size int) [][]time.Time {
	if size <= 0 {
		size = 1
	}
	var batches [][]time.Time
	for i := 0; i < len(days); i += size {
		batches = append(batches, days[i:min(i+size, len(days))])
	}
	return batches
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
