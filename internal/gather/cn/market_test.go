package cn

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"datahub/internal/metrics"
	"datahub/internal/store"
	"datahub/internal/tushare"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.BatchPause = 0
	return opts
}

func newTestGatherer(t *testing.T, p *fakeProvider, s store.MarketStore) (*MarketCleanGatherer, *tushare.CachedQuerier) {
	t.Helper()
	q, err := tushare.NewCachedQuerier(p, 0)
	if err != nil {
		t.Fatalf("NewCachedQuerier: %v", err)
	}
	return NewMarketCleanGatherer(q, s, testOptions()), q
}

func TestSplitBatches(t *testing.T) {
	days := make([]time.Time, 20)
	var sizes []int
	for _, b := range SplitBatches(days, 8) {
		sizes = append(sizes, len(b))
	}
	if want := []int{8, 8, 4}; !slices.Equal(sizes, want) {
		t.Errorf("batch sizes = %v, want %v", sizes, want)
	}
	if got := SplitBatches(nil, 8); len(got) != 0 {
		t.Errorf("SplitBatches(nil) = %d batches, want 0", len(got))
	}
}

func TestMarketCleanGathererName(t *testing.T) {
	g, _ := newTestGatherer(t, newFakeProvider(), newMemStore())
	if got := g.Name(); got != "cn-market-clean" {
		t.Errorf("Name() = %q, want %q", got, "cn-market-clean")
	}
}

func TestRunRange(t *testing.T) {
	p := newFakeProvider()
	s := newMemStore()
	g, q := newTestGatherer(t, p, s)
	m := metrics.NewRun(g.Name())
	g.SetMetrics(m)

	var progress []int
	g.OnProgress = func(pct int) { progress = append(progress, pct) }

	// 2024-01-01 to 2024-01-26 holds 20 weekdays.
	sum, err := g.RunRange(context.Background(), date(t, "2024-01-01"), date(t, "2024-01-26"))
	if err != nil {
		t.Fatalf("RunRange: %v", err)
	}

	if sum.Days != 20 || sum.Batches != 3 || sum.Succeeded != 20 || sum.Failed != 0 {
		t.Errorf("summary = %+v, want 20 days in 3 batches, all succeeded", sum)
	}
	if sum.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", sum.Elapsed)
	}
	if got := testutil.ToFloat64(m.LastCompletion); got == 0 {
		t.Error("last_completion_timestamp_seconds not set after a completed run")
	}
	if sum.Records != 20*8 {
		t.Errorf("Records = %d, want %d", sum.Records, 20*8)
	}
	if got := len(s.dates()); got != 20 {
		t.Errorf("stored dates = %d, want 20", got)
	}
	if s.ensured != 1 {
		t.Errorf("EnsureSchema calls = %d, want 1", s.ensured)
	}

	if len(progress) != 20 {
		t.Fatalf("progress reports = %d, want 20", len(progress))
	}
	if !slices.IsSorted(progress) {
		t.Errorf("progress not monotonic: %v", progress)
	}
	if last := progress[len(progress)-1]; last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}

	// Every January day shares the December snapshot window and the name
	// book is built once.
	if n := p.callCount("index_weight"); n != 3 {
		t.Errorf("index_weight upstream calls = %d, want 3", n)
	}
	if n := p.callCount("stock_basic"); n != 1 {
		t.Errorf("stock_basic upstream calls = %d, want 1", n)
	}
	if st := q.Stats(); st.Hits == 0 {
		t.Errorf("cache hits = 0, want > 0 (%+v)", st)
	}

	if got := testutil.ToFloat64(m.DaysProcessed); got != 20 {
		t.Errorf("days_processed_total = %v, want 20", got)
	}
	if got := testutil.ToFloat64(m.RecordsUpserted); got != 160 {
		t.Errorf("records_upserted_total = %v, want 160", got)
	}
}

func TestRunRangeDayFailure(t *testing.T) {
	p := newFakeProvider()
	p.failDaily["20240110"] = true
	s := newMemStore()
	s.failDate = "20240117"
	g, _ := newTestGatherer(t, p, s)
	m := metrics.NewRun(g.Name())
	g.SetMetrics(m)

	sum, err := g.RunRange(context.Background(), date(t, "2024-01-01"), date(t, "2024-01-26"))
	if err != nil {
		t.Fatalf("RunRange: %v", err)
	}
	if sum.Succeeded != 18 || sum.Failed != 2 {
		t.Errorf("summary = %+v, want 18 succeeded and 2 failed", sum)
	}
	dates := s.dates()
	if len(dates) != 18 {
		t.Errorf("stored dates = %d, want 18", len(dates))
	}
	for _, d := range []string{"20240110", "20240117"} {
		if slices.Contains(dates, d) {
			t.Errorf("failed day %s was stored", d)
		}
	}
	if got := testutil.ToFloat64(m.DaysFailed); got != 2 {
		t.Errorf("days_failed_total = %v, want 2", got)
	}
}

func TestRunRangeCalendarFailure(t *testing.T) {
	p := newFakeProvider()
	p.failCalAt = "20240101"
	s := newMemStore()
	g, _ := newTestGatherer(t, p, s)

	if _, err := g.RunRange(context.Background(), date(t, "2024-01-01"), date(t, "2024-01-26")); !errors.Is(err, errUpstream) {
		t.Fatalf("err = %v, want errUpstream", err)
	}
	if s.ensured != 0 || len(s.dates()) != 0 {
		t.Errorf("store touched after calendar failure: ensured=%d dates=%d", s.ensured, len(s.dates()))
	}
	if n := p.callCount("daily"); n != 0 {
		t.Errorf("daily calls = %d, want 0", n)
	}
}

func TestRunRangeNoTradingDays(t *testing.T) {
	s := newMemStore()
	g, _ := newTestGatherer(t, newFakeProvider(), s)

	sum, err := g.RunRange(context.Background(), date(t, "2024-01-06"), date(t, "2024-01-07"))
	if err != nil {
		t.Fatalf("RunRange: %v", err)
	}
	if sum.Days != 0 || sum.Batches != 0 {
		t.Errorf("summary = %+v, want empty", sum)
	}
	if s.ensured != 0 {
		t.Errorf("EnsureSchema calls = %d, want 0", s.ensured)
	}
}

func TestRunRangeCancel(t *testing.T) {
	s := newMemStore()
	g, _ := newTestGatherer(t, newFakeProvider(), s)
	m := metrics.NewRun(g.Name())
	g.SetMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 8 of 20 days is the end of the first batch.
	g.OnProgress = func(pct int) {
		if pct == 40 {
			cancel()
		}
	}

	sum, err := g.RunRange(ctx, date(t, "2024-01-01"), date(t, "2024-01-26"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sum.Succeeded != 8 {
		t.Errorf("Succeeded = %d, want 8", sum.Succeeded)
	}
	if got := len(s.dates()); got != 8 {
		t.Errorf("stored dates = %d, want 8", got)
	}
	if sum.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", sum.Elapsed)
	}
	// A cancelled run is not a completed one.
	if got := testutil.ToFloat64(m.LastCompletion); got != 0 {
		t.Errorf("last_completion_timestamp_seconds = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.DaysProcessed); got != 8 {
		t.Errorf("days_processed_total = %v, want 8", got)
	}
}

func TestRunRangeIdempotent(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "market.db"), store.DefaultCollection)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close(context.Background())

	ctx := context.Background()
	for run := 0; run < 2; run++ {
		g, _ := newTestGatherer(t, newFakeProvider(), s)
		if _, err := g.RunRange(ctx, date(t, "2024-01-02"), date(t, "2024-01-03")); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
	}

	for _, d := range []string{"20240102", "20240103"} {
		records, err := s.MarketByDate(ctx, d)
		if err != nil {
			t.Fatalf("MarketByDate(%s): %v", d, err)
		}
		if len(records) != 8 {
			t.Errorf("%s: %d records, want 8", d, len(records))
		}
		got := bySymbol(records)
		if r := got["600000.SH"]; r.LimitUp == nil || *r.LimitUp != 11 {
			t.Errorf("%s: 600000.SH limit_up = %v, want 11", d, r.LimitUp)
		}
	}
}

func TestMarketCleanGathererRun(t *testing.T) {
	s := newMemStore()
	q, _ := tushare.NewCachedQuerier(newFakeProvider(), 0)

	opts := testOptions()
	opts.StartDate = "2024-01-02"
	opts.EndDate = "20240105"
	if err := NewMarketCleanGatherer(q, s, opts).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(s.dates()); got != 4 {
		t.Errorf("stored dates = %d, want 4", got)
	}

	opts.StartDate = "not-a-date"
	if err := NewMarketCleanGatherer(q, s, opts).Run(context.Background()); err == nil {
		t.Error("expected error for invalid start date")
	}
}
