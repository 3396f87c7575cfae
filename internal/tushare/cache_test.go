package tushare

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func countingQuerier(calls *atomic.Int64) Querier {
	return QuerierFunc(func(_ context.Context, api string, params Params) (*Table, error) {
		calls.Add(1)
		return NewTable([]string{"api"}, [][]any{{api}}), nil
	})
}

func TestCacheKeyIgnoresParamOrder(t *testing.T) {
	a := Params{}
	a["exchange"] = "SSE"
	a["start_date"] = "20240101"
	a["end_date"] = "20240131"

	b := Params{}
	b["end_date"] = "20240131"
	b["start_date"] = "20240101"
	b["exchange"] = "SSE"

	if CacheKey("trade_cal", a) != CacheKey("trade_cal", b) {
		t.Errorf("CacheKey differs: %q vs %q", CacheKey("trade_cal", a), CacheKey("trade_cal", b))
	}
	want := "trade_cal?end_date=20240131&exchange=SSE&start_date=20240101"
	if got := CacheKey("trade_cal", a); got != want {
		t.Errorf("CacheKey = %q, want %q", got, want)
	}
	if CacheKey("trade_cal", a) == CacheKey("daily", a) {
		t.Error("CacheKey should include the api name")
	}
}

func TestCachedQuerierHit(t *testing.T) {
	var calls atomic.Int64
	for _, size := range []int{0, 16} {
		calls.Store(0)
		c, err := NewCachedQuerier(countingQuerier(&calls), size)
		if err != nil {
			t.Fatalf("NewCachedQuerier(%d): %v", size, err)
		}
		ctx := context.Background()

		if _, err := c.Query(ctx, "index_weight", Params{"index_code": "000905.SH", "start_date": "20240116", "end_date": "20240131"}); err != nil {
			t.Fatalf("first query: %v", err)
		}
		if _, err := c.Query(ctx, "index_weight", Params{"end_date": "20240131", "start_date": "20240116", "index_code": "000905.SH"}); err != nil {
			t.Fatalf("second query: %v", err)
		}

		if got := calls.Load(); got != 1 {
			t.Errorf("size=%d: upstream calls = %d, want 1", size, got)
		}
		st := c.Stats()
		if st.Hits != 1 || st.Misses != 1 {
			t.Errorf("size=%d: Stats = %+v, want 1 hit 1 miss", size, st)
		}
	}
}

func TestCachedQuerierConcurrentSingleUpstream(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	slow := QuerierFunc(func(_ context.Context, api string, _ Params) (*Table, error) {
		calls.Add(1)
		<-release
		return NewTable([]string{"ts_code"}, [][]any{{"600000.SH"}}), nil
	})
	c, err := NewCachedQuerier(slow, 0)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	started := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			if _, err := c.Query(context.Background(), "stock_basic", Params{"list_status": "L,D,P"}); err != nil {
				t.Errorf("Query: %v", err)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		<-started
	}
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestCachedQuerierDoesNotCacheErrors(t *testing.T) {
	var calls atomic.Int64
	fail := true
	q := QuerierFunc(func(_ context.Context, _ string, _ Params) (*Table, error) {
		calls.Add(1)
		if fail {
			return nil, errors.New("network down")
		}
		return NewTable(nil, nil), nil
	})
	c, _ := NewCachedQuerier(q, 4)

	if _, err := c.Query(context.Background(), "daily", Params{"trade_date": "20240102"}); err == nil {
		t.Fatal("expected error from failing upstream")
	}
	fail = false
	if _, err := c.Query(context.Background(), "daily", Params{"trade_date": "20240102"}); err != nil {
		t.Fatalf("second query: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestCachedQuerierLRUEvicts(t *testing.T) {
	var calls atomic.Int64
	c, _ := NewCachedQuerier(countingQuerier(&calls), 1)
	ctx := context.Background()

	c.Query(ctx, "daily", Params{"trade_date": "20240102"})
	c.Query(ctx, "daily", Params{"trade_date": "20240103"})
	c.Query(ctx, "daily", Params{"trade_date": "20240102"})

	if got := calls.Load(); got != 3 {
		t.Errorf("upstream calls = %d, want 3 with a single-entry cache", got)
	}
}
