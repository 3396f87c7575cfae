package cn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"datahub/internal/domain"
	"datahub/internal/tushare"
	"datahub/internal/util"
)

var errUpstream = errors.New("upstream unavailable")

// fakeProvider serves canned provider tables. Weekdays are trading days.
type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int

	failDaily  map[string]bool // trade_date -> fail
	failCalAt  string          // start_date of a trade_cal chunk that fails
	calOverlap bool            // also report the day before each chunk

	nameChanges [][]any
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:     make(map[string]int),
		failDaily: make(map[string]bool),
		nameChanges: [][]any{
			{"600000.SH", "浦发银行", "19991110"},
			{"000001.SZ", "深发展A", "19910403"},
			{"000001.SZ", "平安银行", "20120801"},
			{"000001.SZ", "未来银行", "20300101"},
			{"688001.SH", "ST华兴", "20200101"},
			{"000004.SZ", "ST国华", "20190101"},
			{"600002.SH", "齐鲁石化", "19980408"},
			{"600002.SH", "*ST齐鲁", "20060301"},
		},
	}
}

func (f *fakeProvider) callCount(api string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[api]
}

func (f *fakeProvider) Query(_ context.Context, api string, params tushare.Params) (*tushare.Table, error) {
	f.mu.Lock()
	f.calls[api]++
	f.mu.Unlock()

	switch api {
	case "trade_cal":
		return f.tradeCal(params)
	case "daily":
		date := params["trade_date"].(string)
		if f.failDaily[date] {
			return nil, fmt.Errorf("daily %s: %w", date, errUpstream)
		}
		return dailyTable(date), nil
	case "index_weight":
		return indexWeights(params["index_code"].(string)), nil
	case "namechange":
		limit := params["limit"].(int)
		offset := params["offset"].(int)
		lo, hi := min(offset, len(f.nameChanges)), min(offset+limit, len(f.nameChanges))
		return tushare.NewTable([]string{"ts_code", "name", "start_date"}, f.nameChanges[lo:hi]), nil
	case "stock_basic":
		return tushare.NewTable([]string{"ts_code", "name", "list_status"}, [][]any{
			{"600000.SH", "浦发银行", "L"},
			{"000001.SZ", "平安银行", "L"},
			{"300750.SZ", "宁德时代", "L"},
			{"999999.SH", "未知板块", "L"},
		}), nil
	}
	return nil, fmt.Errorf("unexpected api %q", api)
}

func (f *fakeProvider) tradeCal(params tushare.Params) (*tushare.Table, error) {
	startStr := params["start_date"].(string)
	if f.failCalAt != "" && startStr == f.failCalAt {
		return nil, errUpstream
	}
	start, _ := util.ParseDate(startStr)
	end, _ := util.ParseDate(params["end_date"].(string))
	if f.calOverlap {
		start = start.AddDate(0, 0, -1)
	}

	var items [][]any
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		open := 1
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			open = 0
		}
		items = append(items, []any{"SSE", util.Compact(d), open})
	}
	return tushare.NewTable([]string{"exchange", "cal_date", "is_open"}, items), nil
}

func dailyTable(date string) *tushare.Table {
	fields := []string{"ts_code", "trade_date", "open", "high", "low", "close", "pre_close", "change", "pct_chg", "vol", "amount"}
	row := func(code string, preClose, vol float64) []any {
		return []any{code, date, preClose, preClose * 1.02, preClose * 0.98, preClose * 1.01, preClose, preClose * 0.01, 1.0, vol, vol * preClose}
	}
	return tushare.NewTable(fields, [][]any{
		row("600000.SH", 10.00, 12345.67),
		row("000001.SZ", 10.00, 500),
		row("300750.SZ", 20.00, 800),
		row("688001.SH", 20.00, 90),
		row("830799.BJ", 5.00, 30),
		row("000004.SZ", 0, 10),
		row("600001.SH", 8.00, 1),
		row("999999.SH", 3.00, 1),
		row("600002.SH", 10.00, 2),
	})
}

func indexWeights(index string) *tushare.Table {
	members := map[string][]string{
		IndexCSI300:  {"600000.SH", "000001.SZ"},
		IndexCSI500:  {"000001.SZ", "300750.SZ"},
		IndexCSI1000: {"688001.SH"},
	}[index]
	var items [][]any
	for _, m := range members {
		items = append(items, []any{index, m, "20231229", 0.5})
	}
	return tushare.NewTable([]string{"index_code", "con_code", "trade_date", "weight"}, items)
}

// memStore is an in-memory store.MarketStore.
type memStore struct {
	mu       sync.Mutex
	records  map[domain.RecordKey]domain.MarketRecord
	ensured  int
	failDate string
}

func newMemStore() *memStore {
	return &memStore{records: make(map[domain.RecordKey]domain.MarketRecord)}
}

func (m *memStore) EnsureSchema(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured++
	return nil
}

func (m *memStore) UpsertMarket(_ context.Context, records []domain.MarketRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.Date == m.failDate {
			return 0, errors.New("write conflict")
		}
		m.records[r.Key()] = r
	}
	return len(records), nil
}

func (m *memStore) Close(context.Context) error { return nil }

func (m *memStore) dates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{})
	for k := range m.records {
		set[k.Date] = struct{}{}
	}
	var out []string
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
