package cn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"datahub/internal/domain"
	"datahub/internal/tushare"
	"datahub/internal/util"
)

// Cleaner turns one trading day of raw provider quotes into MarketRecords.
// It is safe for concurrent use; all provider access goes through the
// Querier it was built with, normally a shared tushare.CachedQuerier.
type Cleaner struct {
	q   tushare.Querier
	log *slog.Logger

	namesMu sync.Mutex
	names   *NameBook
}

// NewCleaner creates a Cleaner reading from q.
func NewCleaner(q tushare.Querier, log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{q: q, log: log}
}

// rowIssues counts per-row derivation problems for one day.
type rowIssues struct {
	skipped      int // rows without a symbol
	excluded     int
	unclassified int
	unnamed      int
	noLimits     int
}

// Clean fetches and cleans the quotes of day. Failures affecting a single
// row only null the derived field; failures of a provider call fail the
// whole day.
func (c *Cleaner) Clean(ctx context.Context, day time.Time) ([]domain.MarketRecord, error) {
	date := util.Compact(day)

	fetchStart := time.Now()
	quotes, err := c.q.Query(ctx, "daily", tushare.Params{"trade_date": date})
	if err != nil {
		return nil, fmt.Errorf("daily %s: %w", date, err)
	}
	if quotes.Len() > 0 && !quotes.Has("ts_code") {
		return nil, fmt.Errorf("daily %s: missing ts_code column", date)
	}
	c.log.Info("fetched daily quotes", "date", date, "rows", quotes.Len(), "elapsed", time.Since(fetchStart))

	large, mid, small, err := c.memberships(ctx, day)
	if err != nil {
		return nil, err
	}
	names, err := c.nameBook(ctx)
	if err != nil {
		return nil, err
	}

	var issues rowIssues
	records := make([]domain.MarketRecord, 0, quotes.Len())
	for i := 0; i < quotes.Len(); i++ {
		code, ok := quotes.String(i, "ts_code")
		if !ok {
			issues.skipped++
			continue
		}
		symbol := NormalizeSymbol(code)
		if IsExcluded(symbol) {
			issues.excluded++
			continue
		}

		rec := domain.MarketRecord{
			Date:     date,
			Symbol:   symbol,
			Open:     number(quotes, i, "open"),
			High:     number(quotes, i, "high"),
			Low:      number(quotes, i, "low"),
			Close:    number(quotes, i, "close"),
			Volume:   lotsToShares(number(quotes, i, "vol")),
			PreClose: number(quotes, i, "pre_close"),
		}
		if d, ok := quotes.String(i, "trade_date"); ok {
			rec.Date = d
		}

		if tier, err := ClassifyIndexTier(code, large, mid, small); err != nil {
			issues.unclassified++
		} else {
			rec.IndexComponent = &tier
		}

		rec.Name = names.Resolve(code, date)
		if rec.Name == nil {
			issues.unnamed++
		}

		rec.LimitUp = LimitUp(symbol, rec.PreClose, rec.Name)
		rec.LimitDown = LimitDown(symbol, rec.PreClose, rec.Name)
		if rec.LimitUp == nil {
			issues.noLimits++
			c.warnNoLimits(rec)
		}

		records = append(records, rec)
	}

	c.log.Info("cleaned daily quotes",
		"date", date,
		"records", len(records),
		"excluded", issues.excluded,
		"skipped", issues.skipped,
		"unclassified", issues.unclassified,
		"unnamed", issues.unnamed,
		"noLimits", issues.noLimits,
	)
	return records, nil
}

// memberships loads the three benchmark snapshots for the previous month
// window of day. The provider only publishes weights at month boundaries,
// so the window always sits in the month before day. A snapshot that
// cannot be parsed is returned as nil, which leaves every row of the day
// unclassified without failing it.
func (c *Cleaner) memberships(ctx context.Context, day time.Time) (large, mid, small *IndexMembership, err error) {
	start, end := util.PrevMonthWindow(day)

	load := func(index string) (*IndexMembership, error) {
		t, err := c.q.Query(ctx, "index_weight", tushare.Params{
			"index_code": index,
			"start_date": start,
			"end_date":   end,
		})
		if err != nil {
			return nil, fmt.Errorf("index_weight %s %s-%s: %w", index, start, end, err)
		}
		m, err := NewIndexMembership(index, t)
		if err != nil {
			c.log.Warn("unusable index snapshot", "index", index, "start", start, "end", end, "error", err)
			return nil, nil
		}
		return m, nil
	}

	if large, err = load(IndexCSI300); err != nil {
		return nil, nil, nil, err
	}
	if mid, err = load(IndexCSI500); err != nil {
		return nil, nil, nil, err
	}
	if small, err = load(IndexCSI1000); err != nil {
		return nil, nil, nil, err
	}
	return large, mid, small, nil
}

// nameBook builds the name index on first use and reuses it for the rest of
// the run. A failed build is not remembered.
func (c *Cleaner) nameBook(ctx context.Context) (*NameBook, error) {
	c.namesMu.Lock()
	defer c.namesMu.Unlock()
	if c.names != nil {
		return c.names, nil
	}

	changes, err := FetchNameChanges(ctx, c.q, nameChangePageSize)
	if err != nil {
		return nil, err
	}
	basics, err := FetchStockBasics(ctx, c.q)
	if err != nil {
		return nil, err
	}
	c.names = NewNameBook(changes, basics)
	return c.names, nil
}

func (c *Cleaner) warnNoLimits(rec domain.MarketRecord) {
	switch {
	case !(rec.PreClose > 0):
		c.log.Warn("invalid previous close", "symbol", rec.Symbol, "date", rec.Date, "preClose", rec.PreClose)
	case rec.Name == nil:
		// Delisted symbols have no name on record; nothing to report.
	case BoardOf(rec.Symbol) == BoardUnknown:
		c.log.Warn("unrecognised board, no price limits", "symbol", rec.Symbol, "date", rec.Date)
	}
}

func number(t *tushare.Table, row int, field string) float64 {
	f, _ := t.Float(row, field)
	return f
}

// lotsToShares converts the provider's volume in lots of 100 shares.
func lotsToShares(lots float64) float64 {
	shares, _ := decimal.NewFromFloat(lots).Shift(2).Float64()
	return shares
}
