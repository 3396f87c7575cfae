package cn

import (
	"context"
	"fmt"
	"sort"
	"time"

	"datahub/internal/gather"
	"datahub/internal/tushare"
	"datahub/internal/util"
)

// MaxCalendarSpan is the largest number of days requested from trade_cal in
// one call.
const MaxCalendarSpan = 6000

// Calendar resolves trading days of the Shanghai exchange.
type Calendar struct {
	q        tushare.Querier
	exchange string
	maxSpan  int
}

// NewCalendar creates a Calendar backed by q.
func NewCalendar(q tushare.Querier) *Calendar {
	return &Calendar{q: q, exchange: "SSE", maxSpan: MaxCalendarSpan}
}

// Resolve returns the open days in [start, end] in ascending order. The
// range is fetched in chunks of at most MaxCalendarSpan days; if any chunk
// fails the whole resolution fails and no days are returned.
func (c *Calendar) Resolve(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	r := gather.DateRange{Start: start, End: end}
	if r.Days() == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{})
	for _, chunk := range r.Split(c.maxSpan) {
		days, err := c.openDays(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, d := range days {
			seen[d] = struct{}{}
		}
	}

	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		t, err := util.ParseDate(d)
		if err != nil {
			return nil, fmt.Errorf("trade_cal: %w", err)
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (c *Calendar) openDays(ctx context.Context, r gather.DateRange) ([]string, error) {
	t, err := c.q.Query(ctx, "trade_cal", tushare.Params{
		"exchange":   c.exchange,
		"start_date": util.Compact(r.Start),
		"end_date":   util.Compact(r.End),
	})
	if err != nil {
		return nil, fmt.Errorf("trade_cal %s-%s: %w", util.Compact(r.Start), util.Compact(r.End), err)
	}

	// The provider may answer with days outside the requested chunk.
	first, last := util.Compact(r.Start), util.Compact(r.End)
	var days []string
	for i := 0; i < t.Len(); i++ {
		open, ok := t.Float(i, "is_open")
		if !ok || open != 1 {
			continue
		}
		d, ok := t.String(i, "cal_date")
		if !ok || d < first || d > last {
			continue
		}
		days = append(days, d)
	}
	return days, nil
}
