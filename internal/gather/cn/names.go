package cn

import (
	"context"
	"fmt"
	"sort"

	"datahub/internal/tushare"
)

// nameChangePageSize is the provider's row cap for the namechange API.
const nameChangePageSize = 10000

type nameChange struct {
	start string // YYYYMMDD
	name  string
}

// NameBook resolves the display name a symbol carried on a given day from
// the rename history, falling back to the current roster.
type NameBook struct {
	history map[string][]nameChange // sorted by start ascending
	current map[string]string
}

// NewNameBook indexes the namechange and stock_basic tables. Either may be
// empty.
func NewNameBook(changes, basics *tushare.Table) *NameBook {
	b := &NameBook{
		history: make(map[string][]nameChange),
		current: make(map[string]string, basics.Len()),
	}
	for i := 0; i < changes.Len(); i++ {
		code, ok1 := changes.String(i, "ts_code")
		start, ok2 := changes.String(i, "start_date")
		name, ok3 := changes.String(i, "name")
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		b.history[code] = append(b.history[code], nameChange{start: start, name: name})
	}
	for code, h := range b.history {
		sort.SliceStable(h, func(i, j int) bool { return h[i].start < h[j].start })
		b.history[code] = h
	}
	for i := 0; i < basics.Len(); i++ {
		code, ok1 := basics.String(i, "ts_code")
		name, ok2 := basics.String(i, "name")
		if ok1 && ok2 {
			b.current[code] = name
		}
	}
	return b
}

// Resolve returns the name code carried on day (YYYYMMDD): the latest rename
// whose start date is not after day, else the roster name, else nil.
func (b *NameBook) Resolve(code, day string) *string {
	h := b.history[code]
	// First entry starting after day; the one before it is in effect.
	i := sort.Search(len(h), func(i int) bool { return h[i].start > day })
	if i > 0 {
		name := h[i-1].name
		return &name
	}
	if name, ok := b.current[code]; ok {
		return &name
	}
	return nil
}

// FetchNameChanges pages through the namechange API with limit/offset until
// a short page is returned.
func FetchNameChanges(ctx context.Context, q tushare.Querier, pageSize int) (*tushare.Table, error) {
	if pageSize <= 0 {
		pageSize = nameChangePageSize
	}
	var pages []*tushare.Table
	for offset := 0; ; offset += pageSize {
		page, err := q.Query(ctx, "namechange", tushare.Params{"limit": pageSize, "offset": offset})
		if err != nil {
			return nil, fmt.Errorf("namechange offset %d: %w", offset, err)
		}
		if page.Len() == 0 {
			break
		}
		pages = append(pages, page)
		if page.Len() < pageSize {
			break
		}
	}
	return tushare.Concat(pages...)
}

// FetchStockBasics loads the roster including delisted and suspended
// symbols.
func FetchStockBasics(ctx context.Context, q tushare.Querier) (*tushare.Table, error) {
	t, err := q.Query(ctx, "stock_basic", tushare.Params{"list_status": "L,D,P"})
	if err != nil {
		return nil, fmt.Errorf("stock_basic: %w", err)
	}
	return t, nil
}
