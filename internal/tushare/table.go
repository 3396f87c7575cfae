// Package tushare is a small client for the Tushare Pro HTTP API together
// with a read-through query cache shared by concurrent gatherers.
package tushare

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Params holds the keyword parameters of a single provider query.
type Params map[string]any

// Querier runs a named provider query and returns its tabular result.
type Querier interface {
	Query(ctx context.Context, api string, params Params) (*Table, error)
}

// QuerierFunc adapts a function to the Querier interface.
type QuerierFunc func(ctx context.Context, api string, params Params) (*Table, error)

func (f QuerierFunc) Query(ctx context.Context, api string, params Params) (*Table, error) {
	return f(ctx, api, params)
}

// CacheKey returns the canonical identity of a query: the API name followed
// by its parameters sorted by name. Two queries with the same parameters in
// any order produce the same key.
func CacheKey(api string, params Params) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(api)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		fmt.Fprintf(&b, "%s=%v", k, params[k])
	}
	return b.String()
}

// Table is the column-oriented result of a provider query. Tables handed out
// by the cache are shared between goroutines and must be treated as
// read-only.
type Table struct {
	Fields []string
	Items  [][]any

	index map[string]int
}

// NewTable builds a Table from the provider's fields/items pair.
func NewTable(fields []string, items [][]any) *Table {
	t := &Table{Fields: fields, Items: items, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		t.index[f] = i
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Items)
}

// Has reports whether the table carries the named column.
func (t *Table) Has(field string) bool {
	if t == nil {
		return false
	}
	_, ok := t.index[field]
	return ok
}

// Value returns the raw cell at (row, field), or nil when the column or the
// cell is missing.
func (t *Table) Value(row int, field string) any {
	col, ok := t.index[field]
	if !ok || row < 0 || row >= len(t.Items) {
		return nil
	}
	r := t.Items[row]
	if col >= len(r) {
		return nil
	}
	return r[col]
}

// String returns the cell at (row, field) as a string. ok is false for a
// missing or null cell.
func (t *Table) String(row int, field string) (string, bool) {
	switch v := t.Value(row, field).(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// Float returns the cell at (row, field) as a float64. ok is false for a
// missing, null or non-numeric cell.
func (t *Table) Float(row int, field string) (float64, bool) {
	switch v := t.Value(row, field).(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Strings returns every non-null value of the named column.
func (t *Table) Strings(field string) []string {
	out := make([]string, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		if s, ok := t.String(i, field); ok {
			out = append(out, s)
		}
	}
	return out
}

// Concat appends the rows of tables sharing the same column layout. Tables
// whose fields differ from the first non-empty table are rejected.
func Concat(tables ...*Table) (*Table, error) {
	var fields []string
	var items [][]any
	for _, t := range tables {
		if t.Len() == 0 {
			continue
		}
		if fields == nil {
			fields = t.Fields
		} else if strings.Join(fields, ",") != strings.Join(t.Fields, ",") {
			return nil, fmt.Errorf("concat: column mismatch %v vs %v", fields, t.Fields)
		}
		items = append(items, t.Items...)
	}
	return NewTable(fields, items), nil
}
