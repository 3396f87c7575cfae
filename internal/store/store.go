// Package store persists cleaned market records. Every backend keys records
// by (date, symbol) and replaces an existing record on conflict, so writing
// the same day twice leaves one record per symbol.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"datahub/internal/domain"
)

// DefaultCollection is the collection (or table) holding cleaned quotes.
const DefaultCollection = "stock_market"

// ErrInvalidCollection is returned for collection names that are not plain
// identifiers.
var ErrInvalidCollection = errors.New("invalid collection name")

var collectionRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MarketStore persists MarketRecords.
type MarketStore interface {
	// EnsureSchema creates the collection and its unique (date, symbol)
	// index if they do not exist. It is idempotent.
	EnsureSchema(ctx context.Context) error

	// UpsertMarket writes records in one bulk operation, replacing any
	// stored record with the same (date, symbol). It returns the number of
	// records written. Calls for different days do not block each other.
	UpsertMarket(ctx context.Context, records []domain.MarketRecord) (int, error)

	// Close releases the backend's resources.
	Close(ctx context.Context) error
}

// ValidateCollection checks that name can be used as a collection or table
// name.
func ValidateCollection(name string) error {
	if !collectionRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// dedupe keeps the last record for each (date, symbol) key, preserving the
// position of its first occurrence.
func dedupe(records []domain.MarketRecord) []domain.MarketRecord {
	pos := make(map[domain.RecordKey]int, len(records))
	out := make([]domain.MarketRecord, 0, len(records))
	for _, r := range records {
		if i, ok := pos[r.Key()]; ok {
			out[i] = r
			continue
		}
		pos[r.Key()] = len(out)
		out = append(out, r)
	}
	return out
}
