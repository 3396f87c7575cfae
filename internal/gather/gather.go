// Package gather defines the contract shared by the market data gatherers.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns early when ctx is
	// cancelled.
	Run(ctx context.Context) error
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days covered by the range, or 0 when
// Start is after End.
func (r DateRange) Days() int {
	if r.Start.After(r.End) {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Split cuts the range into consecutive chunks of at most maxDays days.
func (r DateRange) Split(maxDays int) []DateRange {
	if maxDays <= 0 || r.Start.After(r.End) {
		return nil
	}
	var chunks []DateRange
	for cur := r.Start; !cur.After(r.End); {
		end := cur.AddDate(0, 0, maxDays-1)
		if end.After(r.End) {
			end = r.End
		}
		chunks = append(chunks, DateRange{Start: cur, End: end})
		cur = end.AddDate(0, 0, 1)
	}
	return chunks
}
