package cn

import (
	"errors"
	"fmt"

	"datahub/internal/domain"
	"datahub/internal/tushare"
)

// Benchmark indices used for the index component tier.
const (
	IndexCSI300  = "399300.SZ" // large cap
	IndexCSI500  = "000905.SH" // mid cap
	IndexCSI1000 = "000852.SH" // small cap
)

// ErrMembershipUnavailable is returned by ClassifyIndexTier when one of the
// membership snapshots could not be loaded.
var ErrMembershipUnavailable = errors.New("index membership unavailable")

// IndexMembership is the constituent set of one index over a snapshot
// window.
type IndexMembership struct {
	Index   string
	members map[string]struct{}
}

// NewIndexMembership builds a membership set from an index_weight table.
func NewIndexMembership(index string, t *tushare.Table) (*IndexMembership, error) {
	if t.Len() > 0 && !t.Has("con_code") {
		return nil, fmt.Errorf("index_weight %s: missing con_code column", index)
	}
	m := &IndexMembership{Index: index, members: make(map[string]struct{}, t.Len())}
	for _, code := range t.Strings("con_code") {
		m.members[code] = struct{}{}
	}
	return m, nil
}

// Contains reports whether code is a constituent.
func (m *IndexMembership) Contains(code string) bool {
	_, ok := m.members[code]
	return ok
}

// Len returns the number of constituents.
func (m *IndexMembership) Len() int { return len(m.members) }

// ClassifyIndexTier maps a provider code to its tier. Large cap wins over
// mid cap, which wins over small cap.
func ClassifyIndexTier(code string, large, mid, small *IndexMembership) (string, error) {
	if large == nil || mid == nil || small == nil {
		return "", ErrMembershipUnavailable
	}
	switch {
	case large.Contains(code):
		return domain.TierLargeCap, nil
	case mid.Contains(code):
		return domain.TierMidCap, nil
	case small.Contains(code):
		return domain.TierSmallCap, nil
	default:
		return domain.TierNone, nil
	}
}
