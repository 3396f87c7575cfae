// Package domain holds the records exchanged between gatherers and stores.
package domain

// Index component tiers, in priority order.
const (
	TierLargeCap = "100"
	TierMidCap   = "010"
	TierSmallCap = "001"
	TierNone     = "000"
)

// MarketFields is the persisted field order of a MarketRecord. Downstream
// consumers depend on these names.
var MarketFields = []string{
	"date", "symbol", "open", "high", "low", "close", "volume", "pre_close",
	"limit_up", "limit_down", "index_component", "name",
}

// MarketRecord is one cleaned daily quote for a China A-share symbol.
// (Date, Symbol) identifies the record in every store.
type MarketRecord struct {
	Date     string // provider trade date, YYYYMMDD
	Symbol   string // code with exchange suffix, e.g. 600000.SH
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64 // shares
	PreClose float64

	// Nil when unknown.
	LimitUp        *float64
	LimitDown      *float64
	IndexComponent *string
	Name           *string
}

// Key returns the record identity.
func (r MarketRecord) Key() RecordKey {
	return RecordKey{Date: r.Date, Symbol: r.Symbol}
}

// RecordKey is the (date, symbol) identity of a MarketRecord.
type RecordKey struct {
	Date   string
	Symbol string
}
