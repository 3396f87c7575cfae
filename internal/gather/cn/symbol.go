package cn

import "strings"

// Board is the trading segment a symbol belongs to. It decides the daily
// price-limit band.
type Board int

const (
	BoardUnknown Board = iota
	BoardMain          // SSE/SZSE main boards and B shares
	BoardSTAR          // SSE Science and Technology Innovation Board
	BoardChiNext       // SZSE growth board
	BoardBSE           // Beijing Stock Exchange
)

func (b Board) String() string {
	switch b {
	case BoardMain:
		return "main"
	case BoardSTAR:
		return "star"
	case BoardChiNext:
		return "chinext"
	case BoardBSE:
		return "bse"
	default:
		return "unknown"
	}
}

var boardPrefixes = []struct {
	board    Board
	prefixes []string
}{
	{BoardMain, []string{"600", "601", "603", "605", "900", "000", "001", "002", "003", "200", "201"}},
	{BoardSTAR, []string{"688", "689"}},
	{BoardChiNext, []string{"300", "301", "302"}},
	{BoardBSE, []string{"43", "83", "87", "920"}},
}

// BoardOf classifies a symbol by its numeric prefix. Exchange suffixes are
// ignored.
func BoardOf(code string) Board {
	for _, bp := range boardPrefixes {
		for _, p := range bp.prefixes {
			if strings.HasPrefix(code, p) {
				return bp.board
			}
		}
	}
	return BoardUnknown
}

// Exchange suffixes used by the platform.
const (
	SuffixSH = "SH"
	SuffixSZ = "SZ"
	SuffixBJ = "BJ"
)

// NormalizeSymbol rewrites a provider code ("600000.SH" or "600000") to the
// platform form <digits>.<exchange>, where the exchange is derived from the
// numeric prefix. Codes with an unknown prefix are returned unchanged.
func NormalizeSymbol(code string) string {
	digits, _, _ := strings.Cut(code, ".")
	var suffix string
	switch {
	case hasAnyPrefix(digits, "600", "601", "603", "605", "688", "689", "900"):
		suffix = SuffixSH
	case hasAnyPrefix(digits, "000", "001", "002", "003", "200", "201", "300", "301", "302"):
		suffix = SuffixSZ
	case hasAnyPrefix(digits, "43", "83", "87", "920"):
		suffix = SuffixBJ
	default:
		return code
	}
	return digits + "." + suffix
}

// IsExcluded reports whether a normalized symbol trades on the Beijing Stock
// Exchange, which the cleaned data set leaves out.
func IsExcluded(symbol string) bool {
	return strings.HasSuffix(symbol, "."+SuffixBJ)
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
