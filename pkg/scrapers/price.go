package scrapers

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice turns a price label into a number.
//
//	"€1.234,56" -> 1234.56
//	"49,90 €"   -> 49.90
//	"29.99"     -> 29.99
//
// When both '.' and ',' are present the '.' groups thousands and the ','
// is the decimal mark; a lone ',' is the decimal mark. Anything that does
// not yield a non-negative number reports ok=false and a zero price.
func ParsePrice(raw string) (price float64, ok bool) {
	// Currency symbols, words and (non-breaking) spaces all go.
	clean := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			return r
		}
		return -1
	}, raw)
	// "19,-" and "1.299,–" mean whole euros.
	clean = strings.TrimRight(clean, "-")
	if strings.HasSuffix(clean, ",") {
		clean += "00"
	}
	if clean == "" || clean == ",00" {
		return 0, false
	}

	switch {
	case strings.Contains(clean, ".") && strings.Contains(clean, ","):
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.ReplaceAll(clean, ",", ".")
	case strings.Contains(clean, ","):
		clean = strings.ReplaceAll(clean, ",", ".")
	}

	d, err := decimal.NewFromString(clean)
	if err != nil || d.IsNegative() {
		return 0, false
	}
	return d.Round(2).InexactFloat64(), true
}
