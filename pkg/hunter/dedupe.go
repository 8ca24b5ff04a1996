package hunter

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"price-scout/pkg/models"
)

// TieBreak decides which of two equally priced duplicates survives.
type TieBreak int

const (
	KeepFirst TieBreak = iota
	KeepLast
)

func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return KeepFirst, nil
	case "last":
		return KeepLast, nil
	}
	return KeepFirst, fmt.Errorf("unknown tie break %q (want first or last)", s)
}

func (t TieBreak) String() string {
	if t == KeepLast {
		return "last"
	}
	return "first"
}

var nameKeyReplacer = strings.NewReplacer(" ", "", "-", "")

// NameKey is the comparison key of a product name: lower case, without
// spaces or hyphens.
func NameKey(name string) string {
	return nameKeyReplacer.Replace(strings.ToLower(name))
}

// sortPrice orders unknown prices after every known one.
func sortPrice(p float64) float64 {
	if p <= 0 {
		return math.Inf(1)
	}
	return p
}

// Dedupe keeps the cheapest offer per name key; on equal prices the first
// one seen wins.
func Dedupe(offers []models.Offer) []models.Offer {
	return DedupeWith(offers, KeepFirst)
}

// DedupeWith is Dedupe with a configurable tie break. The surviving offer
// takes the slot of the first occurrence, so the relative order of keys is
// the order of first appearance.
func DedupeWith(offers []models.Offer, tie TieBreak) []models.Offer {
	out := make([]models.Offer, 0, len(offers))
	slot := make(map[string]int, len(offers))

	for _, o := range offers {
		key := NameKey(o.Name)
		i, seen := slot[key]
		if !seen {
			slot[key] = len(out)
			out = append(out, o)
			continue
		}
		cur, cand := sortPrice(out[i].Price), sortPrice(o.Price)
		if cand < cur || (cand == cur && tie == KeepLast) {
			out[i] = o
		}
	}
	return out
}

// SortByPrice orders offers ascending by price with unknown prices last.
// Equal prices keep their relative order.
func SortByPrice(offers []models.Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		return sortPrice(offers[i].Price) < sortPrice(offers[j].Price)
	})
}
