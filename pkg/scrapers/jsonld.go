package scrapers

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"price-scout/pkg/models"
)

type productJSONLD struct {
	Type        json.RawMessage `json:"@type"`
	Name        string          `json:"name"`
	Image       json.RawMessage `json:"image"`
	Description string          `json:"description"`
	Sku         string          `json:"sku"`
	Brand       json.RawMessage `json:"brand"`
	Offers      json.RawMessage `json:"offers"`
}

type offerJSONLD struct {
	Price         json.RawMessage `json:"price"` // string or number
	LowPrice      json.RawMessage `json:"lowPrice"`
	PriceCurrency string          `json:"priceCurrency"`
	Availability  string          `json:"availability"`
	URL           string          `json:"url"`
}

// ParseJSONLD looks for a schema.org Product block in doc. Stores that ship
// structured data get a detail record without any selector work.
func ParseJSONLD(doc *goquery.Document) (*models.ScrapedProduct, bool) {
	var found *models.ScrapedProduct
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, ld := range decodeLD([]byte(s.Text())) {
			if !isProductType(ld.Type) || strings.TrimSpace(ld.Name) == "" {
				continue
			}
			found = ld.toProduct()
			return false
		}
		return true
	})
	return found, found != nil
}

// decodeLD accepts a single object, an array, or an @graph wrapper.
func decodeLD(raw []byte) []productJSONLD {
	var one productJSONLD
	if err := json.Unmarshal(raw, &one); err == nil && one.Type != nil {
		return []productJSONLD{one}
	}
	var many []productJSONLD
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	var graph struct {
		Graph []productJSONLD `json:"@graph"`
	}
	if err := json.Unmarshal(raw, &graph); err == nil {
		return graph.Graph
	}
	return nil
}

func isProductType(raw json.RawMessage) bool {
	var t string
	if json.Unmarshal(raw, &t) == nil {
		return t == "Product"
	}
	var ts []string
	if json.Unmarshal(raw, &ts) == nil {
		for _, t := range ts {
			if t == "Product" {
				return true
			}
		}
	}
	return false
}

func (ld productJSONLD) toProduct() *models.ScrapedProduct {
	p := &models.ScrapedProduct{
		Name:        CleanText(ld.Name),
		Description: strings.TrimSpace(ld.Description),
		ExternalID:  strings.TrimSpace(ld.Sku),
		Brand:       firstString(ld.Brand, "name"),
		ImageURL:    firstString(ld.Image, "url"),
		Currency:    models.DefaultCurrency,
	}

	var offer offerJSONLD
	if json.Unmarshal(ld.Offers, &offer) != nil {
		var offers []offerJSONLD
		if json.Unmarshal(ld.Offers, &offers) == nil && len(offers) > 0 {
			offer = offers[0]
		}
	}
	if offer.PriceCurrency != "" {
		p.Currency = offer.PriceCurrency
	}
	price := rawNumber(offer.Price)
	if price == "" {
		price = rawNumber(offer.LowPrice)
	}
	if v, ok := ParsePrice(price); ok {
		p.Price = v
	}
	avail := strings.ToLower(offer.Availability)
	p.IsAvailable = strings.Contains(avail, "instock") || avail == "in stock"
	p.URL = offer.URL
	return p
}

// rawNumber returns a JSON string or number as text.
func rawNumber(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// firstString reads a string, the first string of an array, or obj[key].
func firstString(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var ss []string
	if json.Unmarshal(raw, &ss) == nil && len(ss) > 0 {
		return strings.TrimSpace(ss[0])
	}
	var obj map[string]any
	if json.Unmarshal(raw, &obj) == nil {
		if v, ok := obj[key].(string); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
