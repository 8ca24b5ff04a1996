package models

import "time"

const (
	DefaultCurrency = "EUR"

	// MaxDescriptionLength caps descriptions taken from detail pages.
	MaxDescriptionLength = 500
)

// ScrapedProduct is a single item as produced by an extractor.
// Price 0 means the price could not be extracted.
type ScrapedProduct struct {
	Name         string    `json:"name"`
	Price        float64   `json:"price"`
	Currency     string    `json:"currency"`
	IsAvailable  bool      `json:"is_available"`
	URL          string    `json:"url"`
	ImageURL     string    `json:"image_url,omitempty"`
	Brand        string    `json:"brand,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	Description  string    `json:"description,omitempty"`
	Source       string    `json:"source"`
	ScrapedAt    time.Time `json:"scraped_at"`
	PriceUnknown bool      `json:"price_unknown,omitempty"`
}

// Normalize enforces the record invariants: default currency, capped
// description, and no availability without a URL or a price.
func (p *ScrapedProduct) Normalize() {
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	if p.Price < 0 {
		p.Price = 0
	}
	if p.Price == 0 {
		p.PriceUnknown = true
		p.IsAvailable = false
	}
	if p.URL == "" {
		p.IsAvailable = false
	}
	if r := []rune(p.Description); len(r) > MaxDescriptionLength {
		p.Description = string(r[:MaxDescriptionLength])
	}
}

// Valid reports whether the record carries enough data to be returned.
func (p *ScrapedProduct) Valid() bool {
	return p.Name != "" && p.Price >= 0 && (!p.IsAvailable || p.URL != "")
}

type Store struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Domain  string `json:"domain"`
	Country string `json:"country"`
	Active  bool   `json:"active"`
}

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Brand       string    `json:"brand,omitempty"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	ExternalID  string    `json:"external_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PriceObservation is an append-only price row. The current price of a
// product at a store is the most recent observation for that pair.
type PriceObservation struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	StoreID     string    `json:"store_id"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	IsAvailable bool      `json:"is_available"`
	URL         string    `json:"url"`
	ObservedAt  time.Time `json:"observed_at"`
	StoreName   string    `json:"store_name,omitempty"`
	StoreDomain string    `json:"store_domain,omitempty"`
}

// ProductWithPrices is a persisted product with its latest price per store.
type ProductWithPrices struct {
	Product
	Prices []PriceObservation `json:"prices"`
}

type Provenance string

const (
	FromCache  Provenance = "cache"
	FromScrape Provenance = "scrape"
)

// Offer is a product as returned to callers of the orchestrator.
type Offer struct {
	ScrapedProduct
	StoreID    string     `json:"store_id,omitempty"`
	ProductID  string     `json:"product_id,omitempty"`
	Store      string     `json:"store"`
	Provenance Provenance `json:"provenance"`
	Persisted  bool       `json:"persisted"`
}
