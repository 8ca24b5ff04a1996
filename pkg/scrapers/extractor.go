// Package scrapers defines the per-store extraction contract and the
// parsing policy every store shares.
package scrapers

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"price-scout/pkg/models"
	"price-scout/pkg/session"
)

// StoreInfo identifies a retail site.
type StoreInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Domain  string `json:"domain"`
	Country string `json:"country"`
	BaseURL string `json:"base_url"`
}

// Extractor turns pages of one store into product records.
//
// Search must not fail because of a single malformed item: such items are
// logged and skipped. Errors are reserved for failures of the page itself
// (navigation, missing result list) and wrap models.ErrTransient.
//
// FetchDetail returns a nil product and a nil error when the page loads but
// does not describe a valid product.
type Extractor interface {
	Info() StoreInfo
	Search(ctx context.Context, s session.Session, query string, maxResults int) ([]models.ScrapedProduct, error)
	FetchDetail(ctx context.Context, s session.Session, productURL string) (*models.ScrapedProduct, error)
}

// Registry maps store ids to their extractor.
type Registry map[string]Extractor

func NewRegistry(extractors ...Extractor) Registry {
	r := make(Registry, len(extractors))
	for _, e := range extractors {
		r[e.Info().ID] = e
	}
	return r
}

func (r Registry) Get(storeID string) (Extractor, error) {
	e, ok := r[strings.ToLower(storeID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %s)", models.ErrUnsupportedStore, storeID, strings.Join(r.IDs(), ", "))
	}
	return e, nil
}

// IDs returns the registered store ids in sorted order.
func (r Registry) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadDocument navigates, waits for marker and parses the rendered page.
func LoadDocument(ctx context.Context, s session.Session, pageURL, marker string) (*goquery.Document, error) {
	if err := s.Navigate(ctx, pageURL); err != nil {
		return nil, err
	}
	if marker != "" {
		if err := s.WaitFor(ctx, marker); err != nil {
			return nil, err
		}
	}
	html, err := s.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrTransient, pageURL, err)
	}
	return doc, nil
}

// ExtractItems runs fn over the first max matches in document order.
// A panic or error in fn drops that item only.
func ExtractItems(source string, items *goquery.Selection, max int, fn func(*goquery.Selection) (*models.ScrapedProduct, error)) []models.ScrapedProduct {
	products := make([]models.ScrapedProduct, 0, max)
	items.EachWithBreak(func(i int, card *goquery.Selection) bool {
		if i >= max {
			return false
		}
		p, err := extractOne(card, fn)
		if err != nil {
			log.Printf("[%s] skipping result %d: %v", source, i, err)
			return true
		}
		if p != nil {
			products = append(products, *p)
		}
		return true
	})
	return products
}

func extractOne(card *goquery.Selection, fn func(*goquery.Selection) (*models.ScrapedProduct, error)) (p *models.ScrapedProduct, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", models.ErrMalformedData, r)
		}
	}()
	p, err = fn(card)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	p.Normalize()
	if !p.Valid() {
		return nil, fmt.Errorf("%w: invalid record %q", models.ErrMalformedData, p.Name)
	}
	return p, nil
}

// AbsoluteURL resolves href against base.
func AbsoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}

// CleanText collapses whitespace the way rendered text shows it.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
