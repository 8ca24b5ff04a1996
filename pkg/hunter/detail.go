package hunter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"price-scout/pkg/cache"
	"price-scout/pkg/models"
	"price-scout/pkg/retry"
	"price-scout/pkg/scrapers"
	"price-scout/pkg/session"
)

// FetchDetail returns the detail record behind productURL at storeID.
// A cached offer is returned as is; otherwise the page is scraped, stored
// and cached. A page that holds no product drops the cache entry and yields
// models.ErrProductNotFound.
func (o *Orchestrator) FetchDetail(ctx context.Context, storeID, productURL string) (*models.Offer, error) {
	ext, err := o.registry.Get(storeID)
	if err != nil {
		return nil, err
	}
	productURL = strings.TrimSpace(productURL)
	if productURL == "" {
		return nil, fmt.Errorf("%w: empty url", models.ErrProductNotFound)
	}

	var cached models.Offer
	if o.cache.Get(ctx, cache.Product, productURL, &cached) {
		cached.Provenance = models.FromCache
		return &cached, nil
	}

	p, err := o.scrapeDetail(ctx, ext, productURL)
	if err != nil {
		return nil, err
	}
	offer := o.persist(ctx, ext.Info(), *p)
	return &offer, nil
}

// scrapeDetail loads productURL in a fresh session, bypassing the cache.
func (o *Orchestrator) scrapeDetail(ctx context.Context, ext scrapers.Extractor, productURL string) (*models.ScrapedProduct, error) {
	info := ext.Info()
	p, err := retry.Do(ctx, o.retry, info.ID+" detail", func(actx context.Context) (*models.ScrapedProduct, error) {
		var found *models.ScrapedProduct
		err := o.withSession(actx, info, func(s session.Session) error {
			var err error
			found, err = ext.FetchDetail(actx, s, productURL)
			return err
		})
		return found, err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", productURL, err)
	}
	if p == nil {
		o.cache.Invalidate(ctx, cache.Product, productURL)
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, productURL)
	}
	return p, nil
}

// Comparison is the latest price of one product at every store that
// carries it.
type Comparison struct {
	Product       models.Product            `json:"product"`
	Prices        []models.PriceObservation `json:"prices"`
	Cheapest      models.PriceObservation   `json:"cheapest"`
	MostExpensive models.PriceObservation   `json:"most_expensive"`
	Savings       float64                   `json:"savings"`
	PriceRange    PriceRange                `json:"price_range"`
}

type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Compare looks up the stored product best matching name and compares its
// latest known prices across stores.
func (o *Orchestrator) Compare(ctx context.Context, name string) (*Comparison, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.ErrEmptyQuery
	}
	if o.store == nil {
		return nil, models.ErrProductNotFound
	}

	products, err := o.store.SearchProducts(ctx, name, 10)
	if err != nil {
		return nil, fmt.Errorf("compare %q: %w", name, err)
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, name)
	}

	best := products[0]
	key := NameKey(name)
	for _, p := range products {
		if NameKey(p.Name) == key {
			best = p
			break
		}
	}

	var prices []models.PriceObservation
	for _, obs := range best.Prices {
		if obs.Price > 0 {
			prices = append(prices, obs)
		}
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: no prices for %s", models.ErrProductNotFound, best.Name)
	}
	sort.SliceStable(prices, func(i, j int) bool { return prices[i].Price < prices[j].Price })

	cheapest, dearest := prices[0], prices[len(prices)-1]
	savings := decimal.NewFromFloat(dearest.Price).Sub(decimal.NewFromFloat(cheapest.Price)).Round(2)

	return &Comparison{
		Product:       best.Product,
		Prices:        prices,
		Cheapest:      cheapest,
		MostExpensive: dearest,
		Savings:       savings.InexactFloat64(),
		PriceRange:    PriceRange{Min: cheapest.Price, Max: dearest.Price},
	}, nil
}
