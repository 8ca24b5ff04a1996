package hunter

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"price-scout/pkg/cache"
	"price-scout/pkg/models"
	"price-scout/pkg/scrapers"
)

// RefreshResult lists the offers a refresh recorded. Failed holds the ids
// of stores whose page could not be scraped, Skipped the domains of stored
// prices no extractor serves.
type RefreshResult struct {
	ProductID string         `json:"product_id"`
	Updated   []models.Offer `json:"updated"`
	Failed    []string       `json:"failed"`
	Skipped   []string       `json:"skipped"`
}

type refreshTarget struct {
	ext scrapers.Extractor
	url string
}

// RefreshProduct scrapes every store page the product was last priced on
// and appends the new prices to its history. A failing store is reported
// in Failed and never affects the others.
func (o *Orchestrator) RefreshProduct(ctx context.Context, productID string) (*RefreshResult, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" || o.store == nil {
		return nil, models.ErrProductNotFound
	}

	latest, err := o.store.LatestPrices(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", productID, err)
	}
	if len(latest) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, productID)
	}

	byDomain := make(map[string]scrapers.Extractor, len(o.registry))
	for _, ext := range o.registry {
		byDomain[ext.Info().Domain] = ext
	}

	result := &RefreshResult{
		ProductID: productID,
		Updated:   []models.Offer{},
		Failed:    []string{},
		Skipped:   []string{},
	}
	var targets []refreshTarget
	for _, obs := range latest {
		ext, ok := byDomain[obs.StoreDomain]
		if !ok || obs.URL == "" {
			result.Skipped = append(result.Skipped, obs.StoreDomain)
			continue
		}
		targets = append(targets, refreshTarget{ext: ext, url: obs.URL})
	}

	found := make([]*models.ScrapedProduct, len(targets))
	errs := make([]error, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxConcurrentStores)
	for i, t := range targets {
		g.Go(func() error {
			found[i], errs[i] = o.scrapeDetail(ctx, t.ext, t.url)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("refresh %s: %w", productID, err)
	}

	for i, t := range targets {
		info := t.ext.Info()
		if errs[i] != nil {
			o.log.Printf("[%s] refreshing %s failed: %v", info.ID, productID, errs[i])
			result.Failed = append(result.Failed, info.ID)
			continue
		}
		result.Updated = append(result.Updated, o.record(ctx, info, *found[i], productID))
	}
	o.log.Printf("refresh %s: %d updated, %d failed, %d skipped", productID, len(result.Updated), len(result.Failed), len(result.Skipped))
	return result, nil
}

// CacheStats counts the cached entries per namespace.
func (o *Orchestrator) CacheStats(ctx context.Context) (cache.Stats, error) {
	return o.cache.Stats(ctx)
}

// ClearCache drops every cached entry. Stored prices are kept.
func (o *Orchestrator) ClearCache(ctx context.Context) (int64, error) {
	return o.cache.Clear(ctx)
}
