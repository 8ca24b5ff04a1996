// Package hunter decides whether a product search can be answered from
// recently stored prices or needs a live scrape, runs the scrapes
// concurrently per store and merges the results.
package hunter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"price-scout/pkg/cache"
	"price-scout/pkg/logger"
	"price-scout/pkg/models"
	"price-scout/pkg/ratelimit"
	"price-scout/pkg/retry"
	"price-scout/pkg/scrapers"
	"price-scout/pkg/session"
)

// Persistence is the relational store behind the orchestrator.
// Lookups report a missing row with models.ErrNotFound.
type Persistence interface {
	FindStoreByDomain(ctx context.Context, domain string) (*models.Store, error)
	CreateStore(ctx context.Context, name, domain, country string) (*models.Store, error)
	FindProductByExternalID(ctx context.Context, externalID string) (*models.Product, error)
	FindProductByNamePrefix(ctx context.Context, text string) (*models.Product, error)
	CreateProduct(ctx context.Context, p models.Product) (*models.Product, error)
	RecordPrice(ctx context.Context, obs models.PriceObservation) (string, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]models.ProductWithPrices, error)
	LatestPrices(ctx context.Context, productID string) ([]models.PriceObservation, error)
}

type Deps struct {
	Registry scrapers.Registry
	Sessions session.Factory
	Limiter  *ratelimit.Limiter
	Retry    *retry.Executor
	Store    Persistence
	Cache    *cache.Gateway
	Logger   *log.Logger
}

type Options struct {
	// CacheTTL is how old a stored price may be and still count as fresh.
	CacheTTL time.Duration
	// FreshRatio is the share of the requested result count that fresh
	// products must reach for scraping to be skipped.
	FreshRatio          float64
	MaxConcurrentStores int
	DefaultMaxResults   int
	TieBreak            TieBreak

	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		CacheTTL:            24 * time.Hour,
		FreshRatio:          0.5,
		MaxConcurrentStores: 3,
		DefaultMaxResults:   5,
		TieBreak:            KeepFirst,
		Now:                 time.Now,
	}
}

type Orchestrator struct {
	registry scrapers.Registry
	sessions session.Factory
	limiter  *ratelimit.Limiter
	retry    *retry.Executor
	store    Persistence
	cache    *cache.Gateway
	log      *log.Logger
	opts     Options
}

func New(d Deps, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}
	if opts.FreshRatio <= 0 {
		opts.FreshRatio = def.FreshRatio
	}
	if opts.MaxConcurrentStores <= 0 {
		opts.MaxConcurrentStores = def.MaxConcurrentStores
	}
	if opts.DefaultMaxResults <= 0 {
		opts.DefaultMaxResults = def.DefaultMaxResults
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}

	l := logger.OrDefault(d.Logger)
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(0, nil, ratelimit.DefaultMaxJitter)
	}
	if d.Retry == nil {
		d.Retry = retry.New(retry.DefaultPolicy, l)
	}
	return &Orchestrator{
		registry: d.Registry,
		sessions: d.Sessions,
		limiter:  d.Limiter,
		retry:    d.Retry,
		store:    d.Store,
		cache:    d.Cache,
		log:      l,
		opts:     opts,
	}
}

// Stores lists the registered extractors.
func (o *Orchestrator) Stores() []scrapers.StoreInfo {
	ids := o.registry.IDs()
	infos := make([]scrapers.StoreInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, o.registry[id].Info())
	}
	return infos
}

type SearchRequest struct {
	Query              string
	Stores             []string
	MaxResultsPerStore int
	ForceScrape        bool
}

type Sources struct {
	FromCache  int `json:"from_cache"`
	FromScrape int `json:"from_scrape"`
}

type SearchResult struct {
	Products       []models.Offer `json:"products"`
	Sources        Sources        `json:"sources"`
	StoresSearched []string       `json:"stores_searched"`
	StoresFailed   []string       `json:"stores_failed"`
	TotalCount     int            `json:"total_count"`
}

type storeOutcome struct {
	id      string
	offers  []models.Offer
	scraped bool
	err     error
}

// IntelligentSearch answers query from fresh stored prices when there are
// enough of them and scrapes the requested stores otherwise. A failing
// store is reported in StoresFailed and never affects the others. Only an
// invalid request or the end of ctx fails the call; in the latter case
// every session opened for it has been closed before it returns.
func (o *Orchestrator) IntelligentSearch(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	query := strings.Join(strings.Fields(req.Query), " ")
	if query == "" {
		return nil, models.ErrEmptyQuery
	}
	stores := uniqueStores(req.Stores)
	if len(stores) == 0 {
		return nil, models.ErrNoStores
	}
	perStore := req.MaxResultsPerStore
	if perStore <= 0 {
		perStore = o.opts.DefaultMaxResults
	}

	result := &SearchResult{
		Products:       []models.Offer{},
		StoresSearched: []string{},
		StoresFailed:   []string{},
	}

	var known []scrapers.Extractor
	for _, id := range stores {
		ext, err := o.registry.Get(id)
		if err != nil {
			o.log.Printf("search %q: %v", query, err)
			result.StoresFailed = append(result.StoresFailed, id)
			continue
		}
		known = append(known, ext)
	}

	var fresh []models.Offer
	if !req.ForceScrape {
		fresh = o.freshOffers(ctx, query, known, perStore*len(stores))
		threshold := o.opts.FreshRatio * float64(perStore*len(stores))
		if len(fresh) > 0 && float64(len(fresh)) >= threshold {
			o.log.Printf("search %q: %d fresh products (threshold %.1f), skipping scrape", query, len(fresh), threshold)
			return o.finish(result, fresh), nil
		}
		o.log.Printf("search %q: %d fresh products below threshold %.1f, scraping %d stores", query, len(fresh), threshold, len(known))
	}

	outcomes := make([]storeOutcome, len(known))
	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxConcurrentStores)
	for i, ext := range known {
		g.Go(func() error {
			outcomes[i] = o.searchStore(ctx, ext, query, perStore, req.ForceScrape)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	merged := fresh
	for _, out := range outcomes {
		if out.scraped {
			result.StoresSearched = append(result.StoresSearched, out.id)
		}
		if out.err != nil {
			result.StoresFailed = append(result.StoresFailed, out.id)
			continue
		}
		merged = append(merged, out.offers...)
	}
	return o.finish(result, merged), nil
}

func (o *Orchestrator) finish(result *SearchResult, offers []models.Offer) *SearchResult {
	offers = DedupeWith(offers, o.opts.TieBreak)
	SortByPrice(offers)
	for _, off := range offers {
		switch off.Provenance {
		case models.FromCache:
			result.Sources.FromCache++
		case models.FromScrape:
			result.Sources.FromScrape++
		}
	}
	result.Products = offers
	result.TotalCount = len(offers)
	return result
}

func uniqueStores(stores []string) []string {
	seen := make(map[string]bool, len(stores))
	var out []string
	for _, s := range stores {
		id := strings.ToLower(strings.TrimSpace(s))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// freshOffers returns one offer per stored product that has a price at one
// of the given stores observed within CacheTTL, priced at the cheapest such
// observation.
func (o *Orchestrator) freshOffers(ctx context.Context, query string, stores []scrapers.Extractor, limit int) []models.Offer {
	if o.store == nil || len(stores) == 0 {
		return nil
	}
	products, err := o.store.SearchProducts(ctx, query, limit)
	if err != nil {
		o.log.Printf("search %q: reading stored products failed: %v", query, err)
		return nil
	}

	byDomain := make(map[string]string, len(stores))
	for _, ext := range stores {
		info := ext.Info()
		byDomain[info.Domain] = info.ID
	}

	now := o.opts.Now()
	var offers []models.Offer
	for _, p := range products {
		var best *models.PriceObservation
		var bestStore string
		for i := range p.Prices {
			obs := &p.Prices[i]
			storeID, ok := byDomain[obs.StoreDomain]
			if !ok || now.Sub(obs.ObservedAt) > o.opts.CacheTTL {
				continue
			}
			if best == nil || sortPrice(obs.Price) < sortPrice(best.Price) {
				best, bestStore = obs, storeID
			}
		}
		if best == nil {
			continue
		}
		offers = append(offers, models.Offer{
			ScrapedProduct: models.ScrapedProduct{
				Name:         p.Name,
				Price:        best.Price,
				Currency:     best.Currency,
				IsAvailable:  best.IsAvailable,
				URL:          best.URL,
				ImageURL:     p.ImageURL,
				Brand:        p.Brand,
				ExternalID:   p.ExternalID,
				Description:  p.Description,
				Source:       strings.ToUpper(bestStore),
				ScrapedAt:    best.ObservedAt,
				PriceUnknown: best.Price <= 0,
			},
			StoreID:    best.StoreID,
			ProductID:  p.ID,
			Store:      bestStore,
			Provenance: models.FromCache,
			Persisted:  true,
		})
	}
	return offers
}

func (o *Orchestrator) searchStore(ctx context.Context, ext scrapers.Extractor, query string, maxResults int, force bool) storeOutcome {
	info := ext.Info()
	out := storeOutcome{id: info.ID}
	key := cache.SearchKey(info.ID, query)

	if !force {
		var cached []models.Offer
		if o.cache.Get(ctx, cache.Search, key, &cached) {
			cached = cached[:min(len(cached), maxResults)]
			for i := range cached {
				cached[i].Provenance = models.FromCache
			}
			out.offers = cached
			return out
		}
	}

	out.scraped = true
	products, err := retry.Do(ctx, o.retry, info.ID+" search", func(actx context.Context) ([]models.ScrapedProduct, error) {
		var found []models.ScrapedProduct
		err := o.withSession(actx, info, func(s session.Session) error {
			var err error
			found, err = ext.Search(actx, s, query, maxResults)
			return err
		})
		return found, err
	})
	if err != nil {
		o.log.Printf("[%s] search %q failed: %v", info.ID, query, err)
		out.err = err
		return out
	}

	out.offers = make([]models.Offer, 0, len(products))
	for _, p := range products {
		out.offers = append(out.offers, o.persist(ctx, info, p))
	}
	if len(out.offers) > 0 {
		o.cache.Set(ctx, cache.Search, key, out.offers)
	} else {
		o.cache.Invalidate(ctx, cache.Search, key)
	}
	return out
}

// withSession opens a fresh session for info, waits for the store's rate
// limit and runs fn. The session is closed on every path.
func (o *Orchestrator) withSession(ctx context.Context, info scrapers.StoreInfo, fn func(session.Session) error) error {
	s := o.sessions(info.ID)
	defer func() {
		if err := s.Close(); err != nil {
			o.log.Printf("[%s] closing session: %v", info.ID, err)
		}
	}()

	if err := s.Open(ctx); err != nil {
		return err
	}
	if err := o.limiter.Wait(ctx, info.ID); err != nil {
		return err
	}
	return fn(s)
}

// persist stores p and returns it as an offer. Persistence failures are
// logged and leave the offer unpersisted.
func (o *Orchestrator) persist(ctx context.Context, info scrapers.StoreInfo, p models.ScrapedProduct) models.Offer {
	if o.store == nil {
		return models.Offer{ScrapedProduct: p, Store: info.ID, Provenance: models.FromScrape}
	}
	productID, err := o.resolveProduct(ctx, p)
	if err != nil {
		o.log.Printf("[%s] resolving product %q failed: %v", info.ID, p.Name, err)
		return models.Offer{ScrapedProduct: p, Store: info.ID, Provenance: models.FromScrape}
	}
	return o.record(ctx, info, p, productID)
}

// record appends the price of p at info to the history of productID.
func (o *Orchestrator) record(ctx context.Context, info scrapers.StoreInfo, p models.ScrapedProduct, productID string) models.Offer {
	offer := models.Offer{ScrapedProduct: p, Store: info.ID, Provenance: models.FromScrape}
	if o.store == nil {
		return offer
	}

	storeID, err := o.resolveStore(ctx, info)
	if err != nil {
		o.log.Printf("[%s] resolving store failed: %v", info.ID, err)
		return offer
	}
	if _, err := o.store.RecordPrice(ctx, models.PriceObservation{
		ProductID:   productID,
		StoreID:     storeID,
		Price:       p.Price,
		Currency:    p.Currency,
		IsAvailable: p.IsAvailable,
		URL:         p.URL,
	}); err != nil {
		o.log.Printf("[%s] recording price for %q failed: %v", info.ID, p.Name, err)
		return offer
	}

	offer.StoreID, offer.ProductID, offer.Persisted = storeID, productID, true
	if p.URL != "" {
		o.cache.Set(ctx, cache.Product, p.URL, offer)
	}
	return offer
}

func (o *Orchestrator) resolveStore(ctx context.Context, info scrapers.StoreInfo) (string, error) {
	var id string
	if o.cache.Get(ctx, cache.Store, info.Domain, &id) && id != "" {
		return id, nil
	}

	st, err := o.store.FindStoreByDomain(ctx, info.Domain)
	if errors.Is(err, models.ErrNotFound) {
		st, err = o.store.CreateStore(ctx, info.Name, info.Domain, info.Country)
	}
	if err != nil {
		return "", err
	}
	o.cache.Set(ctx, cache.Store, info.Domain, st.ID)
	return st.ID, nil
}

// resolveProduct matches by external id, then by name prefix, and creates
// the product when neither matches.
func (o *Orchestrator) resolveProduct(ctx context.Context, p models.ScrapedProduct) (string, error) {
	if p.ExternalID != "" {
		found, err := o.store.FindProductByExternalID(ctx, p.ExternalID)
		if err == nil {
			return found.ID, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return "", err
		}
	}

	found, err := o.store.FindProductByNamePrefix(ctx, p.Name)
	if err == nil {
		return found.ID, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return "", err
	}

	created, err := o.store.CreateProduct(ctx, models.Product{
		Name:        p.Name,
		Brand:       p.Brand,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		ExternalID:  p.ExternalID,
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}
