package hunter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"price-scout/pkg/cache"
	"price-scout/pkg/models"
	"price-scout/pkg/ratelimit"
	"price-scout/pkg/retry"
	"price-scout/pkg/scrapers"
	"price-scout/pkg/session"
	"price-scout/pkg/session/sessiontest"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// stubExtractor returns canned products and records how it was called.
type stubExtractor struct {
	info scrapers.StoreInfo

	mu       sync.Mutex
	searches int
	details  int
	products []models.ScrapedProduct
	detail   *models.ScrapedProduct
	err      error
	block    bool
}

func newStub(id string, products ...models.ScrapedProduct) *stubExtractor {
	return &stubExtractor{
		info: scrapers.StoreInfo{
			ID:      id,
			Name:    strings.ToUpper(id[:1]) + id[1:],
			Domain:  id + ".de",
			Country: "DE",
			BaseURL: "https://www." + id + ".de",
		},
		products: products,
	}
}

func (s *stubExtractor) Info() scrapers.StoreInfo { return s.info }

func (s *stubExtractor) Search(ctx context.Context, sess session.Session, query string, maxResults int) ([]models.ScrapedProduct, error) {
	s.mu.Lock()
	s.searches++
	s.mu.Unlock()

	if sess.State() != session.Open {
		return nil, fmt.Errorf("%w: session %s", models.ErrSession, sess.State())
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	n := min(maxResults, len(s.products))
	return append([]models.ScrapedProduct(nil), s.products[:n]...), nil
}

func (s *stubExtractor) FetchDetail(ctx context.Context, sess session.Session, productURL string) (*models.ScrapedProduct, error) {
	s.mu.Lock()
	s.details++
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	if s.detail == nil {
		return nil, nil
	}
	p := *s.detail
	p.URL = productURL
	return &p, nil
}

func (s *stubExtractor) searchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

func scraped(store, name string, price float64) models.ScrapedProduct {
	return models.ScrapedProduct{
		Name:        name,
		Price:       price,
		Currency:    models.DefaultCurrency,
		IsAvailable: true,
		URL:         "https://www." + store + ".de/" + strings.ReplaceAll(strings.ToLower(name), " ", "-"),
		Source:      strings.ToUpper(store),
		ScrapedAt:   testNow,
	}
}

// memStore is an in-memory Persistence.
type memStore struct {
	mu       sync.Mutex
	stores   map[string]models.Store
	products []models.Product
	prices   []models.PriceObservation
	seq      int

	failRecord error
	failSearch error
}

func newMemStore() *memStore {
	return &memStore{stores: make(map[string]models.Store)}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) FindStoreByDomain(_ context.Context, domain string) (*models.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stores[domain]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &st, nil
}

func (m *memStore) CreateStore(_ context.Context, name, domain, country string) (*models.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.stores[domain]; ok {
		return &st, nil
	}
	st := models.Store{ID: m.nextID("store"), Name: name, Domain: domain, Country: country, Active: true}
	m.stores[domain] = st
	return &st, nil
}

func (m *memStore) FindProductByExternalID(_ context.Context, externalID string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.ExternalID == externalID {
			return &p, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) FindProductByNamePrefix(_ context.Context, text string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.ToLower(text)
	if len(prefix) > 50 {
		prefix = prefix[:50]
	}
	for _, p := range m.products {
		if strings.Contains(strings.ToLower(p.Name), prefix) {
			return &p, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) CreateProduct(_ context.Context, p models.Product) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextID("product")
	p.CreatedAt = testNow
	m.products = append(m.products, p)
	return &p, nil
}

func (m *memStore) RecordPrice(_ context.Context, obs models.PriceObservation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecord != nil {
		return "", m.failRecord
	}
	obs.ID = m.nextID("price")
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = testNow
	}
	m.prices = append(m.prices, obs)
	return obs.ID, nil
}

// seed stores a product priced at store, observed age before testNow.
func (m *memStore) seed(storeDomain, name string, price float64, age time.Duration) {
	ctx := context.Background()
	st, _ := m.CreateStore(ctx, storeDomain, storeDomain, "DE")
	p, _ := m.CreateProduct(ctx, models.Product{Name: name})
	_, _ = m.RecordPrice(ctx, models.PriceObservation{
		ProductID:   p.ID,
		StoreID:     st.ID,
		Price:       price,
		Currency:    "EUR",
		IsAvailable: true,
		URL:         "https://www." + storeDomain + "/" + p.ID,
		ObservedAt:  testNow.Add(-age),
	})
}

func (m *memStore) SearchProducts(_ context.Context, query string, limit int) ([]models.ProductWithPrices, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSearch != nil {
		return nil, m.failSearch
	}

	q := strings.ToLower(query)
	var out []models.ProductWithPrices
	for _, p := range m.products {
		text := strings.ToLower(p.Name + "\n" + p.Brand + "\n" + p.Description)
		if !strings.Contains(text, q) {
			continue
		}
		out = append(out, models.ProductWithPrices{Product: p, Prices: m.latestLocked(p.ID)})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) LatestPrices(_ context.Context, productID string) ([]models.PriceObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestLocked(productID), nil
}

func (m *memStore) latestLocked(productID string) []models.PriceObservation {
	domains := make(map[string]models.Store)
	for _, st := range m.stores {
		domains[st.ID] = st
	}

	latest := make(map[string]models.PriceObservation)
	for _, obs := range m.prices {
		if obs.ProductID != productID {
			continue
		}
		if cur, ok := latest[obs.StoreID]; !ok || !obs.ObservedAt.Before(cur.ObservedAt) {
			st := domains[obs.StoreID]
			obs.StoreName, obs.StoreDomain = st.Name, st.Domain
			latest[obs.StoreID] = obs
		}
	}
	var prices []models.PriceObservation
	for _, obs := range latest {
		prices = append(prices, obs)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].StoreID < prices[j].StoreID })
	return prices
}

// history returns every observation of productID in insertion order.
func (m *memStore) history(productID string) []models.PriceObservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PriceObservation
	for _, obs := range m.prices {
		if obs.ProductID == productID {
			out = append(out, obs)
		}
	}
	return out
}

func (m *memStore) priceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prices)
}

type harness struct {
	orch     *Orchestrator
	store    *memStore
	cache    *cache.Gateway
	sessions *[]*sessiontest.Pages
	logs     *bytes.Buffer
}

type harnessOption func(*Deps, *Options)

func withoutStore() harnessOption {
	return func(d *Deps, _ *Options) { d.Store = nil }
}

func withCache(g *cache.Gateway) harnessOption {
	return func(d *Deps, _ *Options) { d.Cache = g }
}

func withSessions(f session.Factory) harnessOption {
	return func(d *Deps, _ *Options) { d.Sessions = f }
}

func newHarness(t *testing.T, extractors []scrapers.Extractor, opts ...harnessOption) *harness {
	t.Helper()

	var logs bytes.Buffer
	quiet := log.New(&logs, "", 0)

	limiter := ratelimit.New(60000, nil, 0)
	limiter.Jitter = func(time.Duration) time.Duration { return 0 }

	exec := retry.New(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, AttemptTimeout: 5 * time.Second}, quiet)
	exec.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	created := new([]*sessiontest.Pages)
	store := newMemStore()
	d := Deps{
		Registry: scrapers.NewRegistry(extractors...),
		Sessions: sessiontest.Factory(nil, created),
		Limiter:  limiter,
		Retry:    exec,
		Store:    store,
		Logger:   quiet,
	}
	o := DefaultOptions()
	o.Now = func() time.Time { return testNow }
	for _, opt := range opts {
		opt(&d, &o)
	}

	return &harness{
		orch:     New(d, o),
		store:    store,
		cache:    d.Cache,
		sessions: created,
		logs:     &logs,
	}
}

func (h *harness) allSessionsClosed() error {
	for i, s := range *h.sessions {
		if s.State() != session.Closed {
			return fmt.Errorf("session %d is %s", i, s.State())
		}
		if s.Closes == 0 {
			return errors.New("session never closed")
		}
	}
	return nil
}
