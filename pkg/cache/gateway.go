package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"price-scout/pkg/logger"
)

const KeyPrefix = "price-scout"

type Namespace string

const (
	// Product holds offers keyed by product URL.
	Product Namespace = "product"
	// Search holds a store's results keyed by SearchKey.
	Search Namespace = "search"
	// Store holds store ids keyed by domain.
	Store Namespace = "store"
)

var namespaces = []Namespace{Product, Search, Store}

// TTLPolicy sets the lifetime of entries per namespace.
type TTLPolicy struct {
	Product time.Duration
	Search  time.Duration
	Store   time.Duration
}

func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Product: 24 * time.Hour,
		Search:  10 * time.Minute,
		Store:   24 * time.Hour,
	}
}

func (p TTLPolicy) For(ns Namespace) time.Duration {
	switch ns {
	case Product:
		return p.Product
	case Search:
		return p.Search
	case Store:
		return p.Store
	}
	return p.Search
}

// Gateway stores JSON values in a Backend. Backend failures are logged and
// reported as misses; callers never see them.
type Gateway struct {
	backend Backend
	ttl     TTLPolicy
	logger  *log.Logger
	hits    *logger.Deduper
}

// NewGateway wraps backend. A nil backend yields a gateway that never hits.
func NewGateway(backend Backend, ttl TTLPolicy, l *log.Logger) *Gateway {
	l = logger.OrDefault(l)
	return &Gateway{
		backend: backend,
		ttl:     ttl,
		logger:  l,
		hits:    logger.NewDeduper(l, logger.DefaultFlushDelay),
	}
}

func Key(ns Namespace, key string) string {
	return KeyPrefix + ":" + string(ns) + ":" + key
}

// SearchKey identifies one store's results for a query, ignoring case.
func SearchKey(storeID, query string) string {
	return strings.ToLower(storeID) + ":" + strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Get decodes the entry into dst and reports whether it was found.
func (g *Gateway) Get(ctx context.Context, ns Namespace, key string, dst any) bool {
	if g == nil || g.backend == nil {
		return false
	}
	k := Key(ns, key)
	raw, err := g.backend.Get(ctx, k)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			g.logger.Printf("[CACHE] get %s failed: %v", k, err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		g.logger.Printf("[CACHE] failed to unmarshal %s: %v", k, err)
		return false
	}
	g.hits.Printf("[CACHE] hit %s", k)
	return true
}

func (g *Gateway) Set(ctx context.Context, ns Namespace, key string, v any) {
	if g == nil || g.backend == nil {
		return
	}
	k := Key(ns, key)
	raw, err := json.Marshal(v)
	if err != nil {
		g.logger.Printf("[CACHE] failed to marshal %s: %v", k, err)
		return
	}
	if err := g.backend.Set(ctx, k, raw, g.ttl.For(ns)); err != nil {
		g.logger.Printf("[CACHE] set %s failed: %v", k, err)
	}
}

func (g *Gateway) Invalidate(ctx context.Context, ns Namespace, key string) {
	if g == nil || g.backend == nil {
		return
	}
	k := Key(ns, key)
	if err := g.backend.Delete(ctx, k); err != nil {
		g.logger.Printf("[CACHE] delete %s failed: %v", k, err)
	}
}

// Stats counts the live entries per namespace.
type Stats struct {
	Enabled     bool  `json:"enabled"`
	TotalKeys   int64 `json:"total_keys"`
	ProductKeys int64 `json:"product_keys"`
	SearchKeys  int64 `json:"search_keys"`
	StoreKeys   int64 `json:"store_keys"`
}

// Stats reports entry counts. Unlike lookups, backend failures are returned.
func (g *Gateway) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if g == nil || g.backend == nil {
		return st, nil
	}
	st.Enabled = true
	for _, ns := range namespaces {
		n, err := g.backend.Count(ctx, Key(ns, ""))
		if err != nil {
			return Stats{}, fmt.Errorf("cache stats %s: %w", ns, err)
		}
		switch ns {
		case Product:
			st.ProductKeys = n
		case Search:
			st.SearchKeys = n
		case Store:
			st.StoreKeys = n
		}
		st.TotalKeys += n
	}
	return st, nil
}

// Clear removes every entry written by any gateway and reports how many
// were dropped.
func (g *Gateway) Clear(ctx context.Context) (int64, error) {
	if g == nil || g.backend == nil {
		return 0, nil
	}
	n, err := g.backend.DeletePrefix(ctx, KeyPrefix+":")
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	g.logger.Printf("[CACHE] cleared %d entries", n)
	return n, nil
}

func (g *Gateway) Close() error {
	if g == nil || g.backend == nil {
		return nil
	}
	g.hits.Flush()
	return g.backend.Close()
}
