// Package api exposes the price search engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"price-scout/pkg/cache"
	"price-scout/pkg/hunter"
	"price-scout/pkg/logger"
	"price-scout/pkg/models"
	"price-scout/pkg/scrapers"
)

// Service is the part of the orchestrator the handlers call.
type Service interface {
	IntelligentSearch(ctx context.Context, req hunter.SearchRequest) (*hunter.SearchResult, error)
	FetchDetail(ctx context.Context, storeID, productURL string) (*models.Offer, error)
	Compare(ctx context.Context, name string) (*hunter.Comparison, error)
	RefreshProduct(ctx context.Context, productID string) (*hunter.RefreshResult, error)
	ScrapeQueries(ctx context.Context, storeID string, queries []string, maxResults int) (*hunter.BatchResult, error)
	CacheStats(ctx context.Context) (cache.Stats, error)
	ClearCache(ctx context.Context) (int64, error)
	Stores() []scrapers.StoreInfo
}

type Handler struct {
	svc      Service
	validate *validator.Validate
	deadline time.Duration
	log      *log.Logger
}

// NewHandler returns handlers that give every scraping request at most
// deadline to complete. A non-positive deadline leaves requests unbounded.
func NewHandler(svc Service, deadline time.Duration, l *log.Logger) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
		deadline: deadline,
		log:      logger.OrDefault(l),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/search", h.Search)
	r.Post("/products/detail", h.Detail)
	r.Get("/compare", h.Compare)
	r.Get("/stores", h.Stores)
	r.Post("/stores/{store}/batch", h.Batch)
	r.Post("/products/{id}/refresh", h.Refresh)
	r.Get("/cache/stats", h.CacheStats)
	r.Post("/cache/clear", h.ClearCache)
}

type SearchInput struct {
	Query       string   `json:"query" validate:"required,max=200"`
	Stores      []string `json:"stores" validate:"required,min=1,dive,required"`
	MaxResults  int      `json:"max_results" validate:"omitempty,min=1,max=50"`
	ForceScrape bool     `json:"force_scrape"`
}

type DetailInput struct {
	Store string `json:"store" validate:"required"`
	URL   string `json:"url" validate:"required,url"`
}

type BatchInput struct {
	Queries    []string `json:"queries" validate:"required,min=1,max=20,dive,required,max=200"`
	MaxResults int      `json:"max_results" validate:"omitempty,min=1,max=50"`
}

type StoresResponse struct {
	Stores []scrapers.StoreInfo `json:"stores"`
}

type ClearCacheResponse struct {
	Cleared int64 `json:"cleared"`
}

// withDeadline bounds a request that runs n scrapes one after another.
func (h *Handler) withDeadline(r *http.Request, n int) (context.Context, context.CancelFunc) {
	if h.deadline <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.deadline*time.Duration(max(n, 1)))
}

// decode reads a JSON body into dst and validates it. On failure the
// problem response has been written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteBadRequest(w, "Invalid JSON body: "+err.Error(), r.URL.Path)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		WriteBadRequest(w, "Validation failed: "+err.Error(), r.URL.Path)
		return false
	}
	return true
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var in SearchInput
	if !h.decode(w, r, &in) {
		return
	}

	ctx, cancel := h.withDeadline(r, 1)
	defer cancel()

	result, err := h.svc.IntelligentSearch(ctx, hunter.SearchRequest{
		Query:              in.Query,
		Stores:             in.Stores,
		MaxResultsPerStore: in.MaxResults,
		ForceScrape:        in.ForceScrape,
	})
	if err != nil {
		h.log.Printf("Error searching %q: %v", in.Query, err)
		WriteServiceError(w, err, r.URL.Path)
		return
	}
	h.respond(w, r, result)
}

func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	var in DetailInput
	if !h.decode(w, r, &in) {
		return
	}

	ctx, cancel := h.withDeadline(r, 1)
	defer cancel()

	offer, err := h.svc.FetchDetail(ctx, strings.ToLower(in.Store), in.URL)
	if err != nil {
		h.log.Printf("Error fetching %s %s: %v", in.Store, in.URL, err)
		WriteServiceError(w, err, r.URL.Path)
		return
	}
	h.respond(w, r, offer)
}

func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		WriteBadRequest(w, "Query parameter 'name' is required", r.URL.Path)
		return
	}

	cmp, err := h.svc.Compare(r.Context(), name)
	if err != nil {
		h.log.Printf("Error comparing %q: %v", name, err)
		WriteServiceError(w, err, r.URL.Path)
		return
	}
	h.respond(w, r, cmp)
}

func (h *Handler) Stores(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, StoresResponse{Stores: h.svc.Stores()})
}

// Batch scrapes one store for several queries. Per-query failures are
// part of the response body.
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	storeID := strings.ToLower(chi.URLParam(r, "store"))
	var in BatchInput
	if !h.decode(w, r, &in) {
		return
	}

	ctx, cancel := h.withDeadline(r, len(in.Queries))
	defer cancel()

	result, err := h.svc.ScrapeQueries(ctx, storeID, in.Queries, in.MaxResults)
	if err != nil {
		h.log.Printf("Error batch scraping %s: %v", storeID, err)
		WriteServiceError(w, err, r.URL.Path)
		return
	}
	h.respond(w, r, result)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := h.withDeadline(r, 1)
	defer cancel()

	result, err := h.svc.RefreshProduct(ctx, id)
	if err != nil {
		h.log.Printf("Error refreshing product %s: %v", id, err)
		WriteServiceError(w, err, r.URL.Path)
		return
	}
	h.respond(w, r, result)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.CacheStats(r.Context())
	if err != nil {
		h.log.Printf("Error reading cache stats: %v", err)
		WriteServiceError(w, err, r.URL.Path)
		return
	}
	h.respond(w, r, stats)
}

func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ClearCache(r.Context())
	if err != nil {
		h.log.Printf("Error clearing cache: %v", err)
		WriteServiceError(w, err, r.URL.Path)
		return
	}
	h.respond(w, r, ClearCacheResponse{Cleared: n})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Printf("Error encoding response for %s: %v", r.URL.Path, err)
	}
}
