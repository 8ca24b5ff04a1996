package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"price-scout/pkg/api"
	"price-scout/pkg/cache"
	"price-scout/pkg/config"
	"price-scout/pkg/hunter"
	"price-scout/pkg/models"
	"price-scout/pkg/scrapers"
)

// rejectingService fails every lookup the way the orchestrator does for
// stores it does not know.
type rejectingService struct{}

func (rejectingService) IntelligentSearch(context.Context, hunter.SearchRequest) (*hunter.SearchResult, error) {
	return nil, models.ErrNoStores
}

func (rejectingService) FetchDetail(context.Context, string, string) (*models.Offer, error) {
	return nil, models.ErrUnsupportedStore
}

func (rejectingService) Compare(context.Context, string) (*hunter.Comparison, error) {
	return nil, models.ErrProductNotFound
}

func (rejectingService) RefreshProduct(context.Context, string) (*hunter.RefreshResult, error) {
	return nil, models.ErrProductNotFound
}

func (rejectingService) ScrapeQueries(context.Context, string, []string, int) (*hunter.BatchResult, error) {
	return nil, models.ErrUnsupportedStore
}

func (rejectingService) CacheStats(context.Context) (cache.Stats, error) { return cache.Stats{}, nil }

func (rejectingService) ClearCache(context.Context) (int64, error) { return 0, nil }

func (rejectingService) Stores() []scrapers.StoreInfo { return nil }

func TestRouter(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
		expectedDetail string
	}{
		{
			name:           "Unknown path",
			method:         http.MethodGet,
			path:           "/stores/spar/products/123",
			expectedStatus: http.StatusNotFound,
			expectedDetail: "Unknown path",
		},
		{
			name:           "Wrong method",
			method:         http.MethodGet,
			path:           "/search",
			expectedStatus: http.StatusMethodNotAllowed,
			expectedDetail: "Method GET is not allowed",
		},
		{
			name:           "Invalid search body",
			method:         http.MethodPost,
			path:           "/search",
			body:           `[]`,
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "Invalid JSON body",
		},
		{
			name:           "Unsupported store",
			method:         http.MethodPost,
			path:           "/products/detail",
			body:           `{"store":"billa","url":"https://shop.billa.at/produkte/1"}`,
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "store not supported",
		},
		{
			name:           "Batch for unsupported store",
			method:         http.MethodPost,
			path:           "/stores/billa/batch",
			body:           `{"queries":["milch"]}`,
			expectedStatus: http.StatusBadRequest,
			expectedDetail: "store not supported",
		},
		{
			name:           "Refresh unknown product",
			method:         http.MethodPost,
			path:           "/products/p-404/refresh",
			expectedStatus: http.StatusNotFound,
			expectedDetail: "product not found",
		},
		{
			name:           "Compare without match",
			method:         http.MethodGet,
			path:           "/compare?name=theremin",
			expectedStatus: http.StatusNotFound,
			expectedDetail: "product not found",
		},
	}

	router := newRouter(api.NewHandler(rejectingService{}, time.Second, log.New(io.Discard, "", 0)))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if status := rr.Code; status != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v",
					status, tt.expectedStatus)
			}

			// Check Content-Type
			expectedContentType := "application/problem+json"
			if contentType := rr.Header().Get("Content-Type"); contentType != expectedContentType {
				t.Errorf("handler returned wrong content type: got %v want %v",
					contentType, expectedContentType)
			}

			// Check JSON Body
			var pd api.ProblemDetails
			if err := json.Unmarshal(rr.Body.Bytes(), &pd); err != nil {
				t.Errorf("handler returned invalid JSON: %v. Body: %s", err, rr.Body.String())
			}

			if pd.Status != tt.expectedStatus {
				t.Errorf("JSON status mismatch: got %v want %v", pd.Status, tt.expectedStatus)
			}
			if pd.Type != "about:blank" {
				t.Errorf("JSON type mismatch: got %v want about:blank", pd.Type)
			}
			if !strings.Contains(pd.Detail, tt.expectedDetail) {
				t.Errorf("JSON detail mismatch: got %q, want substring %q", pd.Detail, tt.expectedDetail)
			}
			if want := strings.SplitN(tt.path, "?", 2)[0]; pd.Instance != want {
				t.Errorf("JSON instance mismatch: got %v want %v", pd.Instance, want)
			}
		})
	}
}

func TestOpenCacheDisabled(t *testing.T) {
	backend, err := openCache(context.Background(), config.CacheConfig{Backend: config.CacheNone})
	if err != nil {
		t.Fatal(err)
	}
	if backend != nil {
		t.Errorf("expected no backend, got %T", backend)
	}
}
