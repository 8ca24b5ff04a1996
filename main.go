package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	scalargo "github.com/bdpiprava/scalar-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"price-scout/pkg/api"
	"price-scout/pkg/cache"
	"price-scout/pkg/config"
	"price-scout/pkg/hunter"
	"price-scout/pkg/logger"
	"price-scout/pkg/ratelimit"
	"price-scout/pkg/retry"
	"price-scout/pkg/scrapers"
	"price-scout/pkg/scrapers/amazon"
	"price-scout/pkg/scrapers/thomann"
	"price-scout/pkg/session"
	"price-scout/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLog := logger.New("App")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		appLog.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	prices := store.NewPostgresStore(db)
	if err := prices.EnsureSchema(ctx); err != nil {
		appLog.Fatalf("Failed to prepare schema: %v", err)
	}

	backend, err := openCache(ctx, cfg.Cache)
	if err != nil {
		appLog.Fatalf("Failed to initialize cache: %v", err)
	}
	productCache := cache.NewGateway(backend, cfg.Cache.TTLPolicy(), logger.New("CACHE"))
	defer productCache.Close()
	appLog.Printf("Cache backend %s with product TTL %s", cfg.Cache.Backend, cfg.Cache.TTL())

	sessions, err := session.NewFactory(cfg.Scraper.Session())
	if err != nil {
		appLog.Fatalf("Failed to configure browser sessions: %v", err)
	}

	registry := scrapers.NewRegistry(amazon.NewScraper(), thomann.NewScraper())
	limiter := ratelimit.New(cfg.RateLimit.DefaultRPM, config.RateLimitOverrides(registry.IDs()), cfg.RateLimit.Jitter)

	orch := hunter.New(hunter.Deps{
		Registry: registry,
		Sessions: sessions,
		Limiter:  limiter,
		Retry:    retry.New(cfg.Scraper.RetryPolicy(), logger.New("RETRY")),
		Store:    prices,
		Cache:    productCache,
		Logger:   logger.New("HUNTER"),
	}, cfg.HunterOptions())

	handler := api.NewHandler(orch, cfg.Search.Deadline, logger.New("API"))

	port := cfg.HTTP.Port
	ip := GetOutboundIP()
	if ip != nil {
		fmt.Printf("Local Network URL: http://%s:%s\n", ip.String(), port)
	} else {
		fmt.Println("Could not determine local IP address.")
	}
	fmt.Printf("Access URL: http://localhost:%s\n", port)
	fmt.Printf("API Docs: http://localhost:%s/\n", port)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(handler),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	appLog.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Printf("Graceful shutdown failed: %v", err)
	}
}

// openCache returns the configured cache backend, or nil when caching is
// disabled.
func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Backend, error) {
	switch cfg.Backend {
	case config.CacheRedis:
		r, err := cache.NewRedisFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return r, nil
	case config.CacheSQLite:
		s, err := cache.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

func newRouter(h *api.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	h.RegisterRoutes(r)
	r.Get("/", rootHandler)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.WriteNotFound(w, "Unknown path. See the API docs at /", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "Method "+r.Method+" is not allowed here", r.URL.Path)
	})
	return r
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	// Serve Scalar docs on root path
	html, err := scalargo.NewV2(
		scalargo.WithSpecDir("./"),
		scalargo.WithMetaDataOpts(
			scalargo.WithTitle("Price Scout API"),
		),
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func GetOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		addrs, _ := net.InterfaceAddrs()
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					return ipnet.IP
				}
			}
		}
		return nil
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP
}
