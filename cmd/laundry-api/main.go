package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/auth"
	"github.com/jogardn/laundry-orders/internal/cart"
	"github.com/jogardn/laundry-orders/internal/catalog"
	"github.com/jogardn/laundry-orders/internal/circuitbreaker"
	"github.com/jogardn/laundry-orders/internal/config"
	"github.com/jogardn/laundry-orders/internal/events"
	"github.com/jogardn/laundry-orders/internal/orders"
	"github.com/jogardn/laundry-orders/internal/storage"
	"github.com/jogardn/laundry-orders/internal/websocket"
	"github.com/jogardn/laundry-orders/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := config.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	breakers := circuitbreaker.NewManager(logger)
	storageBreaker := breakers.GetOrCreate(circuitbreaker.Storage, circuitbreaker.Config{
		MaxFailures:      5,
		OpenTimeout:      30 * time.Second,
		CallTimeout:      5 * time.Second,
		HalfOpenRequests: 1,
	})

	backend, closeBackend, err := cfg.OpenBackend(ctx, cfg.StorageBackend, logger)
	if err != nil {
		logger.WithError(err).WithField("backend", cfg.StorageBackend).Fatal("Failed to open storage")
	}
	defer closeBackend()
	guarded := storage.NewGuarded(backend, storageBreaker)
	logger.WithField("backend", cfg.StorageBackend).Info("Storage ready")

	prices := catalog.Default()
	if cfg.CatalogFile != "" {
		if prices, err = catalog.LoadFile(cfg.CatalogFile); err != nil {
			logger.WithError(err).WithField("file", cfg.CatalogFile).Fatal("Failed to load pricing catalog")
		}
	}
	logger.WithField("items", len(prices.All())).Info("Pricing catalog loaded")

	serverMetrics := metrics.NewServerMetrics(prometheus.DefaultRegisterer)

	carts := cart.NewRegistry()
	carts.OnEvent(func(_ string, e cart.Event) {
		serverMetrics.CartEvent(string(e.Kind))
	})

	wsHub := websocket.NewHub(logger)
	go wsHub.Run(ctx)

	store := orders.NewStore(guarded, logger)
	store.AddListener(wsHub)
	store.AddListener(serverMetrics)

	if cfg.KafkaBrokers != "" {
		eventsBreaker := breakers.GetOrCreate(circuitbreaker.Events, circuitbreaker.Config{
			MaxFailures:      3,
			OpenTimeout:      15 * time.Second,
			CallTimeout:      5 * time.Second,
			HalfOpenRequests: 1,
		})
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, eventsBreaker, logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka unavailable, order events will not be published")
		} else {
			defer producer.Close()
			store.AddListener(producer)
			logger.WithField("brokers", cfg.KafkaBrokers).Info("Publishing order events to Kafka")
		}
	} else {
		logger.Info("KAFKA_BROKERS not set, order events disabled")
	}

	authenticator := auth.NewAuthenticator(guarded, logger)
	sessions := auth.NewSessions()
	service := orders.NewService(store, carts, authenticator, logger)

	handler := orders.NewHandler(prices, authenticator, sessions, service, logger)
	handler.SetWebSocketHub(wsHub)
	handler.SetBreakers(breakers)

	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	handler.Routes(router)

	router.Use(loggingMiddleware(logger))
	router.Use(timeoutMiddleware(cfg.RequestTimeout, "/ws"))
	router.Use(sessions.Middleware())
	router.Use(serverMetrics.Middleware())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsMiddleware()(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Starting laundry API")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Debug("Request received")

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}

// timeoutMiddleware bounds the request context. Long-lived paths such as the
// websocket endpoint are left alone.
func timeoutMiddleware(timeout time.Duration, skip ...string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range skip {
				if r.URL.Path == path {
					next.ServeHTTP(w, r)
					return
				}
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func corsMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+orders.IdempotencyHeader)

			// Preflight never reaches the router.
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
