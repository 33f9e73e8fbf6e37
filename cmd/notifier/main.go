package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/circuitbreaker"
	"github.com/jogardn/laundry-orders/internal/config"
	"github.com/jogardn/laundry-orders/internal/events"
	"github.com/jogardn/laundry-orders/internal/notify"
	"github.com/jogardn/laundry-orders/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := config.NewLogger(cfg.LogLevel)

	if cfg.KafkaBrokers == "" {
		logger.Fatal("KAFKA_BROKERS must be set for the notifier")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, closeBackend, err := cfg.OpenBackend(ctx, cfg.StorageBackend, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}
	defer closeBackend()

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        circuitbreaker.Storage,
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
		CallTimeout: 5 * time.Second,
	}, logger)

	capacity, _ := strconv.Atoi(getEnv("NOTIFICATION_CAPACITY", "0"))
	inbox := notify.NewInbox(storage.NewGuarded(backend, breaker), capacity, logger)

	var consumer *events.KafkaConsumer
	for i := 0; i < 10; i++ {
		consumer, err = events.NewKafkaConsumer(cfg.KafkaBrokers, getEnv("CONSUMER_GROUP", "laundry-notifier"), inbox, events.DefaultRetryPolicy(), logger)
		if err == nil {
			logger.Info("Successfully connected to Kafka")
			break
		}

		logger.WithError(err).WithField("attempt", i+1).Warn("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer after retries")
	}

	go func() {
		logger.WithField("brokers", cfg.KafkaBrokers).Info("Starting Kafka consumer for order events")
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Kafka consumer error")
		}
	}()

	router := mux.NewRouter()
	notify.NewHandler(inbox, consumer, logger).Routes(router)

	port := getEnv("NOTIFIER_PORT", "8081")
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("Starting notifier")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down notifier...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server forced to shutdown")
	}

	cancel()
	if err := consumer.Close(); err != nil {
		logger.WithError(err).Error("Failed to close Kafka consumer")
	}

	logger.WithField("metrics", consumer.Metrics()).Info("Notifier gracefully stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
