package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/config"
	"github.com/jogardn/laundry-orders/internal/events"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := config.NewLogger(cfg.LogLevel)

	brokers := cfg.KafkaBrokers
	if brokers == "" {
		brokers = "localhost:9092"
	}

	maxReplays, err := strconv.Atoi(getEnv("MAX_REPLAYS", "3"))
	if err != nil {
		logger.WithError(err).Fatal("Invalid MAX_REPLAYS")
	}
	delay, err := time.ParseDuration(getEnv("REPLAY_DELAY", "5s"))
	if err != nil {
		logger.WithError(err).Fatal("Invalid REPLAY_DELAY")
	}

	producer, err := events.NewSyncProducer(brokers)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create replay producer")
	}
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replayer := events.NewReplayer(producer, maxReplays, delay, logger)
	go func() {
		if err := events.RunReplayer(ctx, brokers, replayer, logger); err != nil {
			logger.WithError(err).Error("DLQ replayer stopped")
			cancel()
		}
	}()

	logger.WithFields(logrus.Fields{
		"topics":      events.DLQTopics(),
		"max_replays": maxReplays,
		"delay":       delay.String(),
	}).Info("DLQ replayer started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("Shutting down DLQ replayer...")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
