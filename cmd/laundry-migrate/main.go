package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/config"
	"github.com/jogardn/laundry-orders/internal/migration"
)

func main() {
	from := flag.String("from", config.BackendFile, "source backend (memory, file, redis, postgres)")
	to := flag.String("to", config.BackendPostgres, "target backend")
	dryRun := flag.Bool("dry-run", false, "report what would be copied without writing")
	overwrite := flag.Bool("overwrite", false, "replace records that already exist in the target")
	skipUsers := flag.Bool("skip-users", false, "migrate orders only")
	report := flag.String("report", "summary", "validation report format (summary, json)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := config.NewLogger(cfg.LogLevel)

	if *from == *to {
		logger.Fatal("Source and target backends must differ")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	source, closeSource, err := cfg.OpenBackend(ctx, *from, logger)
	if err != nil {
		logger.WithError(err).WithField("backend", *from).Fatal("Failed to open source")
	}
	defer closeSource()

	target, closeTarget, err := cfg.OpenBackend(ctx, *to, logger)
	if err != nil {
		logger.WithError(err).WithField("backend", *to).Fatal("Failed to open target")
	}
	defer closeTarget()

	migrator := migration.NewMigrator(source, target, logger)
	migrator.SetConfig(migration.Config{
		DryRun:       *dryRun,
		SkipExisting: !*overwrite,
		IncludeUsers: !*skipUsers,
	})

	result, err := migrator.Migrate(ctx)
	if err != nil {
		logger.WithError(err).Error("Migration failed")
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{
		"orders": result.Orders,
		"users":  result.Users,
	}).Info("Migration finished")

	validation, err := migrator.Validate(ctx)
	if err != nil {
		logger.WithError(err).Error("Validation failed")
		os.Exit(1)
	}

	out, err := migrator.Report(validation.Comparison, *report)
	if err != nil {
		logger.WithError(err).Error("Failed to render report")
		os.Exit(1)
	}
	fmt.Println(string(out))

	if !validation.IsValid && !*dryRun {
		os.Exit(2)
	}
}
