package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/comparison"
	"github.com/jogardn/laundry-orders/internal/storage"
	"github.com/jogardn/laundry-orders/pkg/models"
)

// Migrator copies the users and orders collections from one storage backend
// to another, e.g. when moving from the file backend to Postgres.
type Migrator struct {
	source   storage.Backend
	target   storage.Backend
	analyzer *comparison.Analyzer
	logger   *logrus.Logger
	config   Config
}

type Config struct {
	DryRun bool `json:"dry_run"`
	// SkipExisting keeps records already in the target; otherwise the source
	// copy replaces them.
	SkipExisting bool `json:"skip_existing"`
	IncludeUsers bool `json:"include_users"`
}

type Result struct {
	Orders         CollectionResult `json:"orders"`
	Users          CollectionResult `json:"users"`
	ProcessingTime time.Duration    `json:"processing_time"`
	DryRun         bool             `json:"dry_run"`
	Timestamp      time.Time        `json:"timestamp"`
}

type CollectionResult struct {
	Source   int `json:"source"`
	Copied   int `json:"copied"`
	Replaced int `json:"replaced"`
	Skipped  int `json:"skipped"`
}

func NewMigrator(source, target storage.Backend, logger *logrus.Logger) *Migrator {
	return &Migrator{
		source:   source,
		target:   target,
		analyzer: comparison.NewAnalyzer(logger),
		logger:   logger,
		config: Config{
			SkipExisting: true,
			IncludeUsers: true,
		},
	}
}

func (m *Migrator) SetConfig(config Config) {
	m.config = config
	m.logger.WithFields(logrus.Fields{
		"dry_run":       config.DryRun,
		"skip_existing": config.SkipExisting,
		"include_users": config.IncludeUsers,
	}).Info("Migration configuration updated")
}

// readStrict decodes a collection and, unlike storage.Load, fails on a read
// error or corrupt data so a broken source can never wipe the target.
func readStrict[T any](ctx context.Context, backend storage.Backend, key string) ([]T, error) {
	data, err := backend.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	items := []T{}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return items, nil
}

// merge folds source into target by id. Target order is preserved and new
// records are appended in source order.
func merge[T any](target, source []T, id func(T) string, skipExisting bool) ([]T, CollectionResult) {
	result := CollectionResult{Source: len(source)}
	position := make(map[string]int, len(target))
	merged := make([]T, len(target), len(target)+len(source))
	copy(merged, target)
	for i, item := range merged {
		position[id(item)] = i
	}

	for _, item := range source {
		if i, exists := position[id(item)]; exists {
			if skipExisting {
				result.Skipped++
				continue
			}
			merged[i] = item
			result.Replaced++
			continue
		}
		position[id(item)] = len(merged)
		merged = append(merged, item)
		result.Copied++
	}
	return merged, result
}

func migrateCollection[T any](ctx context.Context, m *Migrator, key string, id func(T) string) (CollectionResult, error) {
	source, err := readStrict[T](ctx, m.source, key)
	if err != nil {
		return CollectionResult{}, fmt.Errorf("source: %w", err)
	}
	target, err := readStrict[T](ctx, m.target, key)
	if err != nil {
		return CollectionResult{}, fmt.Errorf("target: %w", err)
	}

	merged, result := merge(target, source, id, m.config.SkipExisting)

	log := m.logger.WithFields(logrus.Fields{
		"collection": key,
		"source":     result.Source,
		"copied":     result.Copied,
		"replaced":   result.Replaced,
		"skipped":    result.Skipped,
	})
	if m.config.DryRun {
		log.Info("DRY RUN: collection not written")
		return result, nil
	}
	if result.Copied == 0 && result.Replaced == 0 {
		log.Info("Collection already up to date")
		return result, nil
	}
	if err := storage.Save(ctx, m.target, key, merged); err != nil {
		return result, err
	}
	log.Info("Collection migrated")
	return result, nil
}

func (m *Migrator) Migrate(ctx context.Context) (*Result, error) {
	start := time.Now()
	m.logger.Info("Starting storage migration")

	result := &Result{DryRun: m.config.DryRun, Timestamp: start.UTC()}

	var err error
	if m.config.IncludeUsers {
		result.Users, err = migrateCollection(ctx, m, storage.UsersKey, func(u models.User) string { return u.ID })
		if err != nil {
			return nil, fmt.Errorf("failed to migrate users: %w", err)
		}
	}
	result.Orders, err = migrateCollection(ctx, m, storage.OrdersKey, func(o models.Order) string { return o.ID })
	if err != nil {
		return nil, fmt.Errorf("failed to migrate orders: %w", err)
	}

	result.ProcessingTime = time.Since(start)
	m.logger.WithFields(logrus.Fields{
		"orders_copied": result.Orders.Copied,
		"users_copied":  result.Users.Copied,
		"duration":      result.ProcessingTime,
	}).Info("Migration completed")
	return result, nil
}

type ValidationResult struct {
	Comparison *comparison.Result `json:"comparison"`
	IsValid    bool               `json:"is_valid"`
}

// Validate compares the order collections of both backends. The target is
// valid when it holds every source order unchanged.
func (m *Migrator) Validate(ctx context.Context) (*ValidationResult, error) {
	m.logger.Info("Starting post-migration validation")

	source, err := readStrict[models.Order](ctx, m.source, storage.OrdersKey)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	target, err := readStrict[models.Order](ctx, m.target, storage.OrdersKey)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	result := m.analyzer.Compare(source, target)
	validation := &ValidationResult{
		Comparison: result,
		IsValid:    len(result.Analysis.MissingInTarget) == 0 && len(result.Analysis.Mismatches) == 0,
	}

	m.logger.WithFields(logrus.Fields{
		"sync_percentage":   result.Analysis.SyncPercentage,
		"missing_in_target": len(result.Analysis.MissingInTarget),
		"validation_passed": validation.IsValid,
	}).Info("Migration validation completed")
	return validation, nil
}

func (m *Migrator) Report(result *comparison.Result, format string) ([]byte, error) {
	return m.analyzer.GenerateReport(result, format)
}
