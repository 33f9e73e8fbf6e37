package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jogardn/laundry-orders/internal/storage"
	"github.com/jogardn/laundry-orders/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func order(id string, status models.OrderStatus) models.Order {
	return models.Order{
		ID:          id,
		UserID:      "u1",
		Status:      status,
		TotalAmount: decimal.NewFromInt(100),
		Items:       []models.OrderItem{{ItemID: "1", Quantity: 1}},
	}
}

func seed(t *testing.T, backend storage.Backend, orders []models.Order, users []models.User) {
	t.Helper()
	ctx := context.Background()
	if orders != nil {
		require.NoError(t, storage.Save(ctx, backend, storage.OrdersKey, orders))
	}
	if users != nil {
		require.NoError(t, storage.Save(ctx, backend, storage.UsersKey, users))
	}
}

func loadOrders(t *testing.T, backend storage.Backend) []models.Order {
	t.Helper()
	return storage.Load[models.Order](context.Background(), backend, storage.OrdersKey, testLogger())
}

func TestMigrateCopiesIntoEmptyTarget(t *testing.T) {
	source, target := storage.NewMemory(), storage.NewMemory()
	seed(t, source,
		[]models.Order{order("ORD-1", models.StatusPlaced), order("ORD-2", models.StatusReady)},
		[]models.User{{ID: "u1", Email: "priya@example.com", Role: models.RoleCustomer}})

	m := NewMigrator(source, target, testLogger())
	result, err := m.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Orders.Copied)
	assert.Equal(t, 1, result.Users.Copied)

	copied := loadOrders(t, target)
	require.Len(t, copied, 2)
	assert.Equal(t, "ORD-1", copied[0].ID)
	assert.Equal(t, "ORD-2", copied[1].ID)

	validation, err := m.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, validation.IsValid)
}

func TestMigrateSkipsOrReplacesExisting(t *testing.T) {
	source, target := storage.NewMemory(), storage.NewMemory()
	seed(t, source, []models.Order{order("ORD-1", models.StatusReady), order("ORD-2", models.StatusPlaced)}, nil)
	seed(t, target, []models.Order{order("ORD-0", models.StatusPlaced), order("ORD-1", models.StatusPlaced)}, nil)

	m := NewMigrator(source, target, testLogger())
	result, err := m.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CollectionResult{Source: 2, Copied: 1, Skipped: 1}, result.Orders)

	validation, err := m.Validate(context.Background())
	require.NoError(t, err)
	assert.False(t, validation.IsValid)
	assert.Equal(t, []string{"ORD-0"}, validation.Comparison.Analysis.MissingInSource)

	m.SetConfig(Config{SkipExisting: false})
	result, err = m.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CollectionResult{Source: 2, Replaced: 2}, result.Orders)

	merged := loadOrders(t, target)
	require.Len(t, merged, 3)
	assert.Equal(t, []string{"ORD-0", "ORD-1", "ORD-2"}, []string{merged[0].ID, merged[1].ID, merged[2].ID})
	assert.Equal(t, models.StatusReady, merged[1].Status)

	validation, err = m.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, validation.IsValid)
}

func TestMigrateDryRunLeavesTargetUntouched(t *testing.T) {
	source, target := storage.NewMemory(), storage.NewMemory()
	seed(t, source, []models.Order{order("ORD-1", models.StatusPlaced)}, nil)

	m := NewMigrator(source, target, testLogger())
	m.SetConfig(Config{DryRun: true, SkipExisting: true})
	result, err := m.Migrate(context.Background())
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Orders.Copied)
	assert.Empty(t, loadOrders(t, target))
}

type failingBackend struct{}

func (failingBackend) ReadAll(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (failingBackend) WriteAll(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func TestMigrateRefusesUnreadableSource(t *testing.T) {
	target := storage.NewMemory()
	seed(t, target, []models.Order{order("ORD-1", models.StatusPlaced)}, nil)

	m := NewMigrator(failingBackend{}, target, testLogger())
	_, err := m.Migrate(context.Background())
	require.Error(t, err)
	assert.Len(t, loadOrders(t, target), 1)
}

func TestMigrateRefusesCorruptTarget(t *testing.T) {
	source, target := storage.NewMemory(), storage.NewMemory()
	seed(t, source, []models.Order{order("ORD-1", models.StatusPlaced)}, nil)
	require.NoError(t, target.WriteAll(context.Background(), storage.OrdersKey, []byte("{not json")))

	m := NewMigrator(source, target, testLogger())
	m.SetConfig(Config{SkipExisting: true})
	_, err := m.Migrate(context.Background())
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	source, target := storage.NewMemory(), storage.NewMemory()
	seed(t, source, []models.Order{order("ORD-1", models.StatusPlaced)}, nil)

	m := NewMigrator(source, target, testLogger())
	validation, err := m.Validate(context.Background())
	require.NoError(t, err)

	report, err := m.Report(validation.Comparison, "summary")
	require.NoError(t, err)
	assert.Contains(t, string(report), "Missing in target: 1")
}
