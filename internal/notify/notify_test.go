package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jogardn/laundry-orders/internal/events"
	"github.com/jogardn/laundry-orders/internal/storage"
	"github.com/jogardn/laundry-orders/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type brokenBackend struct{}

func (brokenBackend) ReadAll(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk gone")
}

func (brokenBackend) WriteAll(context.Context, string, []byte) error {
	return errors.New("disk gone")
}

func placed(orderID, userID string) events.OrderPlacedEvent {
	return events.OrderPlacedEvent{
		OrderID:      orderID,
		UserID:       userID,
		TotalAmount:  decimal.NewFromInt(230),
		PickupDate:   "2024-03-10",
		PickupSlot:   models.PickupSlots[0],
		DeliveryDate: "2024-03-12",
	}
}

func TestInboxRecordsPlacedAndStatusNotifications(t *testing.T) {
	inbox := NewInbox(storage.NewMemory(), 0, testLogger())
	ctx := context.Background()

	require.NoError(t, inbox.HandleOrderPlaced(ctx, placed("ORD-1", "u1")))
	require.NoError(t, inbox.HandleStatusChanged(ctx, events.StatusChangedEvent{
		OrderID: "ORD-1", UserID: "u1", From: models.StatusProcessing, To: models.StatusReady,
	}))
	require.NoError(t, inbox.HandleOrderPlaced(ctx, placed("ORD-2", "u2")))

	mine := inbox.For(ctx, "u1")
	require.Len(t, mine, 2)
	assert.Equal(t, "Order ORD-1 is now Ready for delivery.", mine[0].Message)
	assert.Equal(t, models.StatusReady, mine[0].Status)
	assert.Contains(t, mine[1].Message, "delivery by 2024-03-12")
	assert.Contains(t, mine[1].Message, "Total 230.00")

	assert.Len(t, inbox.For(ctx, "u2"), 1)
	assert.Empty(t, inbox.For(ctx, "nobody"))
}

func TestInboxIgnoresRedelivery(t *testing.T) {
	inbox := NewInbox(storage.NewMemory(), 0, testLogger())
	ctx := context.Background()

	require.NoError(t, inbox.HandleOrderPlaced(ctx, placed("ORD-1", "u1")))
	require.NoError(t, inbox.HandleOrderPlaced(ctx, placed("ORD-1", "u1")))
	assert.Len(t, inbox.For(ctx, "u1"), 1)
}

func TestInboxDropsOldestBeyondCapacity(t *testing.T) {
	inbox := NewInbox(storage.NewMemory(), 2, testLogger())
	ctx := context.Background()

	for _, id := range []string{"ORD-1", "ORD-2", "ORD-3"} {
		require.NoError(t, inbox.HandleOrderPlaced(ctx, placed(id, "u1")))
	}
	kept := inbox.For(ctx, "u1")
	require.Len(t, kept, 2)
	assert.Equal(t, "ORD-3", kept[0].OrderID)
	assert.Equal(t, "ORD-2", kept[1].OrderID)
}

func TestInboxRejectsIncompleteEventsPermanently(t *testing.T) {
	inbox := NewInbox(storage.NewMemory(), 0, testLogger())
	ctx := context.Background()

	err := inbox.HandleOrderPlaced(ctx, placed("", "u1"))
	assert.ErrorIs(t, err, events.ErrPermanent)

	err = inbox.HandleStatusChanged(ctx, events.StatusChangedEvent{OrderID: "ORD-1", UserID: "u1"})
	assert.ErrorIs(t, err, events.ErrPermanent)
}

func TestInboxStorageFailureIsRetryable(t *testing.T) {
	inbox := NewInbox(brokenBackend{}, 0, testLogger())

	err := inbox.HandleOrderPlaced(context.Background(), placed("ORD-1", "u1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrPersistence)
	assert.NotErrorIs(t, err, events.ErrPermanent)
}

func TestStatusMessages(t *testing.T) {
	event := events.StatusChangedEvent{OrderID: "ORD-9"}

	event.To = models.StatusProcessing
	assert.Equal(t, "Order ORD-9 is now Processing.", StatusMessage(event))
	event.To = models.StatusCancelled
	assert.Equal(t, "Order ORD-9 has been cancelled.", StatusMessage(event))
	event.To = models.StatusDelivered
	assert.Equal(t, "Order ORD-9 has been delivered. Thank you!", StatusMessage(event))
}

type fixedMetrics struct{}

func (fixedMetrics) Metrics() events.ConsumerMetrics {
	return events.ConsumerMetrics{Processed: 3, Succeeded: 2, DeadLettered: 1}
}

func TestHandlerServesNotifications(t *testing.T) {
	inbox := NewInbox(storage.NewMemory(), 0, testLogger())
	inbox.now = func() time.Time { return time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) }
	require.NoError(t, inbox.HandleOrderPlaced(context.Background(), placed("ORD-1", "u1")))

	router := mux.NewRouter()
	NewHandler(inbox, fixedMetrics{}, testLogger()).Routes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/notifications/u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count         int            `json:"count"`
		Notifications []Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "ORD-1", body.Notifications[0].OrderID)
	assert.True(t, body.Notifications[0].CreatedAt.Equal(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	consumer := health["consumer"].(map[string]interface{})
	assert.Equal(t, float64(1), consumer["dead_lettered"])
}
