package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/events"
	"github.com/jogardn/laundry-orders/internal/storage"
	"github.com/jogardn/laundry-orders/pkg/models"
)

// NotificationsKey is the collection the inbox persists to.
const NotificationsKey = "notifications"

// DefaultCapacity is the number of notifications kept before the oldest are dropped.
const DefaultCapacity = 500

type Notification struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	OrderID   string             `json:"order_id"`
	Status    models.OrderStatus `json:"status"`
	Message   string             `json:"message"`
	CreatedAt time.Time          `json:"created_at"`
}

// Inbox turns order events into customer notifications. It implements
// events.Handler.
type Inbox struct {
	backend  storage.Backend
	logger   *logrus.Logger
	capacity int
	now      func() time.Time
	mutex    sync.Mutex
}

func NewInbox(backend storage.Backend, capacity int, logger *logrus.Logger) *Inbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Inbox{
		backend:  backend,
		logger:   logger,
		capacity: capacity,
		now:      time.Now,
	}
}

func PlacedMessage(event events.OrderPlacedEvent) string {
	return fmt.Sprintf("Order %s placed. Pickup on %s (%s), delivery by %s. Total %s.",
		event.OrderID, event.PickupDate, event.PickupSlot, event.DeliveryDate, event.TotalAmount.StringFixed(2))
}

func StatusMessage(event events.StatusChangedEvent) string {
	switch event.To {
	case models.StatusCancelled:
		return fmt.Sprintf("Order %s has been cancelled.", event.OrderID)
	case models.StatusReady:
		return fmt.Sprintf("Order %s is now Ready for delivery.", event.OrderID)
	case models.StatusDelivered:
		return fmt.Sprintf("Order %s has been delivered. Thank you!", event.OrderID)
	default:
		return fmt.Sprintf("Order %s is now %s.", event.OrderID, event.To)
	}
}

func (i *Inbox) HandleOrderPlaced(ctx context.Context, event events.OrderPlacedEvent) error {
	if event.OrderID == "" || event.UserID == "" {
		return fmt.Errorf("%w: order placed event without order or user id", events.ErrPermanent)
	}
	return i.deliver(ctx, Notification{
		UserID:  event.UserID,
		OrderID: event.OrderID,
		Status:  models.StatusPlaced,
		Message: PlacedMessage(event),
	})
}

func (i *Inbox) HandleStatusChanged(ctx context.Context, event events.StatusChangedEvent) error {
	if event.OrderID == "" || event.UserID == "" {
		return fmt.Errorf("%w: status event without order or user id", events.ErrPermanent)
	}
	if _, err := models.ParseOrderStatus(string(event.To)); err != nil {
		return fmt.Errorf("%w: %v", events.ErrPermanent, err)
	}
	return i.deliver(ctx, Notification{
		UserID:  event.UserID,
		OrderID: event.OrderID,
		Status:  event.To,
		Message: StatusMessage(event),
	})
}

// deliver appends n unless an identical notification was already recorded,
// which happens when Kafka redelivers or the DLQ is replayed.
func (i *Inbox) deliver(ctx context.Context, n Notification) error {
	n.ID = n.OrderID + ":" + string(n.Status)
	n.CreatedAt = i.now().UTC()

	i.mutex.Lock()
	defer i.mutex.Unlock()

	all, err := i.read(ctx)
	if err != nil {
		return err
	}
	for _, existing := range all {
		if existing.ID == n.ID {
			i.logger.WithField("notification_id", n.ID).Debug("Duplicate notification ignored")
			return nil
		}
	}

	all = append(all, n)
	if len(all) > i.capacity {
		all = all[len(all)-i.capacity:]
	}
	if err := storage.Save(ctx, i.backend, NotificationsKey, all); err != nil {
		return err
	}

	i.logger.WithFields(logrus.Fields{
		"user_id":  n.UserID,
		"order_id": n.OrderID,
		"status":   n.Status,
	}).Info(n.Message)
	return nil
}

// read fails on a backend error so the consumer retries instead of
// overwriting the inbox with an empty list.
func (i *Inbox) read(ctx context.Context) ([]Notification, error) {
	return storage.LoadForUpdate[Notification](ctx, i.backend, NotificationsKey, i.logger)
}

// For returns a user's notifications, newest first.
func (i *Inbox) For(ctx context.Context, userID string) []Notification {
	all := storage.Load[Notification](ctx, i.backend, NotificationsKey, i.logger)
	out := make([]Notification, 0)
	for idx := len(all) - 1; idx >= 0; idx-- {
		if all[idx].UserID == userID {
			out = append(out, all[idx])
		}
	}
	return out
}
