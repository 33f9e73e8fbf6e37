package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/lifecycle"
	"github.com/jogardn/laundry-orders/internal/storage"
	"github.com/jogardn/laundry-orders/pkg/models"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("order not found")
	ErrForbidden  = errors.New("forbidden")
	ErrInFlight   = errors.New("checkout already in progress")
)

// deliveryLeadDays is the number of calendar days between pickup and delivery.
const deliveryLeadDays = 2

// Listener is told about every order the store accepts or moves.
// Listeners run after the change is persisted and cannot fail it.
type Listener interface {
	OrderPlaced(ctx context.Context, order models.Order)
	StatusChanged(ctx context.Context, order models.Order, from models.OrderStatus)
}

type PlaceOrderRequest struct {
	OwnerID    string
	OwnerName  string
	Items      []models.OrderItem
	Address    models.Address
	PickupDate string
	PickupSlot string
}

type Stats struct {
	TotalOrders int             `json:"total_orders"`
	TodayOrders int             `json:"today_orders"`
	Pending     int             `json:"pending"`
	Processing  int             `json:"processing"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type Store struct {
	backend   storage.Backend
	logger    *logrus.Logger
	mutex     sync.Mutex
	listeners []Listener
	now       func() time.Time
	newID     func() string
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

func NewStore(backend storage.Backend, logger *logrus.Logger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		newID:   newOrderID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newOrderID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + strings.ToUpper(hex[:10])
}

func (s *Store) AddListener(l Listener) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.listeners = append(s.listeners, l)
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// DeliveryDate returns pickupDate plus the delivery lead time in calendar days.
func DeliveryDate(pickupDate string) (string, error) {
	pickup, err := time.ParseInLocation(models.DateLayout, pickupDate, time.UTC)
	if err != nil {
		return "", validationError("pickup date %q is not YYYY-MM-DD", pickupDate)
	}
	return pickup.AddDate(0, 0, deliveryLeadDays).Format(models.DateLayout), nil
}

func validateItems(items []models.OrderItem) ([]models.OrderItem, decimal.Decimal, error) {
	if len(items) == 0 {
		return nil, decimal.Zero, validationError("order has no items")
	}

	seen := make(map[string]bool, len(items))
	lines := make([]models.OrderItem, len(items))
	total := decimal.Zero
	for i, item := range items {
		switch {
		case item.ItemID == "":
			return nil, decimal.Zero, validationError("line %d has no item id", i+1)
		case seen[item.ItemID]:
			return nil, decimal.Zero, validationError("item %s appears more than once", item.ItemID)
		case item.Quantity <= 0:
			return nil, decimal.Zero, validationError("item %s has quantity %d", item.ItemID, item.Quantity)
		case item.UnitPrice.IsNegative():
			return nil, decimal.Zero, validationError("item %s has a negative unit price", item.ItemID)
		}
		expected := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		if !item.TotalPrice.Equal(expected) {
			return nil, decimal.Zero, validationError("item %s total %s does not match %d x %s",
				item.ItemID, item.TotalPrice, item.Quantity, item.UnitPrice)
		}
		seen[item.ItemID] = true
		lines[i] = item
		total = total.Add(item.TotalPrice)
	}
	return lines, total, nil
}

func (s *Store) load(ctx context.Context) []models.Order {
	return storage.Load[models.Order](ctx, s.backend, storage.OrdersKey, s.logger)
}

func (s *Store) loadStrict(ctx context.Context) ([]models.Order, error) {
	return storage.LoadForUpdate[models.Order](ctx, s.backend, storage.OrdersKey, s.logger)
}

// Create validates and persists a new order in status Placed. Nothing is
// stored when validation or the write fails.
func (s *Store) Create(ctx context.Context, req PlaceOrderRequest) (*models.Order, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, validationError("order has no owner")
	}
	items, total, err := validateItems(req.Items)
	if err != nil {
		return nil, err
	}
	if !models.ValidPickupSlot(req.PickupSlot) {
		return nil, validationError("unknown pickup slot %q", req.PickupSlot)
	}
	deliveryDate, err := DeliveryDate(req.PickupDate)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Address.Details) == "" {
		return nil, validationError("order has no pickup address")
	}

	s.mutex.Lock()
	orders, err := s.loadStrict(ctx)
	if err != nil {
		s.mutex.Unlock()
		s.logger.WithError(err).WithField("user_id", req.OwnerID).Error("Failed to read orders")
		return nil, err
	}

	taken := make(map[string]bool, len(orders))
	for _, o := range orders {
		taken[o.ID] = true
	}
	id := s.newID()
	for attempts := 0; taken[id]; attempts++ {
		if attempts >= 5 {
			s.mutex.Unlock()
			return nil, fmt.Errorf("%w: could not allocate a unique order id", storage.ErrPersistence)
		}
		id = s.newID()
	}

	order := models.Order{
		ID:           id,
		UserID:       req.OwnerID,
		UserName:     req.OwnerName,
		Status:       models.StatusPlaced,
		Items:        items,
		TotalAmount:  total,
		PickupDate:   req.PickupDate,
		PickupSlot:   req.PickupSlot,
		DeliveryDate: deliveryDate,
		Address:      req.Address,
		CreatedAt:    s.now(),
	}

	if err := storage.Save(ctx, s.backend, storage.OrdersKey, append(orders, order)); err != nil {
		s.mutex.Unlock()
		s.logger.WithError(err).WithField("user_id", req.OwnerID).Error("Failed to persist order")
		return nil, err
	}
	listeners := s.listeners
	s.mutex.Unlock()

	s.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"user_id":      order.UserID,
		"total_amount": order.TotalAmount.String(),
		"items_count":  len(order.Items),
	}).Info("Order placed")

	for _, l := range listeners {
		l.OrderPlaced(ctx, order)
	}
	return &order, nil
}

// List returns the owner's orders, or every order when ownerID is empty,
// most recent first.
func (s *Store) List(ctx context.Context, ownerID string) []models.Order {
	return s.ListFilter(ctx, ownerID, "")
}

// ListFilter is List restricted to one status when status is non-empty.
// Orders created at the same instant are returned most recently inserted first.
func (s *Store) ListFilter(ctx context.Context, ownerID string, status models.OrderStatus) []models.Order {
	orders := s.load(ctx)

	out := make([]models.Order, 0, len(orders))
	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		if ownerID != "" && o.UserID != ownerID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Get fails with ErrPersistence, not ErrNotFound, when the orders cannot be read.
func (s *Store) Get(ctx context.Context, id string) (*models.Order, error) {
	orders, err := s.loadStrict(ctx)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.ID == id {
			return &o, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// UpdateStatus moves an order to status if the lifecycle allows it. Only the
// status field changes.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	s.mutex.Lock()
	orders, err := s.loadStrict(ctx)
	if err != nil {
		s.mutex.Unlock()
		s.logger.WithError(err).WithField("order_id", id).Error("Failed to read orders")
		return nil, err
	}

	idx := -1
	for i := range orders {
		if orders[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mutex.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	from := orders[idx].Status
	if err := lifecycle.Transition(from, status); err != nil {
		s.mutex.Unlock()
		return nil, err
	}
	orders[idx].Status = status

	if err := storage.Save(ctx, s.backend, storage.OrdersKey, orders); err != nil {
		s.mutex.Unlock()
		s.logger.WithError(err).WithField("order_id", id).Error("Failed to persist status change")
		return nil, err
	}
	order := orders[idx]
	listeners := s.listeners
	s.mutex.Unlock()

	s.logger.WithFields(logrus.Fields{
		"order_id": id,
		"from":     from,
		"to":       status,
	}).Info("Order status updated")

	for _, l := range listeners {
		l.StatusChanged(ctx, order, from)
	}
	return &order, nil
}

// Stats summarises the order book for the admin dashboard. Today is the
// calendar day of now in now's location; cancelled orders earn no revenue.
func (s *Store) Stats(ctx context.Context, now time.Time) Stats {
	stats := Stats{Revenue: decimal.Zero}
	y, m, d := now.Date()
	for _, o := range s.load(ctx) {
		stats.TotalOrders++
		if oy, om, od := o.CreatedAt.In(now.Location()).Date(); oy == y && om == m && od == d {
			stats.TodayOrders++
		}
		switch o.Status {
		case models.StatusPlaced:
			stats.Pending++
		case models.StatusProcessing:
			stats.Processing++
		}
		if o.Status != models.StatusCancelled {
			stats.Revenue = stats.Revenue.Add(o.TotalAmount)
		}
	}
	return stats
}
