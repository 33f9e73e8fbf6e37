package orders

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/cart"
	"github.com/jogardn/laundry-orders/pkg/models"
)

// Users looks up the current state of a user, including their address book.
type Users interface {
	Get(ctx context.Context, userID string) (*models.User, error)
}

type CheckoutRequest struct {
	AddressID      string
	PickupDate     string
	PickupSlot     string
	IdempotencyKey string
}

// Service turns a user's cart into an order.
type Service struct {
	store  *Store
	carts  *cart.Registry
	users  Users
	logger *logrus.Logger

	mutex    sync.Mutex
	inFlight map[string]bool
	// placed maps userID + idempotency key to the order it produced.
	placed map[string]string
}

func NewService(store *Store, carts *cart.Registry, users Users, logger *logrus.Logger) *Service {
	return &Service{
		store:    store,
		carts:    carts,
		users:    users,
		logger:   logger,
		inFlight: make(map[string]bool),
		placed:   make(map[string]string),
	}
}

func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) Carts() *cart.Registry {
	return s.carts
}

func idempotencyKey(userID, key string) string {
	return userID + "\x00" + key
}

// acquire admits one checkout per user at a time. If key was already used by
// this user it returns the order id recorded for it instead.
func (s *Service) acquire(userID, key string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if key != "" {
		if orderID, ok := s.placed[idempotencyKey(userID, key)]; ok {
			return orderID, nil
		}
	}
	if s.inFlight[userID] {
		return "", fmt.Errorf("%w for user %s", ErrInFlight, userID)
	}
	s.inFlight[userID] = true
	return "", nil
}

func (s *Service) release(userID, key, orderID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.inFlight, userID)
	if key != "" && orderID != "" {
		s.placed[idempotencyKey(userID, key)] = orderID
	}
}

// Checkout places an order from the user's cart and empties the cart on
// success. The returned bool reports whether the order was replayed for a
// repeated idempotency key rather than newly created.
func (s *Service) Checkout(ctx context.Context, userID string, req CheckoutRequest) (*models.Order, bool, error) {
	replayID, err := s.acquire(userID, req.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if replayID != "" {
		order, err := s.store.Get(ctx, replayID)
		if err != nil {
			return nil, false, err
		}
		s.logger.WithFields(logrus.Fields{
			"order_id":        order.ID,
			"user_id":         userID,
			"idempotency_key": req.IdempotencyKey,
		}).Info("Replaying order for repeated idempotency key")
		return order, true, nil
	}

	var orderID string
	defer func() { s.release(userID, req.IdempotencyKey, orderID) }()

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	var address models.Address
	var ok bool
	if req.AddressID == "" {
		address, ok = user.DefaultAddress()
	} else {
		address, ok = user.Address(req.AddressID)
	}
	if !ok {
		return nil, false, validationError("unknown address %q", req.AddressID)
	}

	c := s.carts.For(userID)
	items := c.Lines()
	order, err := s.store.Create(ctx, PlaceOrderRequest{
		OwnerID:    user.ID,
		OwnerName:  user.Name,
		Items:      items,
		Address:    address,
		PickupDate: req.PickupDate,
		PickupSlot: req.PickupSlot,
	})
	if err != nil {
		return nil, false, err
	}

	orderID = order.ID
	c.Settle(items)
	return order, false, nil
}
