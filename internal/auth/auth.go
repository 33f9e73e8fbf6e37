package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/storage"
	"github.com/jogardn/laundry-orders/pkg/models"
)

var (
	ErrInvalidLogin   = errors.New("invalid login")
	ErrRoleMismatch   = errors.New("email is registered with a different role")
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidAddress = errors.New("invalid address")
)

func defaultAddress() models.Address {
	return models.Address{
		ID:        "default_addr",
		Label:     "Home",
		Details:   "123, Sample Street, City",
		Pincode:   "000000",
		IsDefault: true,
	}
}

// Authenticator resolves users by email, registering unknown emails on first login.
type Authenticator struct {
	backend storage.Backend
	logger  *logrus.Logger
	mutex   sync.Mutex
}

func NewAuthenticator(backend storage.Backend, logger *logrus.Logger) *Authenticator {
	return &Authenticator{backend: backend, logger: logger}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: malformed email %q", ErrInvalidLogin, email)
	}
	return email, nil
}

// Login returns the user registered under email. A login whose role differs
// from the stored role is rejected and the stored user is left untouched.
func (a *Authenticator) Login(ctx context.Context, email string, role models.Role) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidLogin, role)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	users, err := storage.LoadForUpdate[models.User](ctx, a.backend, storage.UsersKey, a.logger)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Email != email {
			continue
		}
		if users[i].Role != role {
			a.logger.WithFields(logrus.Fields{
				"user_id":        users[i].ID,
				"stored_role":    users[i].Role,
				"requested_role": role,
			}).Warn("Login rejected: role mismatch")
			return nil, fmt.Errorf("%w: %s is a %s", ErrRoleMismatch, email, users[i].Role)
		}
		user := users[i]
		return &user, nil
	}

	user := models.User{
		ID:        uuid.NewString(),
		Name:      strings.SplitN(email, "@", 2)[0],
		Email:     email,
		Role:      role,
		Addresses: []models.Address{},
	}
	if role == models.RoleCustomer {
		user.Addresses = append(user.Addresses, defaultAddress())
	}

	users = append(users, user)
	if err := storage.Save(ctx, a.backend, storage.UsersKey, users); err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("User registered on first login")

	return &user, nil
}

func (a *Authenticator) Get(ctx context.Context, userID string) (*models.User, error) {
	users, err := storage.LoadForUpdate[models.User](ctx, a.backend, storage.UsersKey, a.logger)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == userID {
			return &users[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
}

// AddAddress appends an address to a customer's book. The first address, or
// one flagged default, becomes the only default.
func (a *Authenticator) AddAddress(ctx context.Context, userID string, address models.Address) (*models.User, error) {
	address.Label = strings.TrimSpace(address.Label)
	address.Details = strings.TrimSpace(address.Details)
	address.Pincode = strings.TrimSpace(address.Pincode)
	if address.Label == "" || address.Details == "" || address.Pincode == "" {
		return nil, fmt.Errorf("%w: label, details and pincode are required", ErrInvalidAddress)
	}
	if address.ID == "" {
		address.ID = "addr_" + uuid.NewString()[:8]
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	users, err := storage.LoadForUpdate[models.User](ctx, a.backend, storage.UsersKey, a.logger)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i := range users {
		if users[i].ID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	user := users[idx]
	if _, exists := user.Address(address.ID); exists {
		return nil, fmt.Errorf("%w: duplicate address id %s", ErrInvalidAddress, address.ID)
	}

	addresses := make([]models.Address, 0, len(user.Addresses)+1)
	if len(user.Addresses) == 0 {
		address.IsDefault = true
	}
	for _, existing := range user.Addresses {
		if address.IsDefault {
			existing.IsDefault = false
		}
		addresses = append(addresses, existing)
	}
	user.Addresses = append(addresses, address)
	users[idx] = user

	if err := storage.Save(ctx, a.backend, storage.UsersKey, users); err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"address_id": address.ID,
	}).Info("Address added")

	return &user, nil
}
