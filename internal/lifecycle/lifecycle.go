package lifecycle

import (
	"errors"
	"fmt"

	"github.com/jogardn/laundry-orders/pkg/models"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// forward maps each non-terminal status to its single next step.
var forward = map[models.OrderStatus]models.OrderStatus{
	models.StatusPlaced:     models.StatusProcessing,
	models.StatusProcessing: models.StatusReady,
	models.StatusReady:      models.StatusDelivered,
}

func IsTerminal(s models.OrderStatus) bool {
	return s == models.StatusDelivered || s == models.StatusCancelled
}

// Next returns the legal forward step from s, if there is one.
func Next(s models.OrderStatus) (models.OrderStatus, bool) {
	next, ok := forward[s]
	return next, ok
}

// Actions lists the statuses an administrator may move an order in status s to.
func Actions(s models.OrderStatus) []models.OrderStatus {
	if IsTerminal(s) {
		return nil
	}
	var actions []models.OrderStatus
	if next, ok := Next(s); ok {
		actions = append(actions, next)
	}
	if _, known := forward[s]; known {
		actions = append(actions, models.StatusCancelled)
	}
	return actions
}

// Transition validates moving an order from one status to another.
func Transition(from, to models.OrderStatus) error {
	if IsTerminal(from) {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	for _, allowed := range Actions(from) {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
