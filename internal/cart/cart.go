package cart

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/jogardn/laundry-orders/pkg/models"
)

var ErrInvalidLine = errors.New("invalid cart line")

type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
	EventCleared EventKind = "cleared"
)

// Event describes a single cart mutation. Line is the state after the change
// and is zero for removals and clears.
type Event struct {
	Kind   EventKind
	ItemID string
	Line   models.OrderItem
}

type Observer func(Event)

// Cart holds at most one line per item id, in the order items were first added.
type Cart struct {
	mutex     sync.RWMutex
	lines     map[string]*models.OrderItem
	order     []string
	observers []Observer
}

func New() *Cart {
	return &Cart{lines: make(map[string]*models.OrderItem)}
}

// LineFor builds a cart line from a catalog item, copying its name, unit and price.
func LineFor(item models.PricingItem, quantity int) models.OrderItem {
	return models.OrderItem{
		ItemID:     item.ID,
		Name:       item.Name,
		Quantity:   quantity,
		UnitPrice:  item.Price,
		TotalPrice: lineTotal(item.Price, quantity),
		Unit:       item.Unit,
	}
}

func lineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

func (c *Cart) Observe(o Observer) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.observers = append(c.observers, o)
}

// AddOrUpdate merges line into the cart. line.Quantity is a delta for an
// existing item; a result of zero or less removes the line. A new item must
// arrive with a positive quantity.
func (c *Cart) AddOrUpdate(line models.OrderItem) error {
	if line.ItemID == "" {
		return fmt.Errorf("%w: missing item id", ErrInvalidLine)
	}

	c.mutex.Lock()
	var event Event
	if existing, ok := c.lines[line.ItemID]; ok {
		quantity := existing.Quantity + line.Quantity
		if quantity <= 0 {
			c.removeLocked(line.ItemID)
			event = Event{Kind: EventRemoved, ItemID: line.ItemID}
		} else {
			existing.Quantity = quantity
			existing.TotalPrice = lineTotal(existing.UnitPrice, quantity)
			event = Event{Kind: EventUpdated, ItemID: line.ItemID, Line: *existing}
		}
	} else {
		if line.Quantity <= 0 {
			c.mutex.Unlock()
			return fmt.Errorf("%w: quantity must be positive for new item %s", ErrInvalidLine, line.ItemID)
		}
		if line.UnitPrice.IsNegative() {
			c.mutex.Unlock()
			return fmt.Errorf("%w: negative unit price for item %s", ErrInvalidLine, line.ItemID)
		}
		added := line
		added.TotalPrice = lineTotal(line.UnitPrice, line.Quantity)
		c.lines[line.ItemID] = &added
		c.order = append(c.order, line.ItemID)
		event = Event{Kind: EventAdded, ItemID: line.ItemID, Line: added}
	}
	observers := c.observers
	c.mutex.Unlock()

	notify(observers, event)
	return nil
}

// Remove deletes the line for itemID. Absent items are ignored.
func (c *Cart) Remove(itemID string) {
	c.mutex.Lock()
	if _, ok := c.lines[itemID]; !ok {
		c.mutex.Unlock()
		return
	}
	c.removeLocked(itemID)
	observers := c.observers
	c.mutex.Unlock()

	notify(observers, Event{Kind: EventRemoved, ItemID: itemID})
}

func (c *Cart) removeLocked(itemID string) {
	delete(c.lines, itemID)
	for i, id := range c.order {
		if id == itemID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cart) Clear() {
	c.mutex.Lock()
	c.lines = make(map[string]*models.OrderItem)
	c.order = nil
	observers := c.observers
	c.mutex.Unlock()

	notify(observers, Event{Kind: EventCleared})
}

// Settle removes what an order took from the cart. Each ordered quantity is
// deducted from its line under a single lock, so lines added or topped up
// after the order was snapshotted stay in the cart.
func (c *Cart) Settle(ordered []models.OrderItem) {
	c.mutex.Lock()
	events := make([]Event, 0, len(ordered))
	for _, line := range ordered {
		existing, ok := c.lines[line.ItemID]
		if !ok {
			continue
		}
		quantity := existing.Quantity - line.Quantity
		if quantity <= 0 {
			c.removeLocked(line.ItemID)
			events = append(events, Event{Kind: EventRemoved, ItemID: line.ItemID})
			continue
		}
		existing.Quantity = quantity
		existing.TotalPrice = lineTotal(existing.UnitPrice, quantity)
		events = append(events, Event{Kind: EventUpdated, ItemID: line.ItemID, Line: *existing})
	}
	observers := c.observers
	c.mutex.Unlock()

	for _, event := range events {
		notify(observers, event)
	}
}

func (c *Cart) Total() decimal.Decimal {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(line.TotalPrice)
	}
	return total
}

// Lines returns a snapshot of the cart in insertion order.
func (c *Cart) Lines() []models.OrderItem {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make([]models.OrderItem, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.lines[id])
	}
	return out
}

func (c *Cart) Line(itemID string) (models.OrderItem, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	line, ok := c.lines[itemID]
	if !ok {
		return models.OrderItem{}, false
	}
	return *line, true
}

func (c *Cart) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.lines)
}

func notify(observers []Observer, event Event) {
	for _, o := range observers {
		o(event)
	}
}
