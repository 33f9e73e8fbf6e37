package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPlaced     OrderStatus = "Placed"
	StatusProcessing OrderStatus = "Processing"
	StatusReady      OrderStatus = "Ready"
	StatusDelivered  OrderStatus = "Delivered"
	StatusCancelled  OrderStatus = "Cancelled"
)

// OrderStatuses lists every status in workflow order.
var OrderStatuses = []OrderStatus{
	StatusPlaced,
	StatusProcessing,
	StatusReady,
	StatusDelivered,
	StatusCancelled,
}

// ParseOrderStatus accepts only the closed set of statuses.
func ParseOrderStatus(s string) (OrderStatus, error) {
	for _, status := range OrderStatuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseOrderStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// PickupSlots are the collection windows a customer can book.
var PickupSlots = []string{
	"09:00 AM - 12:00 PM",
	"12:00 PM - 03:00 PM",
	"03:00 PM - 06:00 PM",
	"06:00 PM - 09:00 PM",
}

func ValidPickupSlot(slot string) bool {
	for _, s := range PickupSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// DateLayout is the calendar date format used for pickup and delivery dates.
const DateLayout = "2006-01-02"

type OrderItem struct {
	ItemID     string          `json:"item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Unit       Unit            `json:"unit"`
}

type Order struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	UserName     string          `json:"user_name"`
	Status       OrderStatus     `json:"status"`
	Items        []OrderItem     `json:"items"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	PickupDate   string          `json:"pickup_date"`
	PickupSlot   string          `json:"pickup_slot"`
	DeliveryDate string          `json:"delivery_date"`
	Address      Address         `json:"address"`
	CreatedAt    time.Time       `json:"created_at"`
}

type OrderResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Order   *Order   `json:"order,omitempty"`
	Actions []string `json:"actions,omitempty"`
}

// OrderListResponse always carries the orders key, even for an empty list.
type OrderListResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Orders  []Order `json:"orders"`
	Count   int     `json:"count"`
}
