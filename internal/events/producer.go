package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/circuitbreaker"
	"github.com/jogardn/laundry-orders/pkg/models"
)

const (
	OrderPlacedTopic   = "laundry.order.placed"
	StatusChangedTopic = "laundry.order.status_changed"
)

type OrderPlacedEvent struct {
	OrderID      string          `json:"order_id"`
	UserID       string          `json:"user_id"`
	UserName     string          `json:"user_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	ItemCount    int             `json:"item_count"`
	PickupDate   string          `json:"pickup_date"`
	PickupSlot   string          `json:"pickup_slot"`
	DeliveryDate string          `json:"delivery_date"`
	CreatedAt    time.Time       `json:"created_at"`
	EventTime    time.Time       `json:"event_time"`
}

type StatusChangedEvent struct {
	OrderID   string             `json:"order_id"`
	UserID    string             `json:"user_id"`
	UserName  string             `json:"user_name"`
	From      models.OrderStatus `json:"from"`
	To        models.OrderStatus `json:"to"`
	EventTime time.Time          `json:"event_time"`
}

func NewOrderPlacedEvent(order models.Order) OrderPlacedEvent {
	return OrderPlacedEvent{
		OrderID:      order.ID,
		UserID:       order.UserID,
		UserName:     order.UserName,
		TotalAmount:  order.TotalAmount,
		ItemCount:    len(order.Items),
		PickupDate:   order.PickupDate,
		PickupSlot:   order.PickupSlot,
		DeliveryDate: order.DeliveryDate,
		CreatedAt:    order.CreatedAt,
	}
}

func NewStatusChangedEvent(order models.Order, from models.OrderStatus) StatusChangedEvent {
	return StatusChangedEvent{
		OrderID:  order.ID,
		UserID:   order.UserID,
		UserName: order.UserName,
		From:     from,
		To:       order.Status,
	}
}

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0
	return config
}

func SplitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewSyncProducer connects a producer that waits for every in-sync replica.
func NewSyncProducer(brokers string) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(SplitBrokers(brokers), producerConfig())
}

// KafkaProducer publishes order events. Sends go through the events circuit
// breaker; when Kafka is down the breaker fails fast.
type KafkaProducer struct {
	producer sarama.SyncProducer
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logrus.Logger
	now      func() time.Time
}

func NewKafkaProducer(brokers string, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) (*KafkaProducer, error) {
	producer, err := NewSyncProducer(brokers)
	if err != nil {
		return nil, err
	}
	return NewProducerWith(producer, breaker, logger), nil
}

// NewProducerWith wraps an existing sarama producer.
func NewProducerWith(producer sarama.SyncProducer, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *KafkaProducer {
	return &KafkaProducer{
		producer: producer,
		breaker:  breaker,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *KafkaProducer) PublishOrderPlaced(ctx context.Context, event OrderPlacedEvent) error {
	event.EventTime = p.now()
	return p.publish(ctx, OrderPlacedTopic, event.OrderID, event)
}

func (p *KafkaProducer) PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error {
	event.EventTime = p.now()
	return p.publish(ctx, StatusChangedTopic, event.OrderID, event)
}

func (p *KafkaProducer) publish(ctx context.Context, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	type position struct {
		partition int32
		offset    int64
	}
	sent := make(chan position, 1)
	err = p.breaker.Execute(ctx, func(context.Context) error {
		partition, offset, sendErr := p.producer.SendMessage(msg)
		if sendErr == nil {
			sent <- position{partition, offset}
		}
		return sendErr
	})
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"topic":    topic,
			"order_id": key,
		}).Error("Failed to send message to Kafka")
		return err
	}

	pos := <-sent
	p.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": pos.partition,
		"offset":    pos.offset,
		"order_id":  key,
	}).Info("Event published to Kafka")

	return nil
}

// OrderPlaced and StatusChanged let the producer listen to the order store.
// Publishing is best effort: a failure is logged and never fails the order.
func (p *KafkaProducer) OrderPlaced(ctx context.Context, order models.Order) {
	_ = p.PublishOrderPlaced(ctx, NewOrderPlacedEvent(order))
}

func (p *KafkaProducer) StatusChanged(ctx context.Context, order models.Order, from models.OrderStatus) {
	_ = p.PublishStatusChanged(ctx, NewStatusChangedEvent(order, from))
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
