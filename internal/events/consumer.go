package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

const DLQSuffix = ".dlq"

// ErrPermanent marks a handler failure that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// Handler receives decoded order events. Returning an error wrapping
// ErrPermanent sends the message straight to the dead letter topic.
type Handler interface {
	HandleOrderPlaced(ctx context.Context, event OrderPlacedEvent) error
	HandleStatusChanged(ctx context.Context, event StatusChangedEvent) error
}

type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

type ConsumerMetrics struct {
	Processed    int64 `json:"processed"`
	Succeeded    int64 `json:"succeeded"`
	Retried      int64 `json:"retried"`
	Failed       int64 `json:"failed"`
	DeadLettered int64 `json:"dead_lettered"`
}

type failureMetadata struct {
	Attempts      int       `json:"attempts"`
	FailedAt      time.Time `json:"failed_at"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

// Dispatcher decodes a consumed message, runs the handler with retries and
// dead-letters what still fails.
type Dispatcher struct {
	handler Handler
	dlq     sarama.SyncProducer
	policy  RetryPolicy
	logger  *logrus.Logger

	processed    atomic.Int64
	succeeded    atomic.Int64
	retried      atomic.Int64
	failed       atomic.Int64
	deadLettered atomic.Int64
}

func NewDispatcher(handler Handler, dlq sarama.SyncProducer, policy RetryPolicy, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		dlq:     dlq,
		policy:  policy,
		logger:  logger,
	}
}

func (d *Dispatcher) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		Processed:    d.processed.Load(),
		Succeeded:    d.succeeded.Load(),
		Retried:      d.retried.Load(),
		Failed:       d.failed.Load(),
		DeadLettered: d.deadLettered.Load(),
	}
}

// Process handles one message. It returns an error only when the message
// could be neither handled nor dead-lettered, in which case the offset must
// not be committed.
func (d *Dispatcher) Process(ctx context.Context, message *sarama.ConsumerMessage) error {
	d.processed.Add(1)

	log := d.logger.WithFields(logrus.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	})
	log.Info("Processing Kafka message")

	attempts, err := d.handleWithRetry(ctx, message)
	if err == nil {
		d.succeeded.Add(1)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	d.failed.Add(1)
	log.WithError(err).WithField("attempts", attempts).Error("Failed to process message after retries")

	if dlqErr := d.sendToDLQ(message, attempts, err); dlqErr != nil {
		log.WithError(dlqErr).Error("Failed to send message to DLQ")
		return dlqErr
	}
	d.deadLettered.Add(1)
	return nil
}

func (d *Dispatcher) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) (int, error) {
	handle, err := d.decode(message)
	if err != nil {
		return 1, err
	}

	delay := d.policy.InitialDelay
	attempt := 0
	for {
		attempt++
		err = handle(ctx)
		if err == nil {
			return attempt, nil
		}
		if errors.Is(err, ErrPermanent) || attempt > d.policy.MaxRetries {
			return attempt, err
		}

		d.logger.WithError(err).WithFields(logrus.Fields{
			"key":     string(message.Key),
			"attempt": attempt,
			"delay":   delay,
		}).Warn("Retryable error processing message")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
		d.retried.Add(1)

		delay *= 2
		if delay > d.policy.MaxDelay {
			delay = d.policy.MaxDelay
		}
	}
}

func (d *Dispatcher) decode(message *sarama.ConsumerMessage) (func(context.Context) error, error) {
	switch message.Topic {
	case OrderPlacedTopic:
		var event OrderPlacedEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return nil, fmt.Errorf("%w: decode order placed event: %w", ErrPermanent, err)
		}
		return func(ctx context.Context) error {
			return d.handler.HandleOrderPlaced(ctx, event)
		}, nil

	case StatusChangedTopic:
		var event StatusChangedEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return nil, fmt.Errorf("%w: decode status changed event: %w", ErrPermanent, err)
		}
		return func(ctx context.Context) error {
			return d.handler.HandleStatusChanged(ctx, event)
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown topic %s", ErrPermanent, message.Topic)
	}
}

func (d *Dispatcher) sendToDLQ(message *sarama.ConsumerMessage, attempts int, processingError error) error {
	metadata, err := json.Marshal(failureMetadata{
		Attempts:      attempts,
		FailedAt:      time.Now().UTC(),
		OriginalTopic: message.Topic,
		ErrorMessage:  processingError.Error(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dlqTopic := message.Topic + DLQSuffix
	partition, offset, err := d.dlq.SendMessage(&sarama.ProducerMessage{
		Topic: dlqTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("metadata"), Value: metadata},
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
			{Key: []byte("original_partition"), Value: []byte(fmt.Sprintf("%d", message.Partition))},
			{Key: []byte("original_offset"), Value: []byte(fmt.Sprintf("%d", message.Offset))},
			{Key: []byte(replaysHeader), Value: []byte(strconv.Itoa(replayCount(message.Headers)))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"dlq_topic":     dlqTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"error":         processingError.Error(),
	}).Warn("Message sent to dead letter queue")

	return nil
}

// Setup, Cleanup and ConsumeClaim implement sarama.ConsumerGroupHandler.
func (d *Dispatcher) Setup(sarama.ConsumerGroupSession) error {
	d.logger.Info("Kafka consumer group session setup")
	return nil
}

func (d *Dispatcher) Cleanup(sarama.ConsumerGroupSession) error {
	d.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (d *Dispatcher) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if err := d.Process(session.Context(), message); err != nil {
				// Leave the offset uncommitted so the message is redelivered.
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			d.logger.Info("Consumer group session context cancelled")
			return nil
		}
	}
}

// KafkaConsumer runs a Dispatcher inside a consumer group subscribed to the
// order topics.
type KafkaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	dlqProducer   sarama.SyncProducer
	dispatcher    *Dispatcher
	logger        *logrus.Logger
	topics        []string
}

func NewKafkaConsumer(brokers, groupID string, handler Handler, policy RetryPolicy, logger *logrus.Logger) (*KafkaConsumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(SplitBrokers(brokers), groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	producer, err := NewSyncProducer(brokers)
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	return &KafkaConsumer{
		consumerGroup: consumerGroup,
		dlqProducer:   producer,
		dispatcher:    NewDispatcher(handler, producer, policy, logger),
		logger:        logger,
		topics:        []string{OrderPlacedTopic, StatusChangedTopic},
	}, nil
}

func (c *KafkaConsumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		default:
			if err := c.consumerGroup.Consume(ctx, c.topics, c.dispatcher); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				c.logger.WithError(err).Error("Error consuming from Kafka")
				return err
			}
		}
	}
}

func (c *KafkaConsumer) Metrics() ConsumerMetrics {
	return c.dispatcher.Metrics()
}

func (c *KafkaConsumer) Close() error {
	if err := c.dlqProducer.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close producer")
	}
	return c.consumerGroup.Close()
}
