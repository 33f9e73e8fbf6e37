package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

const replaysHeader = "replays"

var ErrReplayLimit = errors.New("message exceeded maximum replay attempts")

func headerValue(headers []*sarama.RecordHeader, key string) ([]byte, bool) {
	for _, header := range headers {
		if header != nil && string(header.Key) == key {
			return header.Value, true
		}
	}
	return nil, false
}

func replayCount(headers []*sarama.RecordHeader) int {
	value, ok := headerValue(headers, replaysHeader)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(string(value))
	if err != nil {
		return 0
	}
	return n
}

// Replayer drains the dead letter topics back onto their original topics.
// A message that has already been replayed MaxReplays times stays dead.
type Replayer struct {
	producer   sarama.SyncProducer
	logger     *logrus.Logger
	maxReplays int
	delay      time.Duration
}

func NewReplayer(producer sarama.SyncProducer, maxReplays int, delay time.Duration, logger *logrus.Logger) *Replayer {
	return &Replayer{
		producer:   producer,
		logger:     logger,
		maxReplays: maxReplays,
		delay:      delay,
	}
}

func DLQTopics() []string {
	return []string{OrderPlacedTopic + DLQSuffix, StatusChangedTopic + DLQSuffix}
}

func (r *Replayer) Replay(message *sarama.ConsumerMessage) error {
	var metadata failureMetadata
	if raw, ok := headerValue(message.Headers, "metadata"); ok {
		if err := json.Unmarshal(raw, &metadata); err != nil {
			r.logger.WithError(err).Error("Failed to unmarshal metadata")
		}
	}
	original := metadata.OriginalTopic
	if raw, ok := headerValue(message.Headers, "original_topic"); ok {
		original = string(raw)
	}
	if original == "" {
		return fmt.Errorf("dead letter message without original topic at offset %d", message.Offset)
	}

	replays := replayCount(message.Headers)
	log := r.logger.WithFields(logrus.Fields{
		"original_topic": original,
		"key":            string(message.Key),
		"replays":        replays,
		"attempts":       metadata.Attempts,
		"error_message":  metadata.ErrorMessage,
	})
	if replays >= r.maxReplays {
		log.Error("Message exceeded maximum replay attempts")
		return ErrReplayLimit
	}

	partition, offset, err := r.producer.SendMessage(&sarama.ProducerMessage{
		Topic: original,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(replaysHeader), Value: []byte(strconv.Itoa(replays + 1))},
			{Key: []byte("replayed_from_dlq"), Value: []byte("true")},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}

	log.WithFields(logrus.Fields{
		"replay_partition": partition,
		"replay_offset":    offset,
	}).Info("Message replayed from DLQ")
	return nil
}

func (r *Replayer) Setup(sarama.ConsumerGroupSession) error {
	r.logger.Info("DLQ consumer session setup")
	return nil
}

func (r *Replayer) Cleanup(sarama.ConsumerGroupSession) error {
	r.logger.Info("DLQ consumer session cleanup")
	return nil
}

func (r *Replayer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			select {
			case <-time.After(r.delay):
			case <-session.Context().Done():
				return nil
			}

			if err := r.Replay(message); err != nil && !errors.Is(err, ErrReplayLimit) {
				r.logger.WithError(err).Error("Failed to replay DLQ message")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// RunReplayer consumes the dead letter topics until ctx is cancelled.
func RunReplayer(ctx context.Context, brokers string, replayer *Replayer, logger *logrus.Logger) error {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	group, err := sarama.NewConsumerGroup(SplitBrokers(brokers), "laundry-dlq-replayer", config)
	if err != nil {
		return fmt.Errorf("failed to create DLQ consumer: %w", err)
	}
	defer group.Close()

	for {
		select {
		case <-ctx.Done():
			logger.Info("DLQ replayer context cancelled")
			return nil
		default:
			if err := group.Consume(ctx, DLQTopics(), replayer); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				logger.WithError(err).Error("Error consuming from DLQ")
				return err
			}
		}
	}
}
