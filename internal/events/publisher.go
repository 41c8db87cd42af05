// Package events publishes committed trust changes to Kafka for downstream
// consumers such as push notifications and activity feeds.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/logging"
	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// #region event
// ScoreChanged is emitted after a trust transaction commits.
type ScoreChanged struct {
	ActionID string           `json:"actionId"`
	UserID   string           `json:"userId"`
	RoomID   string           `json:"roomId"`
	Action   trust.ActionType `json:"action"`
	Points   int              `json:"points"`
	Previous int              `json:"previous"`
	Score    int              `json:"score"`
	At       time.Time        `json:"at"`
}

// Publisher delivers ScoreChanged events.
type Publisher interface {
	Publish(ctx context.Context, ev ScoreChanged) error
}

// #endregion event

// #region kafka
// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// BatchTimeout bounds how long a write waits for more messages. Events
	// are sent one per commit, so this should stay small.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// Async returns from Publish without waiting for the broker; delivery
	// failures are logged from the writer's completion callback.
	Async bool `mapstructure:"async"`
}

const (
	defaultMaxAttempts  = 3
	defaultWriteTimeout = 5 * time.Second
	defaultBatchTimeout = 10 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by user ID, so one user's events stay
// ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher backed by a kafka.Writer. Each
// event is flushed as its own batch so a publish never waits on batching.
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	logger = logging.OrNop(logger)
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            attempts,
		WriteTimeout:           timeout,
		BatchSize:              1,
		BatchTimeout:           batchTimeout,
		Async:                  cfg.Async,
	}
	if cfg.Async {
		w.Completion = completionLogger(logger)
	}
	return newKafkaPublisher(w, cfg.Topic, logger)
}

// completionLogger reports failed async deliveries.
func completionLogger(logger *zap.Logger) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		for _, m := range msgs {
			logger.Warn("score change delivery failed",
				zap.String("topic", m.Topic), zap.ByteString("user_id", m.Key), zap.Error(err))
		}
	}
}

func newKafkaPublisher(w messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logging.OrNop(logger)}
}

// Publish writes ev to the configured topic.
func (p *KafkaPublisher) Publish(ctx context.Context, ev ScoreChanged) error {
	msg, err := p.message(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish score changed: %w", err)
	}
	p.logger.Debug("score change published",
		zap.String("topic", p.topic),
		zap.String("user_id", ev.UserID),
		zap.String("action_id", ev.ActionID))
	return nil
}

func (p *KafkaPublisher) message(ev ScoreChanged) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal score changed: %w", err)
	}
	return kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.UserID),
		Value: data,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(ev.Action)},
		},
	}, nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// #endregion kafka
