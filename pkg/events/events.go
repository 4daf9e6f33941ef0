// Package events publishes ingestion lifecycle events.
//
// A run emits file.completed and file.failed for every processed file and a
// single run.finished with the run statistics. With brokers configured the
// events go to Kafka as JSON; otherwise they are dropped.
package events

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/config"
	"github.com/ajitpratap0/gaiadb/pkg/errors"
)

// Type names an event.
type Type string

const (
	TypeFileCompleted Type = "file.completed"
	TypeFileFailed    Type = "file.failed"
	TypeRunFinished   Type = "run.finished"
)

// Event is the published payload.
type Event struct {
	Type      Type      `json:"type"`
	RunID     string    `json:"run_id"`
	Dataset   string    `json:"dataset"`
	URL       string    `json:"url,omitempty"`
	Rows      int64     `json:"rows"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Stats is set on run.finished
	Stats map[string]int64 `json:"stats,omitempty"`
}

// key partitions file events by url and run events by run id.
func (e Event) key() string {
	if e.URL != "" {
		return e.URL
	}
	return e.RunID
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// New returns a Kafka publisher when brokers are configured, otherwise Nop.
func New(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return Nop{}, nil
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig(cfg))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "failed to connect to brokers %v", cfg.Brokers)
	}
	logger.Info("event publisher connected",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))
	return NewKafkaPublisher(producer, cfg.Topic, logger), nil
}

func saramaConfig(cfg config.EventsConfig) *sarama.Config {
	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Compression = sarama.CompressionLZ4
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	return sc
}

// KafkaPublisher sends events through a synchronous producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaPublisher wraps an existing producer.
func NewKafkaPublisher(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.With(zap.String("component", "events")),
	}
}

// Publish sends one event and waits for the acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := gojson.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode event")
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.key()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(event.Type)},
		},
		Timestamp: event.Timestamp,
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "failed to publish %s", event.Type).
			WithDetail("run_id", event.RunID)
	}

	p.logger.Debug("event published",
		zap.String("type", string(event.Type)),
		zap.String("run_id", event.RunID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close producer")
	}
	return nil
}
