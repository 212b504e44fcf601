package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"example.com/ordersvc/config"
	"example.com/ordersvc/domain"
	"example.com/ordersvc/utils"
)

// kafkaWriter is the slice of *kafka.Writer the publisher uses; tests
// substitute a recorder.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher delivers events to Kafka with acks from all in-sync replicas.
// The hash balancer on the message key pins each aggregate to one partition.
type KafkaPublisher struct {
	writer     kafkaWriter
	maxRetries int
}

// NewKafkaPublisher builds a publisher from config.
func NewKafkaPublisher(cfg *config.Config) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.PublisherBootstrap...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Transport:    &kafka.Transport{ClientID: cfg.PublisherClientID},
	}
	return &KafkaPublisher{writer: writer, maxRetries: cfg.PublisherMaxRetries}
}

// Publish writes one message per event to the event's kind topic, keyed by
// aggregate ID. Transient write failures are retried with backoff; after the
// retry budget the error wraps domain.ErrPublish and the events remain flagged
// unpublished for the outbox sweep.
func (p *KafkaPublisher) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := Encode(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Topic: Topic(event.Kind),
			Key:   []byte(event.AggregateID),
			Value: value,
		})
	}

	var err error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", domain.ErrPublish, ctx.Err())
			case <-time.After(utils.BackoffDelay(attempt - 1)):
			}
		}
		if err = p.writer.WriteMessages(ctx, msgs...); err == nil {
			log.Debug().Int("count", len(msgs)).Msg("Events published")
			return nil
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("Publish attempt failed")
	}
	return fmt.Errorf("%w: %v", domain.ErrPublish, err)
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
