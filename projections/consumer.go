package projections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"example.com/ordersvc/config"
	"example.com/ordersvc/domain"
	"example.com/ordersvc/messaging"
	"example.com/ordersvc/utils"
)

// eventFetcher is the slice of *kafka.Reader the consumer uses; tests
// substitute a scripted fetcher.
type eventFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// deadLetterWriter is the slice of *kafka.Writer used for poison messages.
type deadLetterWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer tails the order event topics as one consumer group member and
// drives the projector. Offsets are committed only after the read-model
// transaction commits, and only up to the contiguous applied prefix of each
// partition.
type Consumer struct {
	reader     eventFetcher
	projector  *OrderProjector
	deadletter deadLetterWriter
	tracker    *offsetTracker
}

// NewConsumer builds a consumer from config. deadletter may be nil, in which
// case poison messages are logged and skipped.
func NewConsumer(cfg *config.Config, projector *OrderProjector, deadletter deadLetterWriter) *Consumer {
	startOffset := kafka.FirstOffset
	if cfg.ConsumerAutoOffsetReset == "latest" {
		startOffset = kafka.LastOffset
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.ConsumerBootstrap,
		GroupID:     cfg.ConsumerGroupID,
		GroupTopics: messaging.EventTopics(),
		StartOffset: startOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{
		reader:     reader,
		projector:  projector,
		deadletter: deadletter,
		tracker:    newOffsetTracker(),
	}
}

// Run consumes until the context is canceled or the projector fails hard.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to fetch event: %w", err)
		}
		if err := c.process(ctx, msg); err != nil {
			return err
		}
	}
}

// Close shuts down the group reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	c.tracker.Fetched(msg)

	event, err := decodeMessage(msg)
	if err != nil {
		// Poison message: it can never apply, so it must not block the
		// partition. Route to the dead-letter topic and release its offset.
		log.Error().Err(err).
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Undecodable event, routing to dead letter")
		c.sendDeadLetter(ctx, msg, err)
		return c.commitApplied(ctx, []interface{}{msg})
	}

	for attempt := 1; ; attempt++ {
		acks, err := c.projector.Project(ctx, event, msg)
		// A failed drain can still have applied a prefix; its acks must not be
		// lost or the partition watermark would pin until restart.
		if commitErr := c.commitApplied(ctx, acks); commitErr != nil {
			return commitErr
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrParkedLimit) {
			return err
		}
		// Transient read-model failure: back off and retry without
		// acknowledging, forever. Skipping would lose the event.
		log.Warn().Err(err).
			Str("aggregateID", event.AggregateID).
			Int("attempt", attempt).
			Msg("Projection failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(utils.BackoffDelay(attempt)):
		}
	}
}

// commitApplied feeds applied messages to the tracker and commits whatever
// watermarks advanced.
func (c *Consumer) commitApplied(ctx context.Context, acks []interface{}) error {
	var commits []kafka.Message
	for _, ack := range acks {
		msg, ok := ack.(kafka.Message)
		if !ok {
			continue
		}
		if watermark, ready := c.tracker.Applied(msg); ready {
			commits = append(commits, watermark)
		}
	}
	if len(commits) == 0 {
		return nil
	}
	if err := c.reader.CommitMessages(ctx, commits...); err != nil {
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	return nil
}

type deadLetter struct {
	SourceTopic string `json:"source_topic"`
	Partition   int    `json:"partition"`
	Offset      int64  `json:"offset"`
	Error       string `json:"error"`
	Payload     []byte `json:"payload"`
}

func (c *Consumer) sendDeadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.deadletter == nil {
		return
	}
	body, err := json.Marshal(deadLetter{
		SourceTopic: msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Error:       cause.Error(),
		Payload:     msg.Value,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode dead letter")
		return
	}
	if err := c.deadletter.WriteMessages(ctx, kafka.Message{
		Topic: messaging.DeadLetterTopic,
		Key:   msg.Key,
		Value: body,
	}); err != nil {
		log.Error().Err(err).Msg("Failed to write dead letter")
	}
}

// decodeMessage parses the envelope and checks it against the topic it arrived
// on: an envelope whose kind disagrees with its topic is poison, not merely
// misrouted.
func decodeMessage(msg kafka.Message) (domain.Event, error) {
	envelope, err := messaging.DecodeEnvelope(msg.Value)
	if err != nil {
		return domain.Event{}, err
	}
	kind := strings.TrimPrefix(msg.Topic, messaging.TopicPrefix+".")
	if envelope.Kind != kind {
		return domain.Event{}, fmt.Errorf("envelope kind %q does not match topic %q", envelope.Kind, msg.Topic)
	}
	return envelope.DomainEvent()
}
