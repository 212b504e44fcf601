package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"example.com/ordersvc/config"
	"example.com/ordersvc/domain"
)

// commandFetcher is the slice of *kafka.Reader the consumer uses; tests
// substitute a scripted fetcher.
type commandFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CommandConsumer tails the commands topic and feeds the processor. Offsets
// are committed manually: a command's offset is acknowledged once it either
// succeeded or was rejected for a terminal reason. Transient infrastructure
// failures stop the loop without committing, so a restart redelivers.
type CommandConsumer struct {
	reader    commandFetcher
	processor *Processor
}

// NewCommandConsumer builds a consumer from config.
func NewCommandConsumer(cfg *config.Config, processor *Processor) *CommandConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.ConsumerBootstrap,
		GroupID:     cfg.CommandsGroupID,
		Topic:       cfg.CommandsTopic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &CommandConsumer{reader: reader, processor: processor}
}

// Run consumes commands until the context is canceled or an infrastructure
// error forces a restart.
func (c *CommandConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to fetch command: %w", err)
		}
		if err := c.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *CommandConsumer) handle(ctx context.Context, msg kafka.Message) error {
	err := c.processor.ProcessMessage(ctx, msg.Value)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPublish):
		// Events are stored; the outbox sweep will deliver them.
		log.Warn().Err(err).Int64("offset", msg.Offset).Msg("Command stored events but publish is deferred")
	case isCommandRejection(err):
		log.Error().Err(err).Int64("offset", msg.Offset).Msg("Command rejected")
	default:
		return err
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit command offset: %w", err)
	}
	return nil
}

// Close shuts down the group reader.
func (c *CommandConsumer) Close() error {
	return c.reader.Close()
}

// isCommandRejection reports whether the error is a terminal verdict on the
// command rather than a transient infrastructure failure. Rejected commands
// must not be redelivered; replaying them cannot change the outcome.
func isCommandRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidCommand) ||
		errors.Is(err, domain.ErrIllegalTransition) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConcurrencyConflict)
}
