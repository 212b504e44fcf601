package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/ordersvc/domain"
	"example.com/ordersvc/eventstore"
)

// Sweeper republishes events that were stored but never reached the event log,
// closing the window where the command handler crashed or exhausted publish
// retries between append and publish. Republication may duplicate deliveries;
// the projector's idempotent apply absorbs that.
type Sweeper struct {
	store       eventstore.EventStore
	publisher   EventPublisher
	batchSize   int
	interval    time.Duration
	gracePeriod time.Duration

	running  bool
	mutex    sync.Mutex
	stopChan chan struct{}
}

// NewSweeper creates a sweeper. gracePeriod keeps the sweep from racing
// publishes still in flight on the command path.
func NewSweeper(store eventstore.EventStore, publisher EventPublisher, batchSize int, interval, gracePeriod time.Duration) *Sweeper {
	return &Sweeper{
		store:       store,
		publisher:   publisher,
		batchSize:   batchSize,
		interval:    interval,
		gracePeriod: gracePeriod,
	}
}

// Start launches the sweep loop in the background.
func (s *Sweeper) Start() {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mutex.Unlock()

	log.Info().Dur("interval", s.interval).Msg("Starting outbox sweeper")
	go s.sweepLoop()
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	log.Info().Msg("Outbox sweeper stopped")
}

func (s *Sweeper) sweepLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(context.Background()); err != nil {
				log.Error().Err(err).Msg("Outbox sweep failed")
			}
		}
	}
}

// SweepOnce republishes one batch of unpublished events and returns how many
// were delivered. It stops at the first failure so a later event of the same
// aggregate is never published ahead of an earlier one; the next tick retries.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.gracePeriod)
	events, err := s.store.UnpublishedEvents(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	log.Info().Int("count", len(events)).Msg("Republishing unpublished events")

	published := 0
	for _, event := range events {
		if err := s.publisher.Publish(ctx, []domain.Event{event}); err != nil {
			return published, err
		}
		if err := s.store.MarkPublished(ctx, []string{event.ID}); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}
