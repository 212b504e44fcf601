package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/ordersvc/domain"
	"example.com/ordersvc/eventstore"
)

// countingPublisher records deliveries and fails the first n calls.
type countingPublisher struct {
	mu        sync.Mutex
	delivered []domain.Event
	failures  int
}

func (p *countingPublisher) Publish(_ context.Context, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return domain.ErrPublish
	}
	p.delivered = append(p.delivered, events...)
	return nil
}

func (p *countingPublisher) Close() error { return nil }

func seedUnpublished(t *testing.T, store *eventstore.MemoryEventStore) []domain.Event {
	t.Helper()
	events := []domain.Event{
		testEvent("order-1", 0, domain.OrderCreated, domain.OrderCreatedEvent{
			CustomerID:      "customer-1",
			Items:           []domain.OrderItem{{ProductID: "p", ProductName: "n", Quantity: 1, UnitPrice: 10}},
			TotalAmount:     10,
			ShippingAddress: "1 Main St",
		}),
		paidEvent("order-1", 1),
	}
	require.NoError(t, store.Append(context.Background(), "order-1", events, domain.NoVersion))
	return events
}

func TestSweepOnceRepublishesBacklog(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryEventStore()
	events := seedUnpublished(t, store)
	publisher := &countingPublisher{}

	// Zero grace period: everything already stored is eligible.
	sweeper := NewSweeper(store, publisher, 10, time.Second, -time.Second)
	published, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, published)

	require.Len(t, publisher.delivered, 2)
	require.Equal(t, events[0].ID, publisher.delivered[0].ID, "storage order is preserved")

	backlog, err := store.UnpublishedEvents(ctx, time.Now().UTC().Add(time.Second), 10)
	require.NoError(t, err)
	require.Empty(t, backlog)

	// A second sweep has nothing left to do.
	published, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, published)
}

func TestSweepOnceRespectsGracePeriod(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryEventStore()
	seedUnpublished(t, store)
	publisher := &countingPublisher{}

	// A long grace period shields just-stored events from the sweep; the
	// command path may still be publishing them.
	sweeper := NewSweeper(store, publisher, 10, time.Second, time.Hour)
	published, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, published)
	require.Empty(t, publisher.delivered)
}

func TestSweepOnceStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryEventStore()
	seedUnpublished(t, store)
	publisher := &countingPublisher{failures: 1}

	sweeper := NewSweeper(store, publisher, 10, time.Second, -time.Second)
	published, err := sweeper.SweepOnce(ctx)
	require.ErrorIs(t, err, domain.ErrPublish)
	require.Zero(t, published, "version 1 must not overtake version 0")

	// The next sweep picks up where the failed one left off, in order.
	published, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, published)
	require.Equal(t, 0, publisher.delivered[0].Version)
	require.Equal(t, 1, publisher.delivered[1].Version)
}

func TestSweeperStartStop(t *testing.T) {
	store := eventstore.NewMemoryEventStore()
	publisher := &countingPublisher{}
	sweeper := NewSweeper(store, publisher, 10, 10*time.Millisecond, -time.Second)

	sweeper.Start()
	sweeper.Start() // second Start is a no-op
	sweeper.Stop()
	sweeper.Stop() // second Stop is a no-op
}
