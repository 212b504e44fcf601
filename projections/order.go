// Package projections consumes published order events and maintains the
// relational read model, in strict per-order version order, exactly once in
// effect.
package projections

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"example.com/ordersvc/domain"
	"example.com/ordersvc/models"
	"example.com/ordersvc/readmodel"
)

// ErrParkedLimit means an aggregate accumulated more out-of-order events than
// the parking buffer allows. This indicates event loss or a corrupt stream and
// needs an operator; the consumer stops rather than silently dropping events.
var ErrParkedLimit = errors.New("parked event limit exceeded")

type applyOutcome int

const (
	outcomeApplied applyOutcome = iota
	outcomeDuplicate
	outcomeGap
)

type parkedEvent struct {
	event domain.Event
	ack   interface{}
}

// OrderProjector applies order events to the read model. The row's version
// column drives idempotence: an event at or below the row version is a
// duplicate, the next version applies, anything later parks until the gap
// closes.
//
// The projector is not safe for concurrent use. The consumer drives it from a
// single goroutine, which is also what Kafka's one-consumer-per-partition
// model provides.
type OrderProjector struct {
	store     readmodel.Store
	cache     *readmodel.Cache
	indexer   *OrderIndexer
	maxParked int
	parked    map[string][]parkedEvent
}

// NewOrderProjector creates a projector. cache and indexer may be nil;
// maxParked bounds the per-aggregate parking buffer.
func NewOrderProjector(store readmodel.Store, cache *readmodel.Cache, indexer *OrderIndexer, maxParked int) *OrderProjector {
	if maxParked < 1 {
		maxParked = 128
	}
	return &OrderProjector{
		store:     store,
		cache:     cache,
		indexer:   indexer,
		maxParked: maxParked,
		parked:    make(map[string][]parkedEvent),
	}
}

// Project offers one event to the read model, then drains any parked
// successors that became applicable. It returns the ack tokens of every event
// that is now durably applied (or was a duplicate); the caller may acknowledge
// exactly those. A parked event returns no ack: its token is surrendered until
// the gap closes.
func (p *OrderProjector) Project(ctx context.Context, event domain.Event, ack interface{}) ([]interface{}, error) {
	outcome, err := p.applyOne(ctx, event)
	if err != nil {
		return nil, err
	}
	if outcome == outcomeGap {
		if err := p.park(event, ack); err != nil {
			return nil, err
		}
		return nil, nil
	}

	acks := []interface{}{ack}
	drained, err := p.drain(ctx, event.AggregateID)
	acks = append(acks, drained...)
	return acks, err
}

// ParkedCount reports how many events are parked for the aggregate.
func (p *OrderProjector) ParkedCount(aggregateID string) int {
	return len(p.parked[aggregateID])
}

// applyOne runs the version check and the event's effect in one transaction.
func (p *OrderProjector) applyOne(ctx context.Context, event domain.Event) (applyOutcome, error) {
	var outcome applyOutcome
	err := p.store.WithTransaction(ctx, func(tx readmodel.Store) error {
		current, err := tx.OrderVersion(ctx, event.AggregateID)
		if err != nil {
			return err
		}
		switch {
		case event.Version <= current:
			outcome = outcomeDuplicate
			return nil
		case event.Version > current+1:
			outcome = outcomeGap
			return nil
		}
		outcome = outcomeApplied
		return p.applyEffect(ctx, tx, event)
	})
	if err != nil {
		return 0, err
	}

	switch outcome {
	case outcomeApplied:
		log.Info().
			Str("aggregateID", event.AggregateID).
			Str("kind", event.Kind).
			Int("version", event.Version).
			Msg("Event applied to read model")
		p.afterApply(ctx, event)
	case outcomeDuplicate:
		log.Debug().
			Str("aggregateID", event.AggregateID).
			Int("version", event.Version).
			Msg("Skipping already-applied event")
	}
	return outcome, nil
}

func (p *OrderProjector) applyEffect(ctx context.Context, tx readmodel.Store, event domain.Event) error {
	switch data := event.Data.(type) {
	case domain.OrderCreatedEvent:
		return p.applyCreated(ctx, tx, event, data)
	case domain.OrderPaidEvent:
		return p.applyPaid(ctx, tx, event, data)
	case domain.OrderShippedEvent:
		return p.applyShipped(ctx, tx, event, data)
	case domain.OrderCancelledEvent:
		return p.applyCancelled(ctx, tx, event, data)
	default:
		return fmt.Errorf("unknown event payload type: %T", event.Data)
	}
}

func (p *OrderProjector) applyCreated(ctx context.Context, tx readmodel.Store, event domain.Event, data domain.OrderCreatedEvent) error {
	items := make([]models.OrderItem, len(data.Items))
	for i, item := range data.Items {
		items[i] = models.OrderItem{
			OrderID:     event.AggregateID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		}
	}
	order := &models.Order{
		ID:              event.AggregateID,
		CustomerID:      data.CustomerID,
		Status:          domain.StatusCreated,
		TotalAmount:     data.TotalAmount,
		ShippingAddress: data.ShippingAddress,
		Version:         event.Version,
		CreatedAt:       event.Timestamp,
		UpdatedAt:       event.Timestamp,
		Items:           items,
		StatusHistory: []models.OrderStatusHistory{{
			OrderID:   event.AggregateID,
			Status:    domain.StatusCreated,
			Timestamp: event.Timestamp,
		}},
	}
	return tx.InsertOrder(ctx, order)
}

func (p *OrderProjector) applyPaid(ctx context.Context, tx readmodel.Store, event domain.Event, data domain.OrderPaidEvent) error {
	if err := tx.UpdateOrder(ctx, event.AggregateID, map[string]interface{}{
		"status":         domain.StatusPaid,
		"version":        event.Version,
		"updated_at":     event.Timestamp,
		"payment_id":     data.PaymentID,
		"payment_method": data.PaymentMethod,
	}); err != nil {
		return err
	}
	return tx.AppendStatusHistory(ctx, &models.OrderStatusHistory{
		OrderID:   event.AggregateID,
		Status:    domain.StatusPaid,
		Timestamp: event.Timestamp,
	})
}

func (p *OrderProjector) applyShipped(ctx context.Context, tx readmodel.Store, event domain.Event, data domain.OrderShippedEvent) error {
	if err := tx.UpdateOrder(ctx, event.AggregateID, map[string]interface{}{
		"status":          domain.StatusShipped,
		"version":         event.Version,
		"updated_at":      event.Timestamp,
		"shipment_id":     data.ShipmentID,
		"tracking_number": data.TrackingNumber,
	}); err != nil {
		return err
	}
	return tx.AppendStatusHistory(ctx, &models.OrderStatusHistory{
		OrderID:   event.AggregateID,
		Status:    domain.StatusShipped,
		Timestamp: event.Timestamp,
	})
}

func (p *OrderProjector) applyCancelled(ctx context.Context, tx readmodel.Store, event domain.Event, data domain.OrderCancelledEvent) error {
	if err := tx.UpdateOrder(ctx, event.AggregateID, map[string]interface{}{
		"status":     domain.StatusCancelled,
		"version":    event.Version,
		"updated_at": event.Timestamp,
	}); err != nil {
		return err
	}
	reason := data.Reason
	return tx.AppendStatusHistory(ctx, &models.OrderStatusHistory{
		OrderID:   event.AggregateID,
		Status:    domain.StatusCancelled,
		Timestamp: event.Timestamp,
		Reason:    &reason,
	})
}

// afterApply refreshes the secondary read surfaces once the transaction has
// committed. Both are best effort; the relational read model is authoritative.
func (p *OrderProjector) afterApply(ctx context.Context, event domain.Event) {
	if p.cache != nil {
		p.cache.Invalidate(ctx, event.AggregateID)
	}
	if p.indexer != nil {
		if err := p.indexer.IndexOrder(ctx, event.AggregateID); err != nil {
			log.Warn().Err(err).Str("aggregateID", event.AggregateID).Msg("Failed to index order")
		}
	}
}

// park holds an out-of-order event, sorted by version, until its predecessors
// arrive. Duplicate versions are parked alongside each other; drain resolves
// the extras as duplicates so their acks are still released.
func (p *OrderProjector) park(event domain.Event, ack interface{}) error {
	queue := p.parked[event.AggregateID]
	if len(queue) >= p.maxParked {
		return fmt.Errorf("%w: aggregate %s has %d events waiting, version %d will not fit",
			ErrParkedLimit, event.AggregateID, len(queue), event.Version)
	}
	idx := sort.Search(len(queue), func(i int) bool {
		return queue[i].event.Version > event.Version
	})
	queue = append(queue, parkedEvent{})
	copy(queue[idx+1:], queue[idx:])
	queue[idx] = parkedEvent{event: event, ack: ack}
	p.parked[event.AggregateID] = queue

	log.Warn().
		Str("aggregateID", event.AggregateID).
		Int("version", event.Version).
		Int("parked", len(queue)).
		Msg("Event parked waiting for earlier versions")
	return nil
}

// drain applies parked events in version order until it hits a gap or an
// error, returning the ack tokens of everything it resolved. A failed entry
// stays parked; a later Project call for the same aggregate retries it.
func (p *OrderProjector) drain(ctx context.Context, aggregateID string) ([]interface{}, error) {
	var acks []interface{}
	for {
		queue := p.parked[aggregateID]
		if len(queue) == 0 {
			return acks, nil
		}
		next := queue[0]
		outcome, err := p.applyOne(ctx, next.event)
		if err != nil {
			return acks, err
		}
		if outcome == outcomeGap {
			return acks, nil
		}
		if len(queue) == 1 {
			delete(p.parked, aggregateID)
		} else {
			p.parked[aggregateID] = queue[1:]
		}
		acks = append(acks, next.ack)
	}
}
