package projections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/ordersvc/domain"
	"example.com/ordersvc/readmodel"
)

var eventBase = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func orderEvent(orderID string, version int, kind string, data interface{}) domain.Event {
	return domain.Event{
		ID:            uuid.New().String(),
		AggregateID:   orderID,
		AggregateType: domain.AggregateTypeOrder,
		Kind:          kind,
		Version:       version,
		Timestamp:     eventBase.Add(time.Duration(version) * time.Minute),
		Data:          data,
	}
}

func createdEvent(orderID string) domain.Event {
	return orderEvent(orderID, 0, domain.OrderCreated, domain.OrderCreatedEvent{
		CustomerID: "customer-1",
		Items: []domain.OrderItem{
			{ProductID: "prod-1", ProductName: "Keyboard", Quantity: 2, UnitPrice: 10.00},
			{ProductID: "prod-2", ProductName: "Mouse", Quantity: 1, UnitPrice: 5.50},
		},
		TotalAmount:     25.50,
		ShippingAddress: "1 Main St",
	})
}

func paidEvent(orderID string) domain.Event {
	return orderEvent(orderID, 1, domain.OrderPaid, domain.OrderPaidEvent{
		PaymentID: "pay-1", AmountPaid: 25.50, PaymentMethod: "card",
	})
}

func shippedEvent(orderID string) domain.Event {
	return orderEvent(orderID, 2, domain.OrderShipped, domain.OrderShippedEvent{
		ShipmentID: "ship-1", TrackingNumber: "TRK-1", ShippedDate: eventBase.Add(2 * time.Minute),
	})
}

func cancelledEvent(orderID string, version int, reason string) domain.Event {
	return orderEvent(orderID, version, domain.OrderCancelled, domain.OrderCancelledEvent{
		Reason: reason, RefundRequired: version > 1,
	})
}

func newTestProjector(maxParked int) (*OrderProjector, *readmodel.MemoryStore) {
	store := readmodel.NewMemoryStore()
	return NewOrderProjector(store, nil, nil, maxParked), store
}

func TestProjectLifecycle(t *testing.T) {
	ctx := context.Background()
	projector, store := newTestProjector(16)

	acks, err := projector.Project(ctx, createdEvent("order-1"), "a0")
	require.NoError(t, err)
	require.Equal(t, []interface{}{"a0"}, acks)

	order, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCreated, order.Status)
	require.Equal(t, 0, order.Version)
	require.Equal(t, 25.50, order.TotalAmount)
	require.Len(t, order.Items, 2)
	require.Len(t, order.StatusHistory, 1)
	require.Equal(t, eventBase, order.CreatedAt)

	acks, err = projector.Project(ctx, paidEvent("order-1"), "a1")
	require.NoError(t, err)
	require.Equal(t, []interface{}{"a1"}, acks)

	acks, err = projector.Project(ctx, shippedEvent("order-1"), "a2")
	require.NoError(t, err)
	require.Equal(t, []interface{}{"a2"}, acks)

	order, err = store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusShipped, order.Status)
	require.Equal(t, 2, order.Version)
	require.NotNil(t, order.PaymentID)
	require.Equal(t, "pay-1", *order.PaymentID)
	require.NotNil(t, order.TrackingNumber)
	require.Equal(t, "TRK-1", *order.TrackingNumber)

	require.Len(t, order.StatusHistory, 3)
	statuses := []string{order.StatusHistory[0].Status, order.StatusHistory[1].Status, order.StatusHistory[2].Status}
	require.Equal(t, []string{domain.StatusCreated, domain.StatusPaid, domain.StatusShipped}, statuses)
}

func TestProjectDuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	projector, store := newTestProjector(16)

	created := createdEvent("order-1")
	_, err := projector.Project(ctx, created, "a0")
	require.NoError(t, err)

	// Redelivery of the same event must still release its ack but change
	// nothing.
	acks, err := projector.Project(ctx, created, "a0-redelivered")
	require.NoError(t, err)
	require.Equal(t, []interface{}{"a0-redelivered"}, acks)

	order, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, 0, order.Version)
	require.Len(t, order.StatusHistory, 1)
	require.Len(t, order.Items, 2)
}

func TestProjectOutOfOrderParksThenDrains(t *testing.T) {
	ctx := context.Background()
	projector, store := newTestProjector(16)

	// paid (v1) arrives before created (v0).
	acks, err := projector.Project(ctx, paidEvent("order-1"), "paid-ack")
	require.NoError(t, err)
	require.Empty(t, acks)
	require.Equal(t, 1, projector.ParkedCount("order-1"))

	_, err = store.GetOrder(ctx, "order-1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	acks, err = projector.Project(ctx, createdEvent("order-1"), "created-ack")
	require.NoError(t, err)
	require.Equal(t, []interface{}{"created-ack", "paid-ack"}, acks)
	require.Zero(t, projector.ParkedCount("order-1"))

	order, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, order.Status)
	require.Equal(t, 1, order.Version)
	require.Len(t, order.StatusHistory, 2)
}

func TestProjectRedeliveryAfterDrainIsNoop(t *testing.T) {
	ctx := context.Background()
	projector, store := newTestProjector(16)

	// Paid arrives first and parks; created closes the gap and drains it. The
	// broker then redelivers paid, which must resolve as a duplicate.
	_, err := projector.Project(ctx, paidEvent("order-1"), "paid-ack")
	require.NoError(t, err)
	_, err = projector.Project(ctx, createdEvent("order-1"), "created-ack")
	require.NoError(t, err)

	acks, err := projector.Project(ctx, paidEvent("order-1"), "paid-redelivered")
	require.NoError(t, err)
	require.Equal(t, []interface{}{"paid-redelivered"}, acks)

	order, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, order.Status)
	require.Equal(t, 1, order.Version)
	require.Len(t, order.StatusHistory, 2, "redelivery must not duplicate the audit trail")
}

func TestProjectParksNonCreatedWithoutRow(t *testing.T) {
	ctx := context.Background()
	projector, store := newTestProjector(16)

	acks, err := projector.Project(ctx, shippedEvent("order-1"), "a2")
	require.NoError(t, err)
	require.Empty(t, acks)
	require.Equal(t, 1, projector.ParkedCount("order-1"))

	_, err = store.GetOrder(ctx, "order-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProjectParkedLimitFailsHard(t *testing.T) {
	ctx := context.Background()
	projector, _ := newTestProjector(2)

	_, err := projector.Project(ctx, paidEvent("order-1"), "a1")
	require.NoError(t, err)
	_, err = projector.Project(ctx, shippedEvent("order-1"), "a2")
	require.NoError(t, err)
	require.Equal(t, 2, projector.ParkedCount("order-1"))

	_, err = projector.Project(ctx, cancelledEvent("order-1", 3, "too late"), "a3")
	require.ErrorIs(t, err, ErrParkedLimit)
}

func TestProjectConvergesUnderAnyArrivalOrder(t *testing.T) {
	ctx := context.Background()
	events := []domain.Event{createdEvent("order-1"), paidEvent("order-1"), shippedEvent("order-1")}
	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, perm := range permutations {
		projector, store := newTestProjector(16)
		var released int
		for _, i := range perm {
			acks, err := projector.Project(ctx, events[i], i)
			require.NoError(t, err)
			released += len(acks)
		}
		require.Equal(t, 3, released, "every event must eventually be acknowledged")
		require.Zero(t, projector.ParkedCount("order-1"))

		order, err := store.GetOrder(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, domain.StatusShipped, order.Status)
		require.Equal(t, 2, order.Version)
		require.Len(t, order.StatusHistory, 3)
	}
}

func TestProjectTransientFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	projector, store := newTestProjector(16)

	store.FailOnce(errors.New("connection reset"))
	_, err := projector.Project(ctx, createdEvent("order-1"), "a0")
	require.Error(t, err)

	acks, err := projector.Project(ctx, createdEvent("order-1"), "a0")
	require.NoError(t, err)
	require.Equal(t, []interface{}{"a0"}, acks)
}

func TestProjectDrainFailureKeepsEventParked(t *testing.T) {
	ctx := context.Background()
	projector, store := newTestProjector(16)

	_, err := projector.Project(ctx, paidEvent("order-1"), "paid-ack")
	require.NoError(t, err)

	// The created event applies (version check + insert, two store calls),
	// then the drain of the parked paid event hits a transient failure on its
	// version check: created's ack is released, paid stays parked.
	store.FailAfter(2, errors.New("connection reset"))
	acks, err := projector.Project(ctx, createdEvent("order-1"), "created-ack")
	require.Error(t, err)
	require.Equal(t, []interface{}{"created-ack"}, acks)
	require.Equal(t, 1, projector.ParkedCount("order-1"))

	// Redelivering the created event resolves it as a duplicate and finishes
	// the drain.
	acks, err = projector.Project(ctx, createdEvent("order-1"), "created-redelivered")
	require.NoError(t, err)
	require.Equal(t, []interface{}{"created-redelivered", "paid-ack"}, acks)
	require.Zero(t, projector.ParkedCount("order-1"))

	order, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, 1, order.Version)
}

func TestProjectCancellationKeepsReason(t *testing.T) {
	ctx := context.Background()
	projector, store := newTestProjector(16)

	_, err := projector.Project(ctx, createdEvent("order-1"), "a0")
	require.NoError(t, err)
	_, err = projector.Project(ctx, paidEvent("order-1"), "a1")
	require.NoError(t, err)
	_, err = projector.Project(ctx, cancelledEvent("order-1", 2, "fraud"), "a2")
	require.NoError(t, err)

	order, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, order.Status)

	last := order.StatusHistory[len(order.StatusHistory)-1]
	require.Equal(t, domain.StatusCancelled, last.Status)
	require.NotNil(t, last.Reason)
	require.Equal(t, "fraud", *last.Reason)

	// Payment details survive cancellation; they feed the refund.
	require.NotNil(t, order.PaymentID)
	require.Equal(t, "pay-1", *order.PaymentID)
}

func TestProjectIsolatesAggregates(t *testing.T) {
	ctx := context.Background()
	projector, store := newTestProjector(16)

	// order-2's paid event parks without affecting order-1's progress.
	_, err := projector.Project(ctx, paidEvent("order-2"), "o2-paid")
	require.NoError(t, err)
	_, err = projector.Project(ctx, createdEvent("order-1"), "o1-created")
	require.NoError(t, err)
	_, err = projector.Project(ctx, paidEvent("order-1"), "o1-paid")
	require.NoError(t, err)

	order, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, order.Status)
	require.Equal(t, 1, projector.ParkedCount("order-2"))

	_, err = projector.Project(ctx, createdEvent("order-2"), "o2-created")
	require.NoError(t, err)
	order, err = store.GetOrder(ctx, "order-2")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, order.Status)
}
