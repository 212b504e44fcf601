package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleItems() []OrderItem {
	return []OrderItem{
		{ProductID: "prod-1", ProductName: "Keyboard", Quantity: 2, UnitPrice: 10.00},
		{ProductID: "prod-2", ProductName: "Mouse", Quantity: 1, UnitPrice: 5.50},
	}
}

func createdOrder(t *testing.T) *OrderAggregate {
	t.Helper()
	aggregate := NewOrderAggregate("order-1")
	require.NoError(t, aggregate.Create("customer-1", sampleItems(), "1 Main St"))
	return aggregate
}

func paidOrder(t *testing.T) *OrderAggregate {
	t.Helper()
	aggregate := createdOrder(t)
	require.NoError(t, aggregate.MarkPaid("pay-1", 25.50, "card"))
	return aggregate
}

func TestCreate(t *testing.T) {
	aggregate := createdOrder(t)

	require.Equal(t, 0, aggregate.GetVersion())
	require.Equal(t, StatusCreated, aggregate.State.Status)
	require.Equal(t, "customer-1", aggregate.State.CustomerID)
	require.Equal(t, 25.50, aggregate.State.TotalAmount)

	events := aggregate.GetUncommittedEvents()
	require.Len(t, events, 1)
	require.Equal(t, OrderCreated, events[0].Kind)
	require.Equal(t, "order-1", events[0].AggregateID)
	require.Equal(t, AggregateTypeOrder, events[0].AggregateType)
	require.Equal(t, 0, events[0].Version)
	require.NotEmpty(t, events[0].ID)
	require.False(t, events[0].Timestamp.IsZero())

	data, ok := events[0].Data.(OrderCreatedEvent)
	require.True(t, ok)
	require.Equal(t, 25.50, data.TotalAmount)
	require.Len(t, data.Items, 2)
}

func TestCreateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		items []OrderItem
	}{
		{"no items", nil},
		{"zero quantity", []OrderItem{{ProductID: "p", ProductName: "n", Quantity: 0, UnitPrice: 1}}},
		{"negative price", []OrderItem{{ProductID: "p", ProductName: "n", Quantity: 1, UnitPrice: -0.01}}},
		{"missing product id", []OrderItem{{ProductName: "n", Quantity: 1, UnitPrice: 1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			aggregate := NewOrderAggregate("order-1")
			err := aggregate.Create("customer-1", tc.items, "1 Main St")
			require.ErrorIs(t, err, ErrInvalidCommand)
			require.Empty(t, aggregate.GetUncommittedEvents())
			require.Equal(t, NoVersion, aggregate.GetVersion())
		})
	}
}

func TestCreateTwiceIsIllegal(t *testing.T) {
	aggregate := createdOrder(t)
	err := aggregate.Create("customer-1", sampleItems(), "1 Main St")
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Len(t, aggregate.GetUncommittedEvents(), 1)
}

func TestMarkPaid(t *testing.T) {
	aggregate := paidOrder(t)

	require.Equal(t, 1, aggregate.GetVersion())
	require.Equal(t, StatusPaid, aggregate.State.Status)
	require.Equal(t, "pay-1", aggregate.State.PaymentID)

	events := aggregate.GetUncommittedEvents()
	require.Len(t, events, 2)
	require.Equal(t, OrderPaid, events[1].Kind)
	require.Equal(t, 1, events[1].Version)
}

func TestMarkPaidAmountMustMatchTotal(t *testing.T) {
	aggregate := createdOrder(t)
	err := aggregate.MarkPaid("pay-1", 25.49, "card")
	require.ErrorIs(t, err, ErrInvalidCommand)
	require.Equal(t, StatusCreated, aggregate.State.Status)
	require.Len(t, aggregate.GetUncommittedEvents(), 1)
}

func TestMarkPaidToleratesFloatNoise(t *testing.T) {
	aggregate := NewOrderAggregate("order-1")
	// 3 * 0.10 accumulates to 0.30000000000000004 in naive float math.
	items := []OrderItem{{ProductID: "p", ProductName: "n", Quantity: 3, UnitPrice: 0.10}}
	require.NoError(t, aggregate.Create("customer-1", items, "1 Main St"))
	require.Equal(t, 0.30, aggregate.State.TotalAmount)
	require.NoError(t, aggregate.MarkPaid("pay-1", 0.1+0.1+0.1, "card"))
}

func TestShip(t *testing.T) {
	aggregate := paidOrder(t)
	require.NoError(t, aggregate.Ship("ship-1", "TRK-1"))

	require.Equal(t, 2, aggregate.GetVersion())
	require.Equal(t, StatusShipped, aggregate.State.Status)
	require.Equal(t, "TRK-1", aggregate.State.TrackingNumber)

	events := aggregate.GetUncommittedEvents()
	data, ok := events[2].Data.(OrderShippedEvent)
	require.True(t, ok)
	require.False(t, data.ShippedDate.IsZero())
}

func TestCancelBeforePaymentNeedsNoRefund(t *testing.T) {
	aggregate := createdOrder(t)
	require.NoError(t, aggregate.Cancel("changed my mind"))

	require.Equal(t, StatusCancelled, aggregate.State.Status)
	events := aggregate.GetUncommittedEvents()
	data, ok := events[1].Data.(OrderCancelledEvent)
	require.True(t, ok)
	require.False(t, data.RefundRequired)
	require.Equal(t, "changed my mind", data.Reason)
}

func TestCancelAfterPaymentRequiresRefund(t *testing.T) {
	aggregate := paidOrder(t)
	require.NoError(t, aggregate.Cancel("fraud"))

	events := aggregate.GetUncommittedEvents()
	data, ok := events[2].Data.(OrderCancelledEvent)
	require.True(t, ok)
	require.True(t, data.RefundRequired)
}

func TestTransitionTable(t *testing.T) {
	build := map[string]func(t *testing.T) *OrderAggregate{
		StatusCreated: createdOrder,
		StatusPaid:    paidOrder,
		StatusShipped: func(t *testing.T) *OrderAggregate {
			aggregate := paidOrder(t)
			require.NoError(t, aggregate.Ship("ship-1", "TRK-1"))
			return aggregate
		},
		StatusCancelled: func(t *testing.T) *OrderAggregate {
			aggregate := createdOrder(t)
			require.NoError(t, aggregate.Cancel("no stock"))
			return aggregate
		},
	}
	allowed := map[string]map[string]bool{
		StatusCreated:   {"pay": true, "ship": false, "cancel": true},
		StatusPaid:      {"pay": false, "ship": true, "cancel": true},
		StatusShipped:   {"pay": false, "ship": false, "cancel": false},
		StatusCancelled: {"pay": false, "ship": false, "cancel": false},
	}
	ops := map[string]func(*OrderAggregate) error{
		"pay": func(a *OrderAggregate) error {
			return a.MarkPaid("pay-x", a.State.TotalAmount, "card")
		},
		"ship": func(a *OrderAggregate) error {
			return a.Ship("ship-x", "TRK-X")
		},
		"cancel": func(a *OrderAggregate) error {
			return a.Cancel("because")
		},
	}

	for status, fromStatus := range build {
		for op, legal := range allowed[status] {
			t.Run(status+"_"+op, func(t *testing.T) {
				aggregate := fromStatus(t)
				err := ops[op](aggregate)
				if legal {
					require.NoError(t, err)
				} else {
					require.ErrorIs(t, err, ErrIllegalTransition)
				}
			})
		}
	}
}

func TestRehydrationMatchesLiveState(t *testing.T) {
	aggregate := paidOrder(t)
	require.NoError(t, aggregate.Ship("ship-1", "TRK-1"))

	replayed := NewOrderAggregate("order-1")
	require.NoError(t, replayed.LoadFromHistory(aggregate.GetUncommittedEvents()))

	require.Equal(t, aggregate.State, replayed.State)
	require.Equal(t, 2, replayed.GetVersion())
	require.Empty(t, replayed.GetUncommittedEvents())
}

func TestLoadFromHistoryDetectsGaps(t *testing.T) {
	aggregate := paidOrder(t)
	events := aggregate.GetUncommittedEvents()

	t.Run("gap", func(t *testing.T) {
		bad := []Event{events[0], events[1]}
		bad[1].Version = 3
		err := NewOrderAggregate("order-1").LoadFromHistory(bad)
		require.ErrorIs(t, err, ErrCorruptStream)
	})

	t.Run("does not start at zero", func(t *testing.T) {
		err := NewOrderAggregate("order-1").LoadFromHistory(events[1:])
		require.ErrorIs(t, err, ErrCorruptStream)
	})
}

func TestSnapshotRoundtrip(t *testing.T) {
	aggregate := paidOrder(t)
	state, err := aggregate.SnapshotState()
	require.NoError(t, err)

	restored := NewOrderAggregate("order-1")
	require.NoError(t, restored.RestoreSnapshot(state, aggregate.GetVersion()))
	require.Equal(t, aggregate.State, restored.State)
	require.Equal(t, aggregate.GetVersion(), restored.GetVersion())

	// Restored aggregates accept the next command as usual.
	require.NoError(t, restored.Ship("ship-1", "TRK-1"))
	require.Equal(t, 2, restored.GetVersion())
}

func TestRestoreSnapshotRejectsUnknownSchema(t *testing.T) {
	restored := NewOrderAggregate("order-1")
	err := restored.RestoreSnapshot([]byte(`{"schema_version":99,"state":{}}`), 5)
	require.Error(t, err)
	require.Equal(t, NoVersion, restored.GetVersion())
}

func TestOrderSnapshotter(t *testing.T) {
	aggregate := paidOrder(t)
	state, err := OrderSnapshotter("order-1", aggregate.GetUncommittedEvents())
	require.NoError(t, err)

	restored := NewOrderAggregate("order-1")
	require.NoError(t, restored.RestoreSnapshot(state, 1))
	require.Equal(t, StatusPaid, restored.State.Status)
}

func TestDecodePayloadRoundtrip(t *testing.T) {
	_, err := DecodePayload("exploded", []byte(`{}`))
	require.Error(t, err)

	data, err := DecodePayload(OrderCancelled, []byte(`{"reason":"fraud","refund_required":true}`))
	require.NoError(t, err)
	cancelled, ok := data.(OrderCancelledEvent)
	require.True(t, ok)
	require.True(t, cancelled.RefundRequired)
}
