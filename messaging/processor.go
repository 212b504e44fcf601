package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"example.com/ordersvc/domain"
	"example.com/ordersvc/handlers"
)

// Command names accepted on the commands topic.
const (
	CreateOrder = "CreateOrder"
	PayOrder    = "PayOrder"
	ShipOrder   = "ShipOrder"
	CancelOrder = "CancelOrder"
)

// CommandMessage is the envelope producers publish to the commands topic.
type CommandMessage struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

// Processor dispatches command messages to the order handler.
type Processor struct {
	orders *handlers.OrderHandler
}

// NewProcessor creates a processor bound to the order handler.
func NewProcessor(orders *handlers.OrderHandler) *Processor {
	return &Processor{orders: orders}
}

// ProcessMessage decodes and executes one command message. Malformed and
// unknown commands fail with domain.ErrInvalidCommand so the consumer can
// reject them instead of redelivering.
func (p *Processor) ProcessMessage(ctx context.Context, raw []byte) error {
	var msg CommandMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("%w: malformed command message: %v", domain.ErrInvalidCommand, err)
	}
	log.Info().Str("command", msg.Command).Msg("Processing command")

	switch msg.Command {
	case CreateOrder:
		var cmd handlers.CreateOrderCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return fmt.Errorf("%w: malformed %s payload: %v", domain.ErrInvalidCommand, msg.Command, err)
		}
		_, err := p.orders.HandleCreateOrder(ctx, cmd)
		return err
	case PayOrder:
		var cmd handlers.PayOrderCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return fmt.Errorf("%w: malformed %s payload: %v", domain.ErrInvalidCommand, msg.Command, err)
		}
		return p.orders.HandlePayOrder(ctx, cmd)
	case ShipOrder:
		var cmd handlers.ShipOrderCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return fmt.Errorf("%w: malformed %s payload: %v", domain.ErrInvalidCommand, msg.Command, err)
		}
		return p.orders.HandleShipOrder(ctx, cmd)
	case CancelOrder:
		var cmd handlers.CancelOrderCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return fmt.Errorf("%w: malformed %s payload: %v", domain.ErrInvalidCommand, msg.Command, err)
		}
		return p.orders.HandleCancelOrder(ctx, cmd)
	default:
		return fmt.Errorf("%w: unsupported command %q", domain.ErrInvalidCommand, msg.Command)
	}
}
