package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace/internal/apperr"
	"github.com/ariefcatur/go-marketplace/internal/auth"
	kafkax "github.com/ariefcatur/go-marketplace/internal/kafka"
	"github.com/google/uuid"
	"github.com/samber/lo"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the transactional persistence behind the engine.
type Store interface {
	PlaceOrder(ctx context.Context, buyerID int64, items []ItemRequest, rate decimal.Decimal) (Placed, error)
	GetOrder(ctx context.Context, orderID int64) (Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID int64) ([]Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status Status) error
	ListCommissionsBySeller(ctx context.Context, sellerID int64) ([]Commission, error)
	GetCommission(ctx context.Context, id int64) (Commission, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Engine settles carts into orders and commissions and serves the
// ownership-scoped reads over them.
type Engine struct {
	Store Store
	Rate  decimal.Decimal

	// optional, one producer per topic
	PlacedEvents    Publisher
	CompletedEvents Publisher
	Producer        string
	Log             *zap.Logger
}

// canViewOrder lets the buyer and any seller read an order.
func canViewOrder(p auth.Principal, o Order) bool {
	return o.BuyerID == p.ID || p.IsSeller
}

func isBuyer(p auth.Principal, o Order) bool { return o.BuyerID == p.ID }

func ownsCommission(p auth.Principal, c Commission) bool { return c.SellerID == p.ID }

func (e *Engine) PlaceOrder(ctx context.Context, buyer auth.Principal, items []ItemRequest) (Order, error) {
	if err := ValidateItems(items); err != nil {
		return Order{}, err
	}

	placed, err := e.Store.PlaceOrder(ctx, buyer.ID, items, e.Rate)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			e.log().Warn("checkout conflict", zap.Int64("buyer_id", buyer.ID), zap.Error(err))
		}
		return Order{}, fmt.Errorf("e.Store.PlaceOrder: %w", err)
	}

	e.log().Info("order placed",
		zap.Int64("order_id", placed.Order.ID),
		zap.Int64("buyer_id", buyer.ID),
		zap.String("total", placed.Order.TotalAmount.String()),
		zap.Int("sellers", len(placed.Commissions)),
	)

	e.emit(ctx, e.PlacedEvents, placed.Order.ID, EventOrderPlaced, OrderPlacedPayload{
		OrderID:     placed.Order.ID,
		BuyerID:     placed.Order.BuyerID,
		TotalAmount: placed.Order.TotalAmount,
		Items: lo.Map(placed.Order.Items, func(it OrderItem, _ int) EventItem {
			return EventItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price}
		}),
		Sellers: lo.Map(placed.Commissions, func(c Commission, _ int) SellerShare {
			return SellerShare{
				SellerID:         c.SellerID,
				Amount:           c.Amount,
				CommissionAmount: c.CommissionAmount,
				SellerAmount:     c.SellerAmount,
			}
		}),
	})

	return placed.Order, nil
}

// CompleteOrder marks the order completed whatever its current status is.
func (e *Engine) CompleteOrder(ctx context.Context, buyer auth.Principal, orderID int64) (Order, error) {
	order, err := e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, fmt.Errorf("e.Store.GetOrder: %w", err)
	}
	if err := auth.Guard(buyer, order, isBuyer); err != nil {
		return Order{}, err
	}

	if err := e.Store.UpdateStatus(ctx, orderID, StatusCompleted); err != nil {
		return Order{}, fmt.Errorf("e.Store.UpdateStatus: %w", err)
	}

	order, err = e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, fmt.Errorf("e.Store.GetOrder: %w", err)
	}

	e.emit(ctx, e.CompletedEvents, order.ID, EventOrderCompleted, OrderCompletedPayload{
		OrderID: order.ID,
		BuyerID: order.BuyerID,
		Status:  order.Status,
	})

	return order, nil
}

func (e *Engine) GetOrders(ctx context.Context, buyer auth.Principal) ([]Order, error) {
	return e.Store.ListOrdersByBuyer(ctx, buyer.ID)
}

func (e *Engine) GetOrder(ctx context.Context, p auth.Principal, orderID int64) (Order, error) {
	order, err := e.Store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, fmt.Errorf("e.Store.GetOrder: %w", err)
	}

	if err := auth.Guard(p, order, canViewOrder); err != nil {
		return Order{}, err
	}

	return order, nil
}

func (e *Engine) GetCommissions(ctx context.Context, seller auth.Principal) ([]Commission, error) {
	if err := auth.RequireSeller(seller); err != nil {
		return nil, err
	}
	return e.Store.ListCommissionsBySeller(ctx, seller.ID)
}

func (e *Engine) GetCommission(ctx context.Context, seller auth.Principal, id int64) (Commission, error) {
	if err := auth.RequireSeller(seller); err != nil {
		return Commission{}, err
	}

	c, err := e.Store.GetCommission(ctx, id)
	if err != nil {
		return Commission{}, fmt.Errorf("e.Store.GetCommission: %w", err)
	}
	if err := auth.Guard(seller, c, ownsCommission); err != nil {
		return Commission{}, err
	}
	return c, nil
}

// emit publishes after commit; delivery is best effort.
func (e *Engine) emit(ctx context.Context, pub Publisher, orderID int64, eventType string, payload any) {
	if pub == nil {
		return
	}

	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Producer,
		TraceID:       TraceID(ctx),
		CorrelationID: fmt.Sprint(orderID),
		Payload:       kafkax.MustMarshal(payload),
	}
	pub.Publish(PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (e *Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

type traceKey struct{}

// WithTraceID attaches the request id that outgoing events carry.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
