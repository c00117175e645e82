package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kafkax "github.com/ariefcatur/go-marketplace/internal/kafka"
	"github.com/ariefcatur/go-marketplace/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Deduper is implemented by redisx.Deduper.
type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Notification tells one seller about their share of a placed order.
type Notification struct {
	SellerID         int64
	OrderID          int64
	BuyerID          int64
	Amount           decimal.Decimal
	CommissionAmount decimal.Decimal
	SellerAmount     decimal.Decimal
	TraceID          string
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the log. Stand-in until a mail or push
// channel exists.
type LogSender struct{ Log *zap.Logger }

func (l LogSender) Send(_ context.Context, n Notification) error {
	l.Log.Info("seller notified",
		zap.Int64("seller_id", n.SellerID),
		zap.Int64("order_id", n.OrderID),
		zap.String("amount", n.Amount.String()),
		zap.String("seller_amount", n.SellerAmount.String()),
		zap.String("trace_id", n.TraceID),
	)
	return nil
}

type Service struct {
	Dedup  Deduper
	Sender Sender
	Log    *zap.Logger
}

// HandleOrderPlaced is the consumer handler for the order.placed topic.
// Malformed messages are logged and acknowledged so they do not block the
// partition; a failed send unmarks the event so the redelivery retries it.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.Warn("drop malformed envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil
	}

	first, err := s.Dedup.FirstSeen(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("s.Dedup.FirstSeen: %w", err)
	}
	if !first {
		s.Log.Debug("duplicate event", zap.String("event_id", env.EventID))
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		s.Log.Warn("drop malformed payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	var errs []error
	for _, share := range p.Sellers {
		n := Notification{
			SellerID:         share.SellerID,
			OrderID:          p.OrderID,
			BuyerID:          p.BuyerID,
			Amount:           share.Amount,
			CommissionAmount: share.CommissionAmount,
			SellerAmount:     share.SellerAmount,
			TraceID:          env.TraceID,
		}
		if err := s.Sender.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("seller %d: %w", share.SellerID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return fmt.Errorf("notify order %d: %w", p.OrderID, err)
	}

	return nil
}
