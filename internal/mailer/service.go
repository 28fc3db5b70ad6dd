package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/telemetry"
)

type OrderMailer interface {
	SendOrderPlaced(ctx context.Context, to orders.Recipient, orderCode string) error
}

// Deduper is satisfied by redisx.Dedup.
type Deduper interface {
	First(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Service struct {
	Mailer OrderMailer
	Dedup  Deduper
	Log    *zap.Logger
}

// HandleOrderPlaced is installed as the consumer handler. Malformed and foreign
// events are dropped. Mail is best effort: the consumer logs a returned error and
// still commits the offset, so a failed send is not retried from Kafka. Its dedup
// mark is forgotten, which lets a redelivered copy (after a rebalance or replay) send.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	ctx = telemetry.ExtractKafkaHeaders(ctx, m.Headers)
	ctx, span := otel.Tracer("storefront-orders/mailer").Start(ctx, "mailer.HandleOrderPlaced")
	defer span.End()

	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.Warn("drop undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		s.Log.Warn("drop event with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	span.SetAttributes(attribute.String("order.id", p.OrderID), attribute.String("event.id", env.EventID))

	first, err := s.Dedup.First(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		s.Log.Info("duplicate event skipped", zap.String("event_id", env.EventID))
		return nil
	}

	to := orders.Recipient{Name: p.RecipientName, Email: p.RecipientEmail}
	if err := s.Mailer.SendOrderPlaced(ctx, to, p.OrderCode); err != nil {
		if errors.Is(err, orders.ErrInvalidInput) {
			s.Log.Warn("drop unsendable order mail", zap.String("order_id", p.OrderID), zap.Error(err))
			return nil
		}
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			s.Log.Error("dedup forget failed", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return fmt.Errorf("send order %s mail: %w", p.OrderCode, err)
	}
	s.Log.Info("order mail sent", zap.String("order_id", p.OrderID), zap.String("order_code", p.OrderCode))
	return nil
}
