package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/telemetry"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header) error
}

// EventNotifier publishes an OrderPlaced envelope; cmd/mailer turns it into an e-mail.
type EventNotifier struct {
	Producer Publisher
	Service  string
	Now      func() time.Time
}

func (n *EventNotifier) NotifyOrderPlaced(ctx context.Context, to orders.Recipient, o orders.Order) error {
	now := time.Now().UTC()
	if n.Now != nil {
		now = n.Now()
	}
	payload, err := json.Marshal(orders.OrderPlacedPayload{
		OrderID:        o.ID,
		OrderCode:      o.Code,
		UserID:         o.UserID,
		RecipientName:  to.Name,
		RecipientEmail: to.Email,
		TotalCents:     o.TotalCents,
		Items:          o.Items,
		PlacedAt:       o.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	value, err := json.Marshal(orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderPlaced,
		EventVersion:  1,
		OccurredAt:    now,
		Producer:      n.Service,
		CorrelationID: o.ID,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	headers := telemetry.InjectKafkaHeaders(ctx, kafkax.EventHeaders(orders.EventOrderPlaced, 1))
	if err := n.Producer.Publish(orders.PartitionKey(o.ID), value, headers...); err != nil {
		return fmt.Errorf("publish %s: %w", orders.EventOrderPlaced, err)
	}
	return nil
}
