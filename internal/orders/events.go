package orders

import (
	"encoding/json"
	"time"
)

const EventOrderPlaced = "OrderPlaced"

type Envelope struct {
	EventID       string          `json:"event_id"`                 // uuid
	EventType     string          `json:"event_type"`               // e.g. OrderPlaced
	EventVersion  int             `json:"event_version"`            // 1
	OccurredAt    time.Time       `json:"occurred_at"`              // UTC
	Producer      string          `json:"producer"`                 // e.g. "order-api"
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderPlacedPayload is everything the mailer needs without reading the order store.
type OrderPlacedPayload struct {
	OrderID        string      `json:"order_id"`
	OrderCode      string      `json:"order_code"`
	UserID         string      `json:"user_id"`
	RecipientName  string      `json:"recipient_name"`
	RecipientEmail string      `json:"recipient_email"`
	TotalCents     int64       `json:"total_cents"`
	Items          []OrderItem `json:"items"`
	PlacedAt       time.Time   `json:"placed_at"`
}
