package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type published struct {
	key, value []byte
	headers    []kafkago.Header
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{key, value, headers})
	return nil
}

var placed = orders.Order{
	ID:         "order-1",
	Code:       "K7Q2M9XA",
	UserID:     "user-1",
	Items:      []orders.OrderItem{{ProductID: "p-a", Quantity: 2}},
	TotalCents: 2000,
	Status:     orders.StatusPending,
	CreatedAt:  time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
}

func TestEventNotifierPublishesOrderPlaced(t *testing.T) {
	pub := &fakePublisher{}
	n := &EventNotifier{Producer: pub, Service: "order-api"}

	err := n.NotifyOrderPlaced(context.Background(), orders.Recipient{Name: "Ana", Email: "ana@example.com"}, placed)
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)

	msg := pub.msgs[0]
	assert.Equal(t, []byte("order-1"), msg.key)
	assert.Equal(t, orders.EventOrderPlaced, kafkax.HeaderValue(msg.headers, kafkax.HeaderEventType))

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(msg.value, &env))
	assert.Equal(t, orders.EventOrderPlaced, env.EventType)
	assert.Equal(t, "order-api", env.Producer)
	assert.Equal(t, "order-1", env.CorrelationID)
	assert.NotEmpty(t, env.EventID)

	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "K7Q2M9XA", p.OrderCode)
	assert.Equal(t, "Ana", p.RecipientName)
	assert.Equal(t, "ana@example.com", p.RecipientEmail)
	assert.Equal(t, placed.Items, p.Items)
}

func TestEventNotifierPublishError(t *testing.T) {
	n := &EventNotifier{Producer: &fakePublisher{err: kafkax.ErrProducerFull}}

	err := n.NotifyOrderPlaced(context.Background(), orders.Recipient{Email: "ana@example.com"}, placed)
	assert.ErrorIs(t, err, kafkax.ErrProducerFull)
}

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func TestMailerSendsOrderPlaced(t *testing.T) {
	s := &fakeSender{}
	m := &Mailer{Sender: s, From: "shop@example.com", Shop: "LynxLine"}

	err := m.NotifyOrderPlaced(context.Background(), orders.Recipient{Name: "Ana", Email: "ana@example.com"}, placed)
	require.NoError(t, err)
	require.Len(t, s.sent, 1)

	msg := s.sent[0]
	assert.Equal(t, []string{subjectOrderPlaced}, msg.GetHeader("Subject"))
	require.Len(t, msg.GetHeader("To"), 1)
	assert.Contains(t, msg.GetHeader("To")[0], "ana@example.com")
}

func TestMailerRejectsMissingEmail(t *testing.T) {
	s := &fakeSender{}
	m := &Mailer{Sender: s, From: "shop@example.com"}

	err := m.SendOrderPlaced(context.Background(), orders.Recipient{Name: "Ana"}, "K7Q2M9XA")
	assert.ErrorIs(t, err, orders.ErrInvalidInput)
	assert.Empty(t, s.sent)
}

func TestMailerSendFailure(t *testing.T) {
	m := &Mailer{Sender: &fakeSender{err: errors.New("dial tcp: refused")}, From: "shop@example.com"}

	err := m.SendOrderPlaced(context.Background(), orders.Recipient{Email: "ana@example.com"}, "K7Q2M9XA")
	assert.ErrorContains(t, err, "refused")
}
