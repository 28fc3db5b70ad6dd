package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultNotifyTimeout = 30 * time.Second

// Manager owns order creation and status changes. Each operation runs in exactly
// one store transaction and either commits everything or nothing.
type Manager struct {
	db       TxBeginner
	notifier Notifier
	log      *zap.Logger
	tracer   trace.Tracer

	newID           func() string
	newCode         func() (string, error)
	now             func() time.Time
	rejectEmptyCart bool
	notifyTimeout   time.Duration

	mu      sync.Mutex // guards closed and pending.Add
	closed  bool
	pending sync.WaitGroup
}

type Option func(*Manager)

func WithNotifier(n Notifier) Option { return func(m *Manager) { m.notifier = n } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

func WithCodeGenerator(f func() (string, error)) Option { return func(m *Manager) { m.newCode = f } }

func WithIDGenerator(f func() string) Option { return func(m *Manager) { m.newID = f } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithRejectEmptyCart makes CreateOrder fail with ErrEmptyCart instead of creating
// an order without items.
func WithRejectEmptyCart(reject bool) Option { return func(m *Manager) { m.rejectEmptyCart = reject } }

func WithNotifyTimeout(d time.Duration) Option { return func(m *Manager) { m.notifyTimeout = d } }

func NewManager(db TxBeginner, opts ...Option) *Manager {
	m := &Manager{
		db:            db,
		notifier:      nopNotifier{},
		log:           zap.NewNop(),
		tracer:        otel.Tracer("storefront-orders/orders"),
		newID:         uuid.NewString,
		newCode:       NewCode,
		now:           func() time.Time { return time.Now().UTC() },
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type CreateOrderInput struct {
	UserID     string  `json:"user_id"`
	TotalCents int64   `json:"total_cents"`
	Address    Address `json:"address"`
}

func (in CreateOrderInput) validate() error {
	if in.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if in.TotalCents < 0 {
		return fmt.Errorf("%w: total_cents must not be negative", ErrInvalidInput)
	}
	return in.Address.Validate()
}

// CreateOrder turns the user's bag into a pending order, reserving stock for every
// item and emptying the bag, all in one transaction. The notifier runs only after
// the commit succeeded, asynchronously, and cannot fail the call.
func (m *Manager) CreateOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	ctx, span := m.tracer.Start(ctx, "orders.CreateOrder",
		trace.WithAttributes(attribute.String("user.id", in.UserID)))
	defer span.End()

	if err := in.validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Order{}, err
	}

	var (
		order Order
		user  User
	)
	err := withTx(ctx, m.db, func(tx Tx) error {
		u, items, err := Snapshot(ctx, tx, in.UserID)
		if err != nil {
			return err
		}
		if len(items) == 0 && m.rejectEmptyCart {
			return ErrEmptyCart
		}

		code, err := m.uniqueCode(ctx, tx)
		if err != nil {
			return err
		}

		now := m.now()
		o := Order{
			ID:         m.newID(),
			Code:       code,
			UserID:     u.ID,
			Items:      make([]OrderItem, 0, len(items)),
			TotalCents: in.TotalCents,
			Address:    in.Address,
			Status:     StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		for _, it := range items {
			o.Items = append(o.Items, OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		// inserted first: a failed reservation below rolls the insert back with it
		if err := tx.Orders().Insert(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		var catalogue int64
		for _, it := range o.Items {
			p, err := Reserve(ctx, tx, it.ProductID, it.Quantity)
			if err != nil {
				return err
			}
			catalogue += p.PriceCents * int64(it.Quantity)
		}
		if catalogue != o.TotalCents {
			m.log.Warn("declared total differs from catalogue prices",
				zap.String("order_code", o.Code),
				zap.Int64("declared_cents", o.TotalCents),
				zap.Int64("catalogue_cents", catalogue))
		}

		if err := ClearCart(ctx, tx, u); err != nil {
			return err
		}
		order, user = o, u
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Order{}, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.code", order.Code))
	m.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_code", order.Code),
		zap.String("user_id", order.UserID),
		zap.Int("items", len(order.Items)),
		zap.Int64("total_cents", order.TotalCents))

	m.dispatchPlaced(ctx, Recipient{Name: user.Name, Email: user.Email}, order)
	return order, nil
}

func (m *Manager) uniqueCode(ctx context.Context, tx Tx) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := m.newCode()
		if err != nil {
			return "", fmt.Errorf("generate order code: %w", err)
		}
		taken, err := tx.Orders().CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check order code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: no free order code after %d attempts", ErrConflict, codeAttempts)
}

// dispatchPlaced runs the notifier in the background, detached from the request
// context so that returning the response does not cancel it.
func (m *Manager) dispatchPlaced(ctx context.Context, to Recipient, o Order) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.log.Warn("manager closed, order notification skipped",
			zap.String("order_id", o.ID),
			zap.String("order_code", o.Code))
		return
	}
	m.pending.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.pending.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.notifyTimeout)
		defer cancel()
		if err := m.notifier.NotifyOrderPlaced(nctx, to, o); err != nil {
			m.log.Error("order notification failed",
				zap.String("order_id", o.ID),
				zap.String("order_code", o.Code),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every dispatched notification returned.
func (m *Manager) Wait() { m.pending.Wait() }

// Close stops dispatching notifications and waits for the ones in flight. Orders
// created afterwards are still committed, they are just not announced. After Close
// returns the notifier is no longer used and may be shut down.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.pending.Wait()
}

// SetStatus moves the order to newStatus. Cancelling restores every item's stock
// in the same transaction; if any restore fails the order keeps its status and
// no stock changes.
func (m *Manager) SetStatus(ctx context.Context, orderID string, newStatus Status) (Order, error) {
	ctx, span := m.tracer.Start(ctx, "orders.SetStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(newStatus)),
	))
	defer span.End()

	var order Order
	err := withTx(ctx, m.db, func(tx Tx) error {
		o, err := tx.Orders().FindByID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order %s: %w", orderID, err)
		}
		eff, err := Transition(o.Status, newStatus)
		if err != nil {
			return err
		}
		if o.Status == newStatus {
			order = o
			return nil
		}

		if eff == EffectRestoreStock {
			for _, it := range o.Items {
				if _, err := Restore(ctx, tx, it.ProductID, it.Quantity); err != nil {
					return err
				}
			}
		}

		o.Status = newStatus
		o.UpdatedAt = m.now()
		if err := tx.Orders().Save(ctx, o); err != nil {
			return fmt.Errorf("save order %s: %w", orderID, err)
		}
		order = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Order{}, err
	}
	m.log.Info("order status set",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)))
	return order, nil
}

// Lookup finds an order by its opaque id or its short code.
func (m *Manager) Lookup(ctx context.Context, ref string) (Order, error) {
	if ref == "" {
		return Order{}, fmt.Errorf("%w: empty order reference", ErrInvalidInput)
	}
	var order Order
	err := withReadTx(ctx, m.db, func(tx Tx) error {
		o, err := tx.Orders().FindByID(ctx, ref)
		if errors.Is(err, ErrNotFound) {
			o, err = tx.Orders().FindByCode(ctx, ref)
		}
		if err != nil {
			return fmt.Errorf("lookup order %s: %w", ref, err)
		}
		order = o
		return nil
	})
	return order, err
}
