package orders

import "context"

type Recipient struct {
	Name  string
	Email string
}

// Notifier is told about every order after its transaction committed, and only then.
// Implementations may fail; the manager logs the error and moves on.
type Notifier interface {
	NotifyOrderPlaced(ctx context.Context, to Recipient, o Order) error
}

type NotifierFunc func(ctx context.Context, to Recipient, o Order) error

func (f NotifierFunc) NotifyOrderPlaced(ctx context.Context, to Recipient, o Order) error {
	return f(ctx, to, o)
}

type nopNotifier struct{}

func (nopNotifier) NotifyOrderPlaced(context.Context, Recipient, Order) error { return nil }
