package orders

import (
	"context"
	"fmt"
)

// TxBeginner opens atomic units of work against the backing store.
type TxBeginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// ReadTxBeginner is implemented by stores that can open a read-only transaction
// whose FindByID/FindByCode take no row locks. Writes through such a Tx fail.
type ReadTxBeginner interface {
	BeginRead(ctx context.Context) (Tx, error)
}

// Tx is one atomic unit of work. Every store reached through it participates in it;
// there is no other way to read or write users, products or orders.
type Tx interface {
	Users() UserStore
	Products() ProductStore
	Orders() OrderStore
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UserStore.FindByID locks the user row until the transaction ends.
type UserStore interface {
	FindByID(ctx context.Context, id string) (User, error)
	Save(ctx context.Context, u User) error
}

// ProductStore.FindByID locks the product row until the transaction ends, so a
// read followed by Save cannot lose a concurrent update.
type ProductStore interface {
	FindByID(ctx context.Context, id string) (Product, error)
	Save(ctx context.Context, p Product) error
}

type OrderStore interface {
	Insert(ctx context.Context, o Order) error
	FindByID(ctx context.Context, id string) (Order, error)
	FindByCode(ctx context.Context, code string) (Order, error)
	Save(ctx context.Context, o Order) error
	CodeExists(ctx context.Context, code string) (bool, error)
}

// withTx runs fn inside one transaction. It commits only when fn returns nil and
// rolls back on every other exit, panics included.
func withTx(ctx context.Context, db TxBeginner, fn func(tx Tx) error) error {
	return runTx(ctx, db.Begin, fn)
}

// withReadTx is withTx for fn that only reads. It falls back to a regular
// transaction when db has no read-only mode.
func withReadTx(ctx context.Context, db TxBeginner, fn func(tx Tx) error) error {
	if r, ok := db.(ReadTxBeginner); ok {
		return runTx(ctx, r.BeginRead, fn)
	}
	return runTx(ctx, db.Begin, fn)
}

func runTx(ctx context.Context, begin func(context.Context) (Tx, error), fn func(tx Tx) error) error {
	tx, err := begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	done := false
	defer func() {
		if done {
			return
		}
		// rollback must still reach the store when the caller's ctx is already cancelled
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	done = true
	return nil
}
