package orders_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/storefront-orders/internal/memstore"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

func inTx(t *testing.T, store *memstore.Store, fn func(tx orders.Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit(ctx))
}

func TestReserve(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.PutProduct(orders.Product{ID: "p1", Name: "Mug", PriceCents: 500, Quantity: 5})

	inTx(t, store, func(tx orders.Tx) {
		p, err := orders.Reserve(ctx, tx, "p1", 5)
		require.NoError(t, err)
		assert.Equal(t, 0, p.Quantity)

		_, err = orders.Reserve(ctx, tx, "p1", 1)
		assert.ErrorIs(t, err, orders.ErrInsufficientStock)

		_, err = orders.Reserve(ctx, tx, "p1", 0)
		assert.ErrorIs(t, err, orders.ErrInvalidInput)

		_, err = orders.Reserve(ctx, tx, "p9", 1)
		assert.ErrorIs(t, err, orders.ErrNotFound)
	})
	p, _ := store.Product("p1")
	assert.Equal(t, 0, p.Quantity)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.PutProduct(orders.Product{ID: "p1", Name: "Mug", PriceCents: 500, Quantity: 0})

	inTx(t, store, func(tx orders.Tx) {
		p, err := orders.Restore(ctx, tx, "p1", 3)
		require.NoError(t, err)
		assert.Equal(t, 3, p.Quantity)

		_, err = orders.Restore(ctx, tx, "p1", -1)
		assert.ErrorIs(t, err, orders.ErrInvalidInput)

		_, err = orders.Restore(ctx, tx, "gone", 1)
		assert.ErrorIs(t, err, orders.ErrNotFound)
	})
	p, _ := store.Product("p1")
	assert.Equal(t, 3, p.Quantity)
}

func TestReserveThenRestoreIsIdentity(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.PutProduct(orders.Product{ID: "p1", Name: "Mug", PriceCents: 500, Quantity: 7})

	for q := 1; q <= 7; q++ {
		inTx(t, store, func(tx orders.Tx) {
			_, err := orders.Reserve(ctx, tx, "p1", q)
			require.NoError(t, err)
			_, err = orders.Restore(ctx, tx, "p1", q)
			require.NoError(t, err)
		})
		p, _ := store.Product("p1")
		require.Equal(t, 7, p.Quantity)
	}
}

func TestSnapshotSortsAndMerges(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.PutUser(orders.User{ID: "u1", Name: "Ada", Bag: []orders.CartItem{
		{ProductID: "c", Quantity: 1},
		{ProductID: "a", Quantity: 2},
		{ProductID: "c", Quantity: 4},
		{ProductID: "b", Quantity: 1},
	}})

	inTx(t, store, func(tx orders.Tx) {
		u, items, err := orders.Snapshot(ctx, tx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Ada", u.Name)
		assert.Equal(t, []orders.CartItem{
			{ProductID: "a", Quantity: 2},
			{ProductID: "b", Quantity: 1},
			{ProductID: "c", Quantity: 5},
		}, items)

		require.NoError(t, orders.ClearCart(ctx, tx, u))
	})
	u, _ := store.User("u1")
	assert.Empty(t, u.Bag)
}
