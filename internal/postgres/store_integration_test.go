//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("orders"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	// idempotent
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func seedUser(t *testing.T, pool *pgxpool.Pool, id string, bag ...orders.CartItem) {
	t.Helper()
	ctx := context.Background()
	_, err := pool.Exec(ctx, `INSERT INTO users(id, name, email) VALUES ($1, $2, $3)`, id, "Ada", id+"@example.com")
	require.NoError(t, err)
	for _, it := range bag {
		_, err := pool.Exec(ctx, `INSERT INTO cart_items(user_id, product_id, quantity) VALUES ($1,$2,$3)`,
			id, it.ProductID, it.Quantity)
		require.NoError(t, err)
	}
}

func seedProduct(t *testing.T, pool *pgxpool.Pool, id string, price int64, qty int) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO products(id, name, price_cents, quantity) VALUES ($1, $2, $3, $4)`, id, "item "+id, price, qty)
	require.NoError(t, err)
}

func quantity(t *testing.T, pool *pgxpool.Pool, id string) int {
	t.Helper()
	var q int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT quantity FROM products WHERE id=$1`, id).Scan(&q))
	return q
}

func count(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func address() orders.Address {
	return orders.Address{Country: "ID", AddressLine1: "Jl. Braga 5", City: "Bandung", Zipcode: "40111", Phone: "0812"}
}

func TestPostgresOrderLifecycle(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	seedProduct(t, pool, "p1", 500, 5)
	seedProduct(t, pool, "p2", 700, 5)
	seedUser(t, pool, "u1", orders.CartItem{ProductID: "p2", Quantity: 1}, orders.CartItem{ProductID: "p1", Quantity: 2})

	m := orders.NewManager(&Store{DB: pool})
	t.Cleanup(m.Wait)

	o, err := m.CreateOrder(ctx, orders.CreateOrderInput{UserID: "u1", TotalCents: 1700, Address: address()})
	require.NoError(t, err)
	assert.Equal(t, 3, quantity(t, pool, "p1"))
	assert.Equal(t, 4, quantity(t, pool, "p2"))
	assert.Zero(t, count(t, pool, `SELECT count(*) FROM cart_items WHERE user_id=$1`, "u1"))

	byCode, err := m.Lookup(ctx, o.Code)
	require.NoError(t, err)
	assert.Equal(t, o.ID, byCode.ID)
	assert.Equal(t, address(), byCode.Address)
	assert.Equal(t, []orders.OrderItem{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}}, byCode.Items)

	_, err = m.SetStatus(ctx, o.ID, orders.StatusProcessing)
	require.NoError(t, err)
	got, err := m.SetStatus(ctx, o.ID, orders.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, 5, quantity(t, pool, "p1"))
	assert.Equal(t, 5, quantity(t, pool, "p2"))

	_, err = m.SetStatus(ctx, o.ID, orders.StatusPending)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestPostgresInsufficientStockRollsBack(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	seedProduct(t, pool, "p1", 500, 10)
	seedProduct(t, pool, "p2", 700, 1)
	seedUser(t, pool, "u1", orders.CartItem{ProductID: "p1", Quantity: 3}, orders.CartItem{ProductID: "p2", Quantity: 2})

	m := orders.NewManager(&Store{DB: pool})
	_, err := m.CreateOrder(ctx, orders.CreateOrderInput{UserID: "u1", TotalCents: 2900, Address: address()})
	require.ErrorIs(t, err, orders.ErrInsufficientStock)

	assert.Equal(t, 10, quantity(t, pool, "p1"))
	assert.Equal(t, 1, quantity(t, pool, "p2"))
	assert.Zero(t, count(t, pool, `SELECT count(*) FROM orders`))
	assert.Equal(t, 2, count(t, pool, `SELECT count(*) FROM cart_items WHERE user_id=$1`, "u1"))
}

func TestPostgresConcurrentBuyersNeverOversell(t *testing.T) {
	const buyers = 8
	pool := startPostgres(t)
	seedProduct(t, pool, "p1", 500, 3)
	for i := 0; i < buyers; i++ {
		seedUser(t, pool, fmt.Sprintf("u%d", i), orders.CartItem{ProductID: "p1", Quantity: 1})
	}
	m := orders.NewManager(&Store{DB: pool})
	t.Cleanup(m.Wait)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.CreateOrder(context.Background(),
				orders.CreateOrderInput{UserID: fmt.Sprintf("u%d", i), TotalCents: 500, Address: address()})
			if err != nil && !errors.Is(err, orders.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Zero(t, quantity(t, pool, "p1"))
	assert.Equal(t, 3, count(t, pool, `SELECT count(*) FROM orders`))
}

func TestPostgresNotFound(t *testing.T) {
	pool := startPostgres(t)
	m := orders.NewManager(&Store{DB: pool})

	_, err := m.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)

	_, err = m.CreateOrder(context.Background(), orders.CreateOrderInput{UserID: "ghost", Address: address()})
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestPostgresLookupDoesNotWaitForRowLock(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	seedProduct(t, pool, "p1", 500, 5)
	seedUser(t, pool, "u1", orders.CartItem{ProductID: "p1", Quantity: 1})

	m := orders.NewManager(&Store{DB: pool})
	t.Cleanup(m.Wait)
	o, err := m.CreateOrder(ctx, orders.CreateOrderInput{UserID: "u1", TotalCents: 500, Address: address()})
	require.NoError(t, err)

	holder, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = holder.Rollback(ctx) }()
	_, err = holder.Exec(ctx, `SELECT id FROM orders WHERE id=$1 FOR UPDATE`, o.ID)
	require.NoError(t, err)

	lctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := m.Lookup(lctx, o.Code)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	// a status change still queues behind the lock
	sctx, scancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer scancel()
	_, err = m.SetStatus(sctx, o.ID, orders.StatusProcessing)
	assert.Error(t, err)
}

func TestPostgresReadTxRejectsWrites(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	seedProduct(t, pool, "p1", 500, 5)

	tx, err := (&Store{DB: pool}).BeginRead(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := tx.Products().FindByID(ctx, "p1")
	require.NoError(t, err)
	p.Quantity = 1
	assert.Error(t, tx.Products().Save(ctx, p))
}
