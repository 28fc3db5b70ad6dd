package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// Store implements orders.TxBeginner on a pgx pool. Transactions run at read
// committed; every row that is read for a later write is locked with FOR UPDATE.
// BeginRead opens a read-only transaction whose reads take no locks.
type Store struct{ DB *pgxpool.Pool }

var _ orders.ReadTxBeginner = (*Store)(nil)

const forUpdate = ` FOR UPDATE`

func (s *Store) Begin(ctx context.Context) (orders.Tx, error) {
	t, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, mapErr(err)
	}
	return &tx{tx: t, lock: forUpdate}, nil
}

func (s *Store) BeginRead(ctx context.Context) (orders.Tx, error) {
	t, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, mapErr(err)
	}
	return &tx{tx: t}, nil
}

type tx struct {
	tx   pgx.Tx
	lock string // appended to every single-row SELECT; empty when read-only
}

func (t *tx) Users() orders.UserStore       { return userStore{t.tx, t.lock} }
func (t *tx) Products() orders.ProductStore { return productStore{t.tx, t.lock} }
func (t *tx) Orders() orders.OrderStore     { return orderStore{t.tx, t.lock} }

func (t *tx) Commit(ctx context.Context) error { return mapErr(t.tx.Commit(ctx)) }

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// mapErr translates the store's abort signals into orders sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505": // serialization_failure, deadlock_detected, unique_violation
			return fmt.Errorf("%w: %s (%s)", orders.ErrConflict, pgErr.Message, pgErr.Code)
		}
	}
	return err
}

type userStore struct {
	tx   pgx.Tx
	lock string
}

func (s userStore) FindByID(ctx context.Context, id string) (orders.User, error) {
	u := orders.User{ID: id}
	err := s.tx.QueryRow(ctx, `SELECT name, email, phone FROM users WHERE id=$1`+s.lock, id).
		Scan(&u.Name, &u.Email, &u.Phone)
	if err != nil {
		return orders.User{}, fmt.Errorf("user %s: %w", id, mapErr(err))
	}

	rows, err := s.tx.Query(ctx, `SELECT product_id, quantity FROM cart_items WHERE user_id=$1 ORDER BY product_id`, id)
	if err != nil {
		return orders.User{}, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var it orders.CartItem
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return orders.User{}, err
		}
		u.Bag = append(u.Bag, it)
	}
	if err := rows.Err(); err != nil {
		return orders.User{}, mapErr(err)
	}
	return u, nil
}

// Save replaces the user's profile fields and the whole bag.
func (s userStore) Save(ctx context.Context, u orders.User) error {
	ct, err := s.tx.Exec(ctx, `UPDATE users SET name=$2, email=$3, phone=$4, updated_at=now() WHERE id=$1`,
		u.ID, u.Name, u.Email, u.Phone)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("user %s: %w", u.ID, orders.ErrNotFound)
	}
	if _, err := s.tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, u.ID); err != nil {
		return mapErr(err)
	}
	if len(u.Bag) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range u.Bag {
		batch.Queue(`INSERT INTO cart_items(user_id, product_id, quantity) VALUES ($1,$2,$3)`,
			u.ID, it.ProductID, it.Quantity)
	}
	return mapErr(s.tx.SendBatch(ctx, batch).Close())
}

type productStore struct {
	tx   pgx.Tx
	lock string
}

func (s productStore) FindByID(ctx context.Context, id string) (orders.Product, error) {
	p := orders.Product{ID: id}
	err := s.tx.QueryRow(ctx, `SELECT name, price_cents, quantity FROM products WHERE id=$1`+s.lock, id).
		Scan(&p.Name, &p.PriceCents, &p.Quantity)
	if err != nil {
		return orders.Product{}, fmt.Errorf("product %s: %w", id, mapErr(err))
	}
	return p, nil
}

func (s productStore) Save(ctx context.Context, p orders.Product) error {
	ct, err := s.tx.Exec(ctx, `UPDATE products SET name=$2, price_cents=$3, quantity=$4, updated_at=now() WHERE id=$1`,
		p.ID, p.Name, p.PriceCents, p.Quantity)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("product %s: %w", p.ID, orders.ErrNotFound)
	}
	return nil
}

type orderStore struct {
	tx   pgx.Tx
	lock string
}

func (s orderStore) Insert(ctx context.Context, o orders.Order) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO orders(id, code, user_id, total_cents, status,
		                   country, address_line1, city, zipcode, phone, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.Code, o.UserID, o.TotalCents, string(o.Status),
		o.Address.Country, o.Address.AddressLine1, o.Address.City, o.Address.Zipcode, o.Address.Phone,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if len(o.Items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`INSERT INTO order_items(order_id, product_id, quantity) VALUES ($1,$2,$3)`,
			o.ID, it.ProductID, it.Quantity)
	}
	return mapErr(s.tx.SendBatch(ctx, batch).Close())
}

const selectOrder = `
	SELECT id, code, user_id, total_cents, status,
	       country, address_line1, city, zipcode, phone, created_at, updated_at
	FROM orders`

func (s orderStore) FindByID(ctx context.Context, id string) (orders.Order, error) {
	return s.find(ctx, selectOrder+` WHERE id=$1`+s.lock, id)
}

func (s orderStore) FindByCode(ctx context.Context, code string) (orders.Order, error) {
	return s.find(ctx, selectOrder+` WHERE code=$1`+s.lock, code)
}

func (s orderStore) find(ctx context.Context, query, arg string) (orders.Order, error) {
	var (
		o      orders.Order
		status string
	)
	err := s.tx.QueryRow(ctx, query, arg).Scan(
		&o.ID, &o.Code, &o.UserID, &o.TotalCents, &status,
		&o.Address.Country, &o.Address.AddressLine1, &o.Address.City, &o.Address.Zipcode, &o.Address.Phone,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return orders.Order{}, fmt.Errorf("order %s: %w", arg, mapErr(err))
	}
	o.Status = orders.Status(status)

	rows, err := s.tx.Query(ctx, `SELECT product_id, quantity FROM order_items WHERE order_id=$1 ORDER BY product_id`, o.ID)
	if err != nil {
		return orders.Order{}, mapErr(err)
	}
	defer rows.Close()
	o.Items = []orders.OrderItem{}
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return orders.Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, mapErr(rows.Err())
}

// Save persists the mutable part of an order; items are fixed at insert.
func (s orderStore) Save(ctx context.Context, o orders.Order) error {
	ct, err := s.tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`,
		o.ID, string(o.Status), o.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("order %s: %w", o.ID, orders.ErrNotFound)
	}
	return nil
}

func (s orderStore) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE code=$1)`, code).Scan(&exists)
	return exists, mapErr(err)
}
