// Package memstore is an in-memory orders.TxBeginner. Transactions are fully
// serialised: Begin blocks until the previous transaction committed or rolled back
// (or its context is done), and each transaction works on a private copy that
// Commit publishes atomically. BeginRead hands out read-only snapshots that never wait.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

var (
	ErrTxDone   = errors.New("memstore: transaction already committed or rolled back")
	ErrReadOnly = errors.New("memstore: write in read-only transaction")
)

type state struct {
	users    map[string]orders.User
	products map[string]orders.Product
	orders   map[string]orders.Order
}

func (s state) clone() state {
	c := state{
		users:    make(map[string]orders.User, len(s.users)),
		products: make(map[string]orders.Product, len(s.products)),
		orders:   make(map[string]orders.Order, len(s.orders)),
	}
	for k, u := range s.users {
		c.users[k] = copyUser(u)
	}
	for k, p := range s.products {
		c.products[k] = p
	}
	for k, o := range s.orders {
		c.orders[k] = copyOrder(o)
	}
	return c
}

type Store struct {
	sem chan struct{} // one token, held by the active transaction

	mu        sync.RWMutex // guards committed
	committed state

	begins     atomic.Int64
	failCommit atomic.Pointer[error]
}

func New() *Store {
	return &Store{sem: make(chan struct{}, 1), committed: state{
		users:    map[string]orders.User{},
		products: map[string]orders.Product{},
		orders:   map[string]orders.Order{},
	}}
}

func (s *Store) Begin(ctx context.Context) (orders.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.begins.Add(1)
	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()
	return &tx{store: s, work: work}, nil
}

// BeginRead returns a snapshot of the committed state. It does not wait for the
// active transaction and rejects writes.
func (s *Store) BeginRead(ctx context.Context) (orders.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()
	return &tx{store: s, work: work, readOnly: true}, nil
}

// Begins counts transactions opened so far.
func (s *Store) Begins() int64 { return s.begins.Load() }

// FailNextCommit makes the next Commit return err without publishing anything.
func (s *Store) FailNextCommit(err error) { s.failCommit.Store(&err) }

func (s *Store) PutUser(u orders.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.users[u.ID] = copyUser(u)
}

func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.products[p.ID] = p
}

func (s *Store) PutOrder(o orders.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.orders[o.ID] = copyOrder(o)
}

func (s *Store) DeleteProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.committed.products, id)
}

func (s *Store) User(id string) (orders.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.committed.users[id]
	return copyUser(u), ok
}

func (s *Store) Product(id string) (orders.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.committed.products[id]
	return p, ok
}

func (s *Store) Order(id string) (orders.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.committed.orders[id]
	return copyOrder(o), ok
}

func (s *Store) Orders() []orders.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orders.Order, 0, len(s.committed.orders))
	for _, o := range s.committed.orders {
		out = append(out, copyOrder(o))
	}
	return out
}

type tx struct {
	store    *Store
	work     state
	done     bool
	readOnly bool
}

func (t *tx) Users() orders.UserStore       { return userStore{t} }
func (t *tx) Products() orders.ProductStore { return productStore{t} }
func (t *tx) Orders() orders.OrderStore     { return orderStore{t} }

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if t.readOnly {
		return nil
	}
	defer t.release()

	if errp := t.store.failCommit.Swap(nil); errp != nil {
		return *errp
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.store.mu.Lock()
	t.store.committed = t.work
	t.store.mu.Unlock()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if !t.readOnly {
		t.release()
	}
	return nil
}

func (t *tx) release() { <-t.store.sem }

func (t *tx) check() error {
	if t.done {
		return ErrTxDone
	}
	return nil
}

func (t *tx) checkWrite() error {
	if err := t.check(); err != nil {
		return err
	}
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

type userStore struct{ t *tx }

func (s userStore) FindByID(_ context.Context, id string) (orders.User, error) {
	if err := s.t.check(); err != nil {
		return orders.User{}, err
	}
	u, ok := s.t.work.users[id]
	if !ok {
		return orders.User{}, fmt.Errorf("user %s: %w", id, orders.ErrNotFound)
	}
	return copyUser(u), nil
}

func (s userStore) Save(_ context.Context, u orders.User) error {
	if err := s.t.checkWrite(); err != nil {
		return err
	}
	if _, ok := s.t.work.users[u.ID]; !ok {
		return fmt.Errorf("user %s: %w", u.ID, orders.ErrNotFound)
	}
	s.t.work.users[u.ID] = copyUser(u)
	return nil
}

type productStore struct{ t *tx }

func (s productStore) FindByID(_ context.Context, id string) (orders.Product, error) {
	if err := s.t.check(); err != nil {
		return orders.Product{}, err
	}
	p, ok := s.t.work.products[id]
	if !ok {
		return orders.Product{}, fmt.Errorf("product %s: %w", id, orders.ErrNotFound)
	}
	return p, nil
}

func (s productStore) Save(_ context.Context, p orders.Product) error {
	if err := s.t.checkWrite(); err != nil {
		return err
	}
	if _, ok := s.t.work.products[p.ID]; !ok {
		return fmt.Errorf("product %s: %w", p.ID, orders.ErrNotFound)
	}
	if p.Quantity < 0 {
		return fmt.Errorf("product %s: negative quantity %d", p.ID, p.Quantity)
	}
	s.t.work.products[p.ID] = p
	return nil
}

type orderStore struct{ t *tx }

func (s orderStore) Insert(_ context.Context, o orders.Order) error {
	if err := s.t.checkWrite(); err != nil {
		return err
	}
	if _, ok := s.t.work.orders[o.ID]; ok {
		return fmt.Errorf("order %s: %w", o.ID, orders.ErrConflict)
	}
	for _, existing := range s.t.work.orders {
		if existing.Code == o.Code {
			return fmt.Errorf("order code %s: %w", o.Code, orders.ErrConflict)
		}
	}
	s.t.work.orders[o.ID] = copyOrder(o)
	return nil
}

func (s orderStore) FindByID(_ context.Context, id string) (orders.Order, error) {
	if err := s.t.check(); err != nil {
		return orders.Order{}, err
	}
	o, ok := s.t.work.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("order %s: %w", id, orders.ErrNotFound)
	}
	return copyOrder(o), nil
}

func (s orderStore) FindByCode(_ context.Context, code string) (orders.Order, error) {
	if err := s.t.check(); err != nil {
		return orders.Order{}, err
	}
	for _, o := range s.t.work.orders {
		if o.Code == code {
			return copyOrder(o), nil
		}
	}
	return orders.Order{}, fmt.Errorf("order code %s: %w", code, orders.ErrNotFound)
}

func (s orderStore) Save(_ context.Context, o orders.Order) error {
	if err := s.t.checkWrite(); err != nil {
		return err
	}
	if _, ok := s.t.work.orders[o.ID]; !ok {
		return fmt.Errorf("order %s: %w", o.ID, orders.ErrNotFound)
	}
	s.t.work.orders[o.ID] = copyOrder(o)
	return nil
}

func (s orderStore) CodeExists(_ context.Context, code string) (bool, error) {
	if err := s.t.check(); err != nil {
		return false, err
	}
	for _, o := range s.t.work.orders {
		if o.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func copyUser(u orders.User) orders.User {
	if u.Bag != nil {
		u.Bag = append([]orders.CartItem(nil), u.Bag...)
	}
	return u
}

func copyOrder(o orders.Order) orders.Order {
	if o.Items != nil {
		o.Items = append([]orders.OrderItem(nil), o.Items...)
	}
	return o
}
