package orders

import (
	"context"
	"fmt"
	"sort"
)

// Snapshot loads the user inside tx and returns the bag as of that read.
// Entries for the same product are merged and the result is sorted by product id,
// so concurrent orders always lock products in the same order.
func Snapshot(ctx context.Context, tx Tx, userID string) (User, []CartItem, error) {
	u, err := tx.Users().FindByID(ctx, userID)
	if err != nil {
		return User{}, nil, fmt.Errorf("load user %s: %w", userID, err)
	}

	qty := make(map[string]int, len(u.Bag))
	for _, it := range u.Bag {
		if it.Quantity <= 0 {
			return User{}, nil, fmt.Errorf("%w: cart item %s has quantity %d", ErrInvalidInput, it.ProductID, it.Quantity)
		}
		qty[it.ProductID] += it.Quantity
	}
	items := make([]CartItem, 0, len(qty))
	for id, q := range qty {
		items = append(items, CartItem{ProductID: id, Quantity: q})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return u, items, nil
}

// ClearCart empties the user's bag inside tx.
func ClearCart(ctx context.Context, tx Tx, u User) error {
	u.Bag = []CartItem{}
	if err := tx.Users().Save(ctx, u); err != nil {
		return fmt.Errorf("clear cart of %s: %w", u.ID, err)
	}
	return nil
}
