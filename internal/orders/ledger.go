package orders

import (
	"context"
	"fmt"
)

// Reserve takes quantity units of productID out of stock inside tx. The product is
// read and written through the same transaction; nothing is written on failure.
func Reserve(ctx context.Context, tx Tx, productID string, quantity int) (Product, error) {
	if quantity <= 0 {
		return Product{}, fmt.Errorf("%w: reserve quantity %d for product %s", ErrInvalidInput, quantity, productID)
	}
	p, err := tx.Products().FindByID(ctx, productID)
	if err != nil {
		return Product{}, fmt.Errorf("reserve %s: %w", productID, err)
	}
	if p.Quantity < quantity {
		return p, &StockError{ProductID: p.ID, Name: p.Name, Required: quantity, Available: p.Quantity}
	}
	p.Quantity -= quantity
	if err := tx.Products().Save(ctx, p); err != nil {
		return Product{}, fmt.Errorf("reserve %s: save: %w", productID, err)
	}
	return p, nil
}

// Restore returns quantity units of productID to stock inside tx.
func Restore(ctx context.Context, tx Tx, productID string, quantity int) (Product, error) {
	if quantity <= 0 {
		return Product{}, fmt.Errorf("%w: restore quantity %d for product %s", ErrInvalidInput, quantity, productID)
	}
	p, err := tx.Products().FindByID(ctx, productID)
	if err != nil {
		return Product{}, fmt.Errorf("restore %s: %w", productID, err)
	}
	p.Quantity += quantity
	if err := tx.Products().Save(ctx, p); err != nil {
		return Product{}, fmt.Errorf("restore %s: save: %w", productID, err)
	}
	return p, nil
}
