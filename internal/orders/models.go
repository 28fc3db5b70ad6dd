package orders

import (
	"fmt"
	"strings"
	"time"
)

type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"` // never negative after commit
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// User owns the shopping bag that CreateOrder turns into an order.
type User struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Phone string     `json:"phone,omitempty"`
	Bag   []CartItem `json:"bag"`
}

// OrderItem is the item snapshot taken at creation; it never changes afterwards.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Address struct {
	Country      string `json:"country"`
	AddressLine1 string `json:"address_line1"`
	City         string `json:"city"`
	Zipcode      string `json:"zipcode"`
	Phone        string `json:"phone"`
}

// Validate reports every missing field at once.
func (a Address) Validate() error {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"country", a.Country},
		{"address_line1", a.AddressLine1},
		{"city", a.City},
		{"zipcode", a.Zipcode},
		{"phone", a.Phone},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing address fields: %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

type Order struct {
	ID         string      `json:"id"`   // opaque, uuid
	Code       string      `json:"code"` // short, shareable with the customer
	UserID     string      `json:"user_id"`
	Items      []OrderItem `json:"items"`
	TotalCents int64       `json:"total_cents"`
	Address    Address     `json:"address"`
	Status     Status      `json:"status"` // see status.go
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
