package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	SellerID    int64           `json:"seller_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   *time.Time      `json:"updated_at"`
}

type ProductInput struct {
	Name        string
	Description *string
	Price       decimal.Decimal
	Quantity    int
}

// ProductPatch changes only the non-nil fields.
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Quantity    *int
}

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)
