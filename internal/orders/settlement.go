package orders

import (
	"github.com/ariefcatur/go-marketplace/internal/apperr"
	"github.com/shopspring/decimal"
)

// stockRow is a product as read under its row lock.
type stockRow struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	Quantity int
	SellerID int64
}

// line is one requested item with the price copied at validation time.
type line struct {
	ProductID int64
	SellerID  int64
	Quantity  int
	Price     decimal.Decimal
}

func (l line) total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func ValidateItems(items []ItemRequest) error {
	if len(items) == 0 {
		return apperr.Validation("order must contain at least one item")
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return apperr.Validation("quantity for product %d must be greater than 0", it.ProductID)
		}
	}
	return nil
}

// priceLines checks every item in caller order against stock and snapshots
// its price. A product listed on several lines is checked against the
// quantity still left after the earlier lines.
func priceLines(items []ItemRequest, stock map[int64]stockRow) ([]line, decimal.Decimal, error) {
	lines := make([]line, 0, len(items))
	total := decimal.Zero
	taken := make(map[int64]int, len(stock))

	for _, it := range items {
		p, ok := stock[it.ProductID]
		if !ok {
			return nil, decimal.Zero, apperr.NotFound("product %d not found", it.ProductID)
		}

		available := p.Quantity - taken[p.ID]
		if it.Quantity > available {
			return nil, decimal.Zero, apperr.Validation("not enough quantity for product %s, available: %d", p.Name, available)
		}
		taken[p.ID] += it.Quantity

		l := line{ProductID: p.ID, SellerID: p.SellerID, Quantity: it.Quantity, Price: p.Price}
		lines = append(lines, l)
		total = total.Add(l.total())
	}

	return lines, total, nil
}

// splitCommissions folds line totals into one commission per seller, in the
// order sellers first appear in the cart.
func splitCommissions(lines []line, rate decimal.Decimal) []Commission {
	bySeller := make(map[int64]decimal.Decimal)
	var sellers []int64

	for _, l := range lines {
		if _, seen := bySeller[l.SellerID]; !seen {
			sellers = append(sellers, l.SellerID)
		}
		bySeller[l.SellerID] = bySeller[l.SellerID].Add(l.total())
	}

	out := make([]Commission, 0, len(sellers))
	for _, sellerID := range sellers {
		amount := bySeller[sellerID]
		cut := amount.Mul(rate)
		out = append(out, Commission{
			SellerID:         sellerID,
			Amount:           amount,
			CommissionRate:   rate,
			CommissionAmount: cut,
			SellerAmount:     amount.Sub(cut),
		})
	}
	return out
}
