package catalog

import (
	"unicode/utf8"

	"github.com/ariefcatur/go-marketplace/internal/apperr"
	"github.com/shopspring/decimal"
)

func validateName(name string) error {
	if n := utf8.RuneCountInString(name); n < 1 || n > 200 {
		return apperr.Validation("name must be 1 to 200 characters")
	}
	return nil
}

// maxPrice is the first value that no longer fits NUMERIC(12,2).
var maxPrice = decimal.New(1, 10)

func validatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return apperr.Validation("price must be greater than 0")
	}
	if !price.LessThan(maxPrice) {
		return apperr.Validation("price must be less than %s", maxPrice)
	}
	if !price.Equal(price.Round(2)) {
		return apperr.Validation("price must have at most 2 decimal places")
	}
	return nil
}

func validateQuantity(qty int) error {
	if qty < 0 {
		return apperr.Validation("quantity must be greater than or equal to 0")
	}
	return nil
}

func (in ProductInput) Validate() error {
	if err := validateName(in.Name); err != nil {
		return err
	}
	if err := validatePrice(in.Price); err != nil {
		return err
	}
	return validateQuantity(in.Quantity)
}

func (p ProductPatch) Validate() error {
	if p.Name != nil {
		if err := validateName(*p.Name); err != nil {
			return err
		}
	}
	if p.Price != nil {
		if err := validatePrice(*p.Price); err != nil {
			return err
		}
	}
	if p.Quantity != nil {
		if err := validateQuantity(*p.Quantity); err != nil {
			return err
		}
	}
	return nil
}
