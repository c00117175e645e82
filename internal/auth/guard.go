package auth

import "github.com/ariefcatur/go-marketplace/internal/apperr"

// Policy decides whether p may act on entity.
type Policy[T any] func(p Principal, entity T) bool

// Guard is the single ownership check every scoped read or write goes through.
// It runs after the entity is known to exist, so a denial is Forbidden, not NotFound.
func Guard[T any](p Principal, entity T, policy Policy[T]) error {
	if policy(p, entity) {
		return nil
	}
	return apperr.Forbidden("not enough permissions")
}

func RequireSeller(p Principal) error {
	if !p.IsSeller {
		return apperr.Forbidden("seller account required")
	}
	return nil
}
