package catalog

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-marketplace/internal/apperr"
	"github.com/ariefcatur/go-marketplace/internal/auth"
)

// Store is the persistence the catalog service runs on.
type Store interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, skip, limit int) ([]Product, error)
	CreateProduct(ctx context.Context, sellerID int64, in ProductInput) (Product, error)
	UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (Product, error)
	DeleteProduct(ctx context.Context, id int64) error
}

type Service struct {
	Store Store
}

func ownsProduct(p auth.Principal, product Product) bool {
	return product.SellerID == p.ID
}

func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.Store.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context, skip, limit int) ([]Product, error) {
	if skip < 0 {
		return nil, apperr.Validation("skip must be greater than or equal to 0")
	}
	if limit < 1 || limit > MaxLimit {
		return nil, apperr.Validation("limit must be between 1 and %d", MaxLimit)
	}
	return s.Store.ListProducts(ctx, skip, limit)
}

func (s *Service) CreateProduct(ctx context.Context, seller auth.Principal, in ProductInput) (Product, error) {
	if err := auth.RequireSeller(seller); err != nil {
		return Product{}, err
	}
	if err := in.Validate(); err != nil {
		return Product{}, err
	}
	return s.Store.CreateProduct(ctx, seller.ID, in)
}

func (s *Service) UpdateProduct(ctx context.Context, seller auth.Principal, id int64, patch ProductPatch) (Product, error) {
	if err := auth.RequireSeller(seller); err != nil {
		return Product{}, err
	}
	if err := s.checkOwner(ctx, seller, id); err != nil {
		return Product{}, err
	}
	if err := patch.Validate(); err != nil {
		return Product{}, err
	}
	return s.Store.UpdateProduct(ctx, id, patch)
}

func (s *Service) DeleteProduct(ctx context.Context, seller auth.Principal, id int64) error {
	if err := auth.RequireSeller(seller); err != nil {
		return err
	}
	if err := s.checkOwner(ctx, seller, id); err != nil {
		return err
	}
	return s.Store.DeleteProduct(ctx, id)
}

func (s *Service) checkOwner(ctx context.Context, seller auth.Principal, id int64) error {
	product, err := s.Store.GetProduct(ctx, id)
	if err != nil {
		return fmt.Errorf("s.Store.GetProduct: %w", err)
	}
	return auth.Guard(seller, product, ownsProduct)
}
