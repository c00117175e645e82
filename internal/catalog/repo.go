package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace/internal/apperr"
	"github.com/ariefcatur/go-marketplace/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

const productColumns = `id, name, description, price, quantity, seller_id, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Quantity, &p.SellerID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repo) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, apperr.NotFound("product %d not found", id)
		}
		return Product{}, fmt.Errorf("row.Scan: %w", err)
	}
	return p, nil
}

func (r *Repo) ListProducts(ctx context.Context, skip, limit int) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("DB.Query: %w", err)
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) CreateProduct(ctx context.Context, sellerID int64, in ProductInput) (Product, error) {
	row := r.DB.QueryRow(ctx, `
		INSERT INTO products(name, description, price, quantity, seller_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+productColumns,
		in.Name, in.Description, in.Price, in.Quantity, sellerID)

	p, err := scanProduct(row)
	if err != nil {
		return Product{}, fmt.Errorf("row.Scan: %w", err)
	}
	return p, nil
}

// UpdateProduct applies patch with COALESCE so absent fields keep their value.
func (r *Repo) UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (Product, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE products SET
			name        = COALESCE($2, name),
			description = COALESCE($3, description),
			price       = COALESCE($4, price),
			quantity    = COALESCE($5, quantity),
			updated_at  = now()
		WHERE id=$1
		RETURNING `+productColumns,
		id, patch.Name, patch.Description, patch.Price, patch.Quantity)

	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, apperr.NotFound("product %d not found", id)
		}
		return Product{}, fmt.Errorf("row.Scan: %w", err)
	}
	return p, nil
}

func (r *Repo) DeleteProduct(ctx context.Context, id int64) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return apperr.Conflict("product %d is referenced by orders", id)
		}
		return fmt.Errorf("DB.Exec: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("product %d not found", id)
	}
	return nil
}
