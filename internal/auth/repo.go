package auth

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

const userColumns = `id, email, username, hashed_password, is_active, is_seller, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.HashedPassword, &u.IsActive, &u.IsSeller, &u.CreatedAt)
	return u, err
}

func (r *Repo) CreateUser(ctx context.Context, u User) (User, error) {
	row := r.DB.QueryRow(ctx, `
		INSERT INTO users(email, username, hashed_password, is_active, is_seller)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		u.Email, u.Username, u.HashedPassword, u.IsActive, u.IsSeller)

	created, err := scanUser(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return User{}, apperr.Conflict("email or username already registered")
		}
		return User{}, fmt.Errorf("row.Scan: %w", err)
	}
	return created, nil
}

func (r *Repo) GetByID(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, apperr.NotFound("user %d not found", id)
		}
		return User{}, fmt.Errorf("row.Scan: %w", err)
	}
	return u, nil
}

func (r *Repo) GetByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, apperr.NotFound("user %s not found", username)
		}
		return User{}, fmt.Errorf("row.Scan: %w", err)
	}
	return u, nil
}
