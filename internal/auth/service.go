package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"unicode/utf8"

	"github.com/ariefcatur/go-marketplace/internal/apperr"
)

// UserStore is what the service needs from persistence.
type UserStore interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
}

type Service struct {
	Users  UserStore
	Tokens *Tokens
}

func (s *Service) Register(ctx context.Context, reg Registration) (User, error) {
	if _, err := mail.ParseAddress(reg.Email); err != nil {
		return User{}, apperr.Validation("invalid email %q", reg.Email)
	}
	if n := utf8.RuneCountInString(reg.Username); n < 3 || n > 50 {
		return User{}, apperr.Validation("username must be 3 to 50 characters")
	}
	if utf8.RuneCountInString(reg.Password) < 6 {
		return User{}, apperr.Validation("password must be at least 6 characters")
	}
	if len(reg.Password) > MaxPasswordBytes {
		return User{}, apperr.Validation("password must be at most %d bytes", MaxPasswordBytes)
	}

	hashed, err := HashPassword(reg.Password)
	if err != nil {
		return User{}, err
	}

	u, err := s.Users.CreateUser(ctx, User{
		Email:          reg.Email,
		Username:       reg.Username,
		HashedPassword: hashed,
		IsActive:       true,
		IsSeller:       reg.IsSeller,
	})
	if err != nil {
		return User{}, fmt.Errorf("s.Users.CreateUser: %w", err)
	}
	return u, nil
}

// Login checks the credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	u, err := s.Users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", apperr.Unauthorized("incorrect username or password")
		}
		return "", fmt.Errorf("s.Users.GetByUsername: %w", err)
	}

	ok, err := CheckPassword(u.HashedPassword, password)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.Unauthorized("incorrect username or password")
	}
	if !u.IsActive {
		return "", apperr.Forbidden("inactive user")
	}

	return s.Tokens.Issue(u.ID)
}

// Authenticate resolves a bearer token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (User, error) {
	id, err := s.Tokens.Parse(token)
	if err != nil {
		return User{}, apperr.Unauthorized("could not validate credentials")
	}

	u, err := s.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return User{}, apperr.Unauthorized("could not validate credentials")
		}
		return User{}, fmt.Errorf("s.Users.GetByID: %w", err)
	}
	if !u.IsActive {
		return User{}, apperr.Forbidden("inactive user")
	}
	return u, nil
}
