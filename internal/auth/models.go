package auth

import "time"

type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	IsSeller       bool      `json:"is_seller"`
	CreatedAt      time.Time `json:"created_at"`
}

// Principal is the verified caller of an operation.
type Principal struct {
	ID       int64
	Username string
	IsSeller bool
}

func (u User) Principal() Principal {
	return Principal{ID: u.ID, Username: u.Username, IsSeller: u.IsSeller}
}

type Registration struct {
	Email    string
	Username string
	Password string
	IsSeller bool
}
