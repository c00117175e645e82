package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-marketplace/internal/auth"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Accounts is implemented by auth.Service.
type Accounts interface {
	Authenticator
	Register(ctx context.Context, reg auth.Registration) (auth.User, error)
	Login(ctx context.Context, username, password string) (string, error)
}

type AuthHandler struct {
	Accounts Accounts
	Log      *zap.Logger
}

type RegisterReq struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	IsSeller bool   `json:"is_seller"`
}

type TokenReq struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type TokenResp struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *AuthHandler) Register(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/token", h.token)
		r.With(RequireAuth(h.Accounts, h.Log)).Get("/me", h.me)
	})
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	u, err := h.Accounts.Register(r.Context(), auth.Registration{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		IsSeller: req.IsSeller,
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *AuthHandler) token(w http.ResponseWriter, r *http.Request) {
	var req TokenReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	tok, err := h.Accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResp{AccessToken: tok, TokenType: "bearer"})
}

func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r.Context()))
}
