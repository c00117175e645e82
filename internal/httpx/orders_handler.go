package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-marketplace/internal/apperr"
	"github.com/ariefcatur/go-marketplace/internal/auth"
	"github.com/ariefcatur/go-marketplace/internal/orders"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Orders is implemented by orders.Engine.
type Orders interface {
	PlaceOrder(ctx context.Context, buyer auth.Principal, items []orders.ItemRequest) (orders.Order, error)
	CompleteOrder(ctx context.Context, buyer auth.Principal, orderID int64) (orders.Order, error)
	GetOrders(ctx context.Context, buyer auth.Principal) ([]orders.Order, error)
	GetOrder(ctx context.Context, p auth.Principal, orderID int64) (orders.Order, error)
	GetCommissions(ctx context.Context, seller auth.Principal) ([]orders.Commission, error)
	GetCommission(ctx context.Context, seller auth.Principal, id int64) (orders.Commission, error)
}

// Idempotency is implemented by redisx.IdempotencyStore.
type Idempotency interface {
	Claim(ctx context.Context, buyerID int64, key string) (redisx.ClaimState, int64, error)
	Finish(ctx context.Context, buyerID int64, key string, orderID int64) error
	Release(ctx context.Context, buyerID int64, key string) error
}

const maxIdempotencyKey = 255

type OrdersHandler struct {
	Orders Orders
	Idem   Idempotency // optional
	Auth   Authenticator
	Log    *zap.Logger
}

// Items are checked by the engine so callers get its messages.
type PlaceOrderReq struct {
	Items []orders.ItemRequest `json:"items"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.Auth, h.Log))

		r.Post("/orders", h.placeOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Put("/orders/{id}/complete", h.completeOrder)

		r.Get("/commissions", h.listCommissions)
		r.Get("/commissions/{id}", h.getCommission)
	})
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	buyer := principal(r)
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" || h.Idem == nil {
		order, err := h.Orders.PlaceOrder(r.Context(), buyer, req.Items)
		if err != nil {
			writeError(w, r, h.Log, err)
			return
		}
		writeJSON(w, http.StatusCreated, order)
		return
	}

	if len(key) > maxIdempotencyKey {
		writeError(w, r, h.Log, apperr.Validation("Idempotency-Key must be at most %d bytes", maxIdempotencyKey))
		return
	}

	state, orderID, err := h.Idem.Claim(r.Context(), buyer.ID, key)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	switch state {
	case redisx.ClaimInFlight:
		writeError(w, r, h.Log, apperr.Conflict("a request with this Idempotency-Key is still in progress"))
		return
	case redisx.ClaimDone:
		order, err := h.Orders.GetOrder(r.Context(), buyer, orderID)
		if err != nil {
			writeError(w, r, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
		return
	}

	order, err := h.Orders.PlaceOrder(r.Context(), buyer, req.Items)
	if err != nil {
		if rerr := h.Idem.Release(context.WithoutCancel(r.Context()), buyer.ID, key); rerr != nil {
			h.Log.Warn("release idempotency key", zap.Int64("buyer_id", buyer.ID), zap.Error(rerr))
		}
		writeError(w, r, h.Log, err)
		return
	}

	if err := h.Idem.Finish(context.WithoutCancel(r.Context()), buyer.ID, key, order.ID); err != nil {
		// the order exists; a replay inside the in-flight window gets 409, after it a new order
		h.Log.Error("finish idempotency key",
			zap.Int64("buyer_id", buyer.ID),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	out, err := h.Orders.GetOrders(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	order, err := h.Orders.GetOrder(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) completeOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	order, err := h.Orders.CompleteOrder(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) listCommissions(w http.ResponseWriter, r *http.Request) {
	out, err := h.Orders.GetCommissions(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getCommission(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	c, err := h.Orders.GetCommission(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
