package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace/internal/apperr"
	"github.com/ariefcatur/go-marketplace/internal/auth"
	"github.com/ariefcatur/go-marketplace/internal/catalog"
	"github.com/ariefcatur/go-marketplace/internal/httpx"
	"github.com/ariefcatur/go-marketplace/internal/orders"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	buyer  = auth.User{ID: 1, Email: "b@example.com", Username: "buyer", HashedPassword: "secret-hash", IsActive: true}
	seller = auth.User{ID: 2, Email: "s@example.com", Username: "seller", IsActive: true, IsSeller: true}
)

type fakeAccounts struct {
	registered []auth.Registration
}

func (f *fakeAccounts) Authenticate(_ context.Context, token string) (auth.User, error) {
	switch token {
	case "buyer-token":
		return buyer, nil
	case "seller-token":
		return seller, nil
	case "inactive-token":
		return auth.User{}, apperr.Forbidden("inactive user")
	}
	return auth.User{}, apperr.Unauthorized("could not validate credentials")
}

func (f *fakeAccounts) Register(_ context.Context, reg auth.Registration) (auth.User, error) {
	if reg.Username == "taken" {
		return auth.User{}, apperr.Conflict("username already registered")
	}
	f.registered = append(f.registered, reg)
	return auth.User{ID: 9, Email: reg.Email, Username: reg.Username, HashedPassword: "hash", IsActive: true, IsSeller: reg.IsSeller}, nil
}

func (f *fakeAccounts) Login(_ context.Context, username, password string) (string, error) {
	if username == "buyer" && password == "hunter22" {
		return "buyer-token", nil
	}
	return "", apperr.Unauthorized("incorrect username or password")
}

type fakeCatalog struct {
	skip, limit int
	created     catalog.ProductInput
	patch       catalog.ProductPatch
}

func (f *fakeCatalog) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	if id != 5 {
		return catalog.Product{}, apperr.NotFound("product %d not found", id)
	}
	return catalog.Product{ID: 5, Name: "Lamp", Price: decimal.RequireFromString("10.50"), Quantity: 3, SellerID: seller.ID}, nil
}

func (f *fakeCatalog) ListProducts(_ context.Context, skip, limit int) ([]catalog.Product, error) {
	f.skip, f.limit = skip, limit
	if limit > catalog.MaxLimit {
		return nil, apperr.Validation("limit must be between 1 and %d", catalog.MaxLimit)
	}
	return []catalog.Product{}, nil
}

func (f *fakeCatalog) CreateProduct(_ context.Context, p auth.Principal, in catalog.ProductInput) (catalog.Product, error) {
	if err := auth.RequireSeller(p); err != nil {
		return catalog.Product{}, err
	}
	f.created = in
	return catalog.Product{ID: 6, Name: in.Name, Price: in.Price, Quantity: in.Quantity, SellerID: p.ID}, nil
}

func (f *fakeCatalog) UpdateProduct(ctx context.Context, p auth.Principal, id int64, patch catalog.ProductPatch) (catalog.Product, error) {
	f.patch = patch
	return f.GetProduct(ctx, id)
}

func (f *fakeCatalog) DeleteProduct(ctx context.Context, _ auth.Principal, id int64) error {
	_, err := f.GetProduct(ctx, id)
	return err
}

type fakeOrders struct {
	placeCalls int
	placeErr   error
	lastItems  []orders.ItemRequest
	traceID    string
}

func sampleOrder(id, buyerID int64) orders.Order {
	return orders.Order{
		ID:          id,
		BuyerID:     buyerID,
		TotalAmount: decimal.RequireFromString("40.00"),
		Status:      orders.StatusPending,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Items: []orders.OrderItem{
			{ID: 1, OrderID: id, ProductID: 5, ProductName: "Lamp", Quantity: 2, Price: decimal.RequireFromString("20.00")},
		},
	}
}

func (f *fakeOrders) PlaceOrder(ctx context.Context, p auth.Principal, items []orders.ItemRequest) (orders.Order, error) {
	f.placeCalls++
	f.lastItems = items
	f.traceID = orders.TraceID(ctx)
	if f.placeErr != nil {
		return orders.Order{}, f.placeErr
	}
	return sampleOrder(int64(100+f.placeCalls), p.ID), nil
}

func (f *fakeOrders) CompleteOrder(ctx context.Context, p auth.Principal, id int64) (orders.Order, error) {
	o, err := f.GetOrder(ctx, p, id)
	if err != nil {
		return o, err
	}
	o.Status = orders.StatusCompleted
	return o, nil
}

func (f *fakeOrders) GetOrders(_ context.Context, p auth.Principal) ([]orders.Order, error) {
	return []orders.Order{sampleOrder(101, p.ID)}, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, p auth.Principal, id int64) (orders.Order, error) {
	switch {
	case id >= 900:
		return orders.Order{}, apperr.NotFound("order %d not found", id)
	case p.ID != buyer.ID:
		return orders.Order{}, apperr.Forbidden("not enough permissions")
	}
	return sampleOrder(id, p.ID), nil
}

func (f *fakeOrders) GetCommissions(_ context.Context, p auth.Principal) ([]orders.Commission, error) {
	if err := auth.RequireSeller(p); err != nil {
		return nil, err
	}
	return []orders.Commission{{ID: 1, OrderID: 101, SellerID: p.ID, Amount: decimal.RequireFromString("20"),
		CommissionRate: decimal.RequireFromString("0.1"), CommissionAmount: decimal.RequireFromString("2"), SellerAmount: decimal.RequireFromString("18")}}, nil
}

func (f *fakeOrders) GetCommission(_ context.Context, p auth.Principal, id int64) (orders.Commission, error) {
	if err := auth.RequireSeller(p); err != nil {
		return orders.Commission{}, err
	}
	return orders.Commission{}, apperr.NotFound("commission %d not found", id)
}

type memIdem struct {
	entries map[string]int64 // 0 while in flight
	err     error
}

func idemKey(buyerID int64, key string) string { return fmt.Sprintf("%d/%s", buyerID, key) }

func (m *memIdem) Claim(_ context.Context, buyerID int64, key string) (redisx.ClaimState, int64, error) {
	if m.err != nil {
		return 0, 0, m.err
	}
	v, ok := m.entries[idemKey(buyerID, key)]
	switch {
	case !ok:
		m.entries[idemKey(buyerID, key)] = 0
		return redisx.ClaimNew, 0, nil
	case v == 0:
		return redisx.ClaimInFlight, 0, nil
	}
	return redisx.ClaimDone, v, nil
}

func (m *memIdem) Finish(_ context.Context, buyerID int64, key string, orderID int64) error {
	m.entries[idemKey(buyerID, key)] = orderID
	return nil
}

func (m *memIdem) Release(_ context.Context, buyerID int64, key string) error {
	delete(m.entries, idemKey(buyerID, key))
	return nil
}

type env struct {
	router   *chi.Mux
	accounts *fakeAccounts
	catalog  *fakeCatalog
	orders   *fakeOrders
	idem     *memIdem
}

func newEnv() *env {
	e := &env{
		router:   httpx.NewRouter(zap.NewNop()),
		accounts: &fakeAccounts{},
		catalog:  &fakeCatalog{},
		orders:   &fakeOrders{},
		idem:     &memIdem{entries: map[string]int64{}},
	}
	log := zap.NewNop()
	(&httpx.AuthHandler{Accounts: e.accounts, Log: log}).Register(e.router)
	(&httpx.ProductsHandler{Catalog: e.catalog, Auth: e.accounts, Log: log}).Register(e.router)
	(&httpx.OrdersHandler{Orders: e.orders, Idem: e.idem, Auth: e.accounts, Log: log}).Register(e.router)
	return e
}

func (e *env) do(t *testing.T, method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

func TestHealthz(t *testing.T) {
	rec := newEnv().do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantCode int
		wantErr  string
	}{
		{name: "missing header", wantCode: http.StatusUnauthorized, wantErr: "not authenticated"},
		{name: "wrong scheme", header: "Basic abc", wantCode: http.StatusUnauthorized, wantErr: "not authenticated"},
		{name: "bad token", header: "Bearer nope", wantCode: http.StatusUnauthorized, wantErr: "could not validate credentials"},
		{name: "inactive user", header: "Bearer inactive-token", wantCode: http.StatusForbidden, wantErr: "inactive user"},
		{name: "ok", header: "bearer buyer-token", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv()
			rec := e.do(t, http.MethodGet, "/auth/me", "", "", "Authorization", tt.header)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, errorOf(t, rec))
				return
			}
			me := decode[map[string]any](t, rec)
			assert.Equal(t, "buyer", me["username"])
			assert.NotContains(t, me, "hashed_password")
		})
	}

	rec := newEnv().do(t, http.MethodGet, "/orders", "", "")
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{
			name:     "ok",
			body:     `{"email":"new@example.com","username":"newbie","password":"hunter22","is_seller":true}`,
			wantCode: http.StatusCreated,
		},
		{
			name:     "malformed json",
			body:     `{"email":`,
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "invalid JSON body",
		},
		{
			name:     "bad email",
			body:     `{"email":"nope","username":"newbie","password":"hunter22"}`,
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "email must be a valid email address",
		},
		{
			name:     "short password",
			body:     `{"email":"new@example.com","username":"newbie","password":"abc"}`,
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "password must be at least 6",
		},
		{
			name:     "password too long",
			body:     `{"email":"new@example.com","username":"newbie","password":"` + strings.Repeat("p", 80) + `"}`,
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "password must be at most 72",
		},
		{
			name:     "duplicate",
			body:     `{"email":"new@example.com","username":"taken","password":"hunter22"}`,
			wantCode: http.StatusConflict,
			wantErr:  "username already registered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv()
			rec := e.do(t, http.MethodPost, "/auth/register", "", tt.body)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, errorOf(t, rec))
				assert.Empty(t, e.accounts.registered)
				return
			}
			u := decode[map[string]any](t, rec)
			assert.Equal(t, "newbie", u["username"])
			assert.Equal(t, true, u["is_seller"])
			assert.NotContains(t, u, "hashed_password")
		})
	}
}

func TestToken(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodPost, "/auth/token", "", `{"username":"buyer","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, httpx.TokenResp{AccessToken: "buyer-token", TokenType: "bearer"}, decode[httpx.TokenResp](t, rec))

	rec = e.do(t, http.MethodPost, "/auth/token", "", `{"username":"buyer","password":"wrong1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "incorrect username or password", errorOf(t, rec))
}

func TestProducts(t *testing.T) {
	t.Run("list defaults", func(t *testing.T) {
		e := newEnv()
		rec := e.do(t, http.MethodGet, "/products", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
		assert.Equal(t, 0, e.catalog.skip)
		assert.Equal(t, catalog.DefaultLimit, e.catalog.limit)
	})

	t.Run("list bad params", func(t *testing.T) {
		e := newEnv()
		rec := e.do(t, http.MethodGet, "/products?skip=x", "", "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		rec = e.do(t, http.MethodGet, "/products?skip=2&limit=5000", "", "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, 2, e.catalog.skip)
	})

	t.Run("get", func(t *testing.T) {
		e := newEnv()
		rec := e.do(t, http.MethodGet, "/products/5", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "10.5", decode[map[string]any](t, rec)["price"])

		rec = e.do(t, http.MethodGet, "/products/77", "", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "product 77 not found", errorOf(t, rec))

		rec = e.do(t, http.MethodGet, "/products/abc", "", "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("create", func(t *testing.T) {
		e := newEnv()
		body := `{"name":"Desk","price":"99.90","quantity":0}`

		rec := e.do(t, http.MethodPost, "/products", "", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = e.do(t, http.MethodPost, "/products", "buyer-token", body)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = e.do(t, http.MethodPost, "/products", "seller-token", `{"name":"Desk","price":12.5}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "quantity is required", errorOf(t, rec))

		rec = e.do(t, http.MethodPost, "/products", "seller-token", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "Desk", e.catalog.created.Name)
		assert.True(t, decimal.RequireFromString("99.9").Equal(e.catalog.created.Price))
		assert.Equal(t, 0, e.catalog.created.Quantity)
	})

	t.Run("update and delete", func(t *testing.T) {
		e := newEnv()

		rec := e.do(t, http.MethodPut, "/products/5", "seller-token", `{"quantity":8}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, e.catalog.patch.Quantity)
		assert.Equal(t, 8, *e.catalog.patch.Quantity)
		assert.Nil(t, e.catalog.patch.Name)
		assert.Nil(t, e.catalog.patch.Price)

		rec = e.do(t, http.MethodDelete, "/products/5", "seller-token", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())

		rec = e.do(t, http.MethodDelete, "/products/6", "seller-token", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPlaceOrder(t *testing.T) {
	tests := []struct {
		name     string
		placeErr error
		wantCode int
		wantErr  string
	}{
		{name: "created", wantCode: http.StatusCreated},
		{
			name:     "insufficient stock",
			placeErr: fmt.Errorf("e.Store.PlaceOrder: %w", apperr.Validation("not enough quantity for product Lamp, available: 5")),
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "not enough quantity for product Lamp, available: 5",
		},
		{
			name:     "lock conflict",
			placeErr: errors.Join(apperr.Conflict("concurrent update, please retry"), errors.New("ERROR: deadlock detected")),
			wantCode: http.StatusConflict,
			wantErr:  "concurrent update, please retry",
		},
		{
			name:     "infrastructure failure",
			placeErr: errors.New("dial tcp: connection refused"),
			wantCode: http.StatusInternalServerError,
			wantErr:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv()
			e.orders.placeErr = tt.placeErr

			rec := e.do(t, http.MethodPost, "/orders", "buyer-token",
				`{"items":[{"product_id":5,"quantity":2},{"product_id":7,"quantity":1}]}`,
				"X-Request-Id", "req-42")

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, []orders.ItemRequest{{ProductID: 5, Quantity: 2}, {ProductID: 7, Quantity: 1}}, e.orders.lastItems)
			assert.Equal(t, "req-42", e.orders.traceID)

			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, errorOf(t, rec))
				return
			}

			got := decode[map[string]any](t, rec)
			assert.Equal(t, "40", got["total_amount"])
			assert.Equal(t, "pending", got["status"])
			items := got["items"].([]any)
			require.Len(t, items, 1)
			assert.Equal(t, "Lamp", items[0].(map[string]any)["product_name"])
			assert.Equal(t, "20", items[0].(map[string]any)["price"])
		})
	}
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	body := `{"items":[{"product_id":5,"quantity":1}]}`

	t.Run("replay returns the first order", func(t *testing.T) {
		e := newEnv()

		first := e.do(t, http.MethodPost, "/orders", "buyer-token", body, "Idempotency-Key", "k1")
		require.Equal(t, http.StatusCreated, first.Code)

		replay := e.do(t, http.MethodPost, "/orders", "buyer-token", body, "Idempotency-Key", "k1")
		require.Equal(t, http.StatusOK, replay.Code)

		assert.Equal(t, decode[map[string]any](t, first)["id"], decode[map[string]any](t, replay)["id"])
		assert.Equal(t, 1, e.orders.placeCalls)

		other := e.do(t, http.MethodPost, "/orders", "buyer-token", body, "Idempotency-Key", "k2")
		require.Equal(t, http.StatusCreated, other.Code)
		assert.Equal(t, 2, e.orders.placeCalls)
	})

	t.Run("in flight", func(t *testing.T) {
		e := newEnv()
		e.idem.entries[idemKey(buyer.ID, "k1")] = 0

		rec := e.do(t, http.MethodPost, "/orders", "buyer-token", body, "Idempotency-Key", "k1")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Zero(t, e.orders.placeCalls)
	})

	t.Run("failed checkout releases the key", func(t *testing.T) {
		e := newEnv()
		e.orders.placeErr = apperr.Validation("not enough quantity for product Lamp, available: 0")

		rec := e.do(t, http.MethodPost, "/orders", "buyer-token", body, "Idempotency-Key", "k1")
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Empty(t, e.idem.entries)

		e.orders.placeErr = nil
		rec = e.do(t, http.MethodPost, "/orders", "buyer-token", body, "Idempotency-Key", "k1")
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("store down", func(t *testing.T) {
		e := newEnv()
		e.idem.err = errors.New("redis: connection refused")

		rec := e.do(t, http.MethodPost, "/orders", "buyer-token", body, "Idempotency-Key", "k1")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Zero(t, e.orders.placeCalls)
	})
}

func TestOrderReads(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		wantCode int
	}{
		{name: "list", method: http.MethodGet, path: "/orders", token: "buyer-token", wantCode: http.StatusOK},
		{name: "own order", method: http.MethodGet, path: "/orders/101", token: "buyer-token", wantCode: http.StatusOK},
		{name: "foreign order", method: http.MethodGet, path: "/orders/101", token: "seller-token", wantCode: http.StatusForbidden},
		{name: "missing order", method: http.MethodGet, path: "/orders/901", token: "buyer-token", wantCode: http.StatusNotFound},
		{name: "bad id", method: http.MethodGet, path: "/orders/0", token: "buyer-token", wantCode: http.StatusUnprocessableEntity},
		{name: "complete", method: http.MethodPut, path: "/orders/101/complete", token: "buyer-token", wantCode: http.StatusOK},
		{name: "complete foreign", method: http.MethodPut, path: "/orders/101/complete", token: "seller-token", wantCode: http.StatusForbidden},
		{name: "commissions as seller", method: http.MethodGet, path: "/commissions", token: "seller-token", wantCode: http.StatusOK},
		{name: "commissions as buyer", method: http.MethodGet, path: "/commissions", token: "buyer-token", wantCode: http.StatusForbidden},
		{name: "missing commission", method: http.MethodGet, path: "/commissions/3", token: "seller-token", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newEnv().do(t, tt.method, tt.path, tt.token, "")
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}
