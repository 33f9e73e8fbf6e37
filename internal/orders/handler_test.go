package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jogardn/laundry-orders/internal/auth"
	"github.com/jogardn/laundry-orders/internal/cart"
	"github.com/jogardn/laundry-orders/internal/catalog"
	"github.com/jogardn/laundry-orders/internal/circuitbreaker"
	"github.com/jogardn/laundry-orders/internal/lifecycle"
	"github.com/jogardn/laundry-orders/internal/storage"
	"github.com/jogardn/laundry-orders/pkg/models"
)

type api struct {
	router   http.Handler
	store    *Store
	backend  *flakyBackend
	breakers *circuitbreaker.Manager
}

func newAPI(t *testing.T) *api {
	t.Helper()
	logger := testLogger()
	backend := &flakyBackend{Memory: storage.NewMemory()}

	authenticator := auth.NewAuthenticator(backend, logger)
	sessions := auth.NewSessions()
	store := NewStore(backend, logger)
	service := NewService(store, cart.NewRegistry(), authenticator, logger)

	handler := NewHandler(catalog.Default(), authenticator, sessions, service, logger)
	breakers := circuitbreaker.NewManager(logger)
	handler.SetBreakers(breakers)

	r := mux.NewRouter()
	r.Use(sessions.Middleware())
	handler.Routes(r)
	return &api{router: r, store: store, backend: backend, breakers: breakers}
}

func (a *api) call(t *testing.T, method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *api) login(t *testing.T, email string, role models.Role) string {
	t.Helper()
	rec := a.call(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "role": string(role)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) models.OrderResponse {
	t.Helper()
	var resp models.OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func decodeOrders(t *testing.T, rec *httptest.ResponseRecorder) models.OrderListResponse {
	t.Helper()
	var resp models.OrderListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func (a *api) placeOrder(t *testing.T, token string) models.Order {
	t.Helper()
	for _, item := range []map[string]interface{}{{"item_id": "1", "quantity": 3}, {"item_id": "3", "quantity": 2}} {
		rec := a.call(t, http.MethodPost, "/cart/items", token, item)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := a.call(t, http.MethodPost, "/orders", token, map[string]string{
		"pickup_date": "2024-03-10",
		"pickup_slot": models.PickupSlots[0],
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeOrder(t, rec)
	require.NotNil(t, resp.Order)
	return *resp.Order
}

func TestHealthCheck(t *testing.T) {
	a := newAPI(t)
	rec := a.call(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestPricing(t *testing.T) {
	a := newAPI(t)

	rec := a.call(t, http.MethodGet, "/pricing", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp pricingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Items, 9)
	assert.Len(t, resp.Categories, 4)

	rec = a.call(t, http.MethodGet, "/pricing?category=Dry+Clean", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Items, 4)

	rec = a.call(t, http.MethodGet, "/pricing?category=Laundromat", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartEndpoints(t *testing.T) {
	a := newAPI(t)
	token := a.login(t, "priya@example.com", models.RoleCustomer)

	decodeCart := func(rec *httptest.ResponseRecorder) cartResponse {
		var resp cartResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
		return resp
	}

	a.call(t, http.MethodPost, "/cart/items", token, map[string]interface{}{"item_id": "1", "quantity": 3})
	rec := a.call(t, http.MethodPost, "/cart/items", token, map[string]interface{}{"item_id": "3", "quantity": 2})
	resp := decodeCart(rec)
	assert.True(t, decimal.NewFromInt(230).Equal(resp.Total))
	assert.Len(t, resp.Items, 2)

	rec = a.call(t, http.MethodPost, "/cart/items", token, map[string]interface{}{"item_id": "3", "quantity": -2})
	resp = decodeCart(rec)
	assert.Len(t, resp.Items, 1)
	assert.True(t, decimal.NewFromInt(180).Equal(resp.Total))

	rec = a.call(t, http.MethodPost, "/cart/items", token, map[string]interface{}{"item_id": "42", "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.call(t, http.MethodPost, "/cart/items", token, map[string]interface{}{"item_id": "5", "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.call(t, http.MethodDelete, "/cart/items/9", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.call(t, http.MethodDelete, "/cart/items/1", token, nil)
	assert.Empty(t, decodeCart(rec).Items)

	a.call(t, http.MethodPost, "/cart/items", token, map[string]interface{}{"item_id": "2", "quantity": 1})
	rec = a.call(t, http.MethodDelete, "/cart", token, nil)
	assert.Empty(t, decodeCart(rec).Items)
	rec = a.call(t, http.MethodGet, "/cart", token, nil)
	assert.True(t, decodeCart(rec).Total.IsZero())
}

func TestOrderFlow(t *testing.T) {
	a := newAPI(t)
	customer := a.login(t, "priya@example.com", models.RoleCustomer)
	admin := a.login(t, "shop@example.com", models.RoleAdmin)

	order := a.placeOrder(t, customer)
	assert.True(t, decimal.NewFromInt(230).Equal(order.TotalAmount))
	assert.Equal(t, "2024-03-12", order.DeliveryDate)
	assert.Equal(t, models.StatusPlaced, order.Status)

	rec := a.call(t, http.MethodGet, "/cart", customer, nil)
	assert.Contains(t, rec.Body.String(), `"items":[]`)

	rec = a.call(t, http.MethodGet, "/orders", customer, nil)
	assert.Equal(t, 1, decodeOrders(t, rec).Count)

	rec = a.call(t, http.MethodGet, "/orders/"+order.ID+"/actions", admin, nil)
	assert.Equal(t, []string{"Processing", "Cancelled"}, decodeOrder(t, rec).Actions)

	rec = a.call(t, http.MethodPatch, "/orders/"+order.ID+"/status", admin, map[string]string{"status": "Processing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusProcessing, decodeOrder(t, rec).Order.Status)

	rec = a.call(t, http.MethodPatch, "/orders/"+order.ID+"/status", admin, map[string]string{"status": "Placed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, decodeOrder(t, rec).Success)

	rec = a.call(t, http.MethodPatch, "/orders/"+order.ID+"/status", admin, map[string]string{"status": "Lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.call(t, http.MethodPatch, "/orders/"+order.ID+"/status", customer, map[string]string{"status": "Ready"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.call(t, http.MethodPatch, "/orders/ORD-NOPE/status", admin, map[string]string{"status": "Ready"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.call(t, http.MethodGet, "/orders/"+order.ID, customer, nil)
	assert.Equal(t, models.StatusProcessing, decodeOrder(t, rec).Order.Status)

	rec = a.call(t, http.MethodGet, "/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Stats.Processing)
	assert.True(t, decimal.NewFromInt(230).Equal(stats.Stats.Revenue))

	rec = a.call(t, http.MethodGet, "/admin/stats", customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOrdersAreScopedToOwner(t *testing.T) {
	a := newAPI(t)
	priya := a.login(t, "priya@example.com", models.RoleCustomer)
	ravi := a.login(t, "ravi@example.com", models.RoleCustomer)
	admin := a.login(t, "shop@example.com", models.RoleAdmin)

	mine := a.placeOrder(t, priya)
	a.placeOrder(t, ravi)

	rec := a.call(t, http.MethodGet, "/orders", ravi, nil)
	resp := decodeOrders(t, rec)
	require.Equal(t, 1, resp.Count)
	assert.NotEqual(t, mine.ID, resp.Orders[0].ID)

	rec = a.call(t, http.MethodGet, "/orders/"+mine.ID, ravi, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.call(t, http.MethodGet, "/orders", admin, nil)
	assert.Equal(t, 2, decodeOrders(t, rec).Count)

	rec = a.call(t, http.MethodGet, "/orders?status=Placed", admin, nil)
	assert.Equal(t, 2, decodeOrders(t, rec).Count)
	rec = a.call(t, http.MethodGet, "/orders?status=Ready", admin, nil)
	assert.Equal(t, 0, decodeOrders(t, rec).Count)
	assert.Contains(t, rec.Body.String(), `"orders":[]`)
	assert.Contains(t, rec.Body.String(), `"count":0`)
	rec = a.call(t, http.MethodGet, "/orders?status=Lost", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmptyOrderListKeepsKeys(t *testing.T) {
	a := newAPI(t)
	customer := a.login(t, "priya@example.com", models.RoleCustomer)

	rec := a.call(t, http.MethodGet, "/orders", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.JSONEq(t, `[]`, string(raw["orders"]))
	assert.JSONEq(t, `0`, string(raw["count"]))
}

func TestUnreadableOrdersAreServerErrors(t *testing.T) {
	a := newAPI(t)
	customer := a.login(t, "priya@example.com", models.RoleCustomer)
	admin := a.login(t, "shop@example.com", models.RoleAdmin)
	order := a.placeOrder(t, customer)

	a.backend.setFailRead(true)
	rec := a.call(t, http.MethodGet, "/orders/"+order.ID, customer, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Storage unavailable")

	rec = a.call(t, http.MethodPatch, "/orders/"+order.ID+"/status", admin, map[string]string{"status": "Processing"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	a.backend.setFailRead(false)
	rec = a.call(t, http.MethodGet, "/orders/"+order.ID, customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusPlaced, decodeOrder(t, rec).Order.Status)
}

func TestCheckoutErrors(t *testing.T) {
	a := newAPI(t)
	customer := a.login(t, "priya@example.com", models.RoleCustomer)
	admin := a.login(t, "shop@example.com", models.RoleAdmin)
	body := map[string]string{"pickup_date": "2024-03-10", "pickup_slot": models.PickupSlots[0]}

	rec := a.call(t, http.MethodPost, "/orders", customer, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty cart")

	rec = a.call(t, http.MethodPost, "/orders", admin, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.call(t, http.MethodPost, "/orders", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.call(t, http.MethodPost, "/orders", customer, "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, a.store.List(context.Background(), ""))
}

func TestCheckoutIdempotencyHeader(t *testing.T) {
	a := newAPI(t)
	customer := a.login(t, "priya@example.com", models.RoleCustomer)
	a.call(t, http.MethodPost, "/cart/items", customer, map[string]interface{}{"item_id": "1", "quantity": 1})
	body := map[string]string{"pickup_date": "2024-03-10", "pickup_slot": models.PickupSlots[0]}

	first := a.call(t, http.MethodPost, "/orders", customer, body, IdempotencyHeader, "abc")
	require.Equal(t, http.StatusCreated, first.Code)
	second := a.call(t, http.MethodPost, "/orders", customer, body, IdempotencyHeader, "abc")
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, decodeOrder(t, first).Order.ID, decodeOrder(t, second).Order.ID)
	assert.Len(t, a.store.List(context.Background(), ""), 1)
}

func TestLoginAndAddresses(t *testing.T) {
	a := newAPI(t)
	token := a.login(t, "priya@example.com", models.RoleCustomer)

	rec := a.call(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "priya@example.com", "role": "admin"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = a.call(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "nope", "role": "customer"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.call(t, http.MethodPost, "/me/addresses", token, models.Address{Label: "Office", Details: "MG Road", Pincode: "560001"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.call(t, http.MethodGet, "/me", token, nil)
	var me loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	require.Len(t, me.User.Addresses, 2)

	rec = a.call(t, http.MethodPost, "/cart/items", token, map[string]interface{}{"item_id": "1", "quantity": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.call(t, http.MethodPost, "/orders", token, map[string]string{
		"address_id":  me.User.Addresses[1].ID,
		"pickup_date": "2024-03-10",
		"pickup_slot": models.PickupSlots[2],
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "MG Road", decodeOrder(t, rec).Order.Address.Details)

	rec = a.call(t, http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.call(t, http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminResetsOpenBreaker(t *testing.T) {
	a := newAPI(t)
	customer := a.login(t, "priya@example.com", models.RoleCustomer)
	admin := a.login(t, "shop@example.com", models.RoleAdmin)

	breaker := a.breakers.GetOrCreate(circuitbreaker.Storage, circuitbreaker.Config{MaxFailures: 1, OpenTimeout: time.Hour})
	err := breaker.Execute(context.Background(), func(context.Context) error { return errors.New("connection refused") })
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	rec := a.call(t, http.MethodGet, "/health", "", nil)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	rec = a.call(t, http.MethodGet, "/admin/breakers/storage", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"open"`)

	rec = a.call(t, http.MethodPost, "/admin/breakers/storage/reset", customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	rec = a.call(t, http.MethodPost, "/admin/breakers/tape/reset", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.call(t, http.MethodPost, "/admin/breakers/storage/reset", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"state":"closed"`)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())

	rec = a.call(t, http.MethodGet, "/health", "", nil)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestLiveUpdatesRequiresSession(t *testing.T) {
	a := newAPI(t)
	rec := a.call(t, http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := a.login(t, "shop@example.com", models.RoleAdmin)
	rec = a.call(t, http.MethodGet, "/ws?token="+token, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: empty", ErrValidation), http.StatusBadRequest},
		{cart.ErrInvalidLine, http.StatusBadRequest},
		{catalog.ErrUnknownItem, http.StatusBadRequest},
		{auth.ErrInvalidLogin, http.StatusBadRequest},
		{ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: ORD-1", ErrNotFound), http.StatusNotFound},
		{auth.ErrUserNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: Ready -> Placed", lifecycle.ErrInvalidTransition), http.StatusConflict},
		{auth.ErrRoleMismatch, http.StatusConflict},
		{ErrInFlight, http.StatusConflict},
		{fmt.Errorf("%w: write orders: %w", storage.ErrPersistence, circuitbreaker.ErrOpen), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, StatusFor(tt.err), tt.err.Error())
	}
}
