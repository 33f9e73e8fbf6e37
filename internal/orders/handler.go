package orders

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/auth"
	"github.com/jogardn/laundry-orders/internal/cart"
	"github.com/jogardn/laundry-orders/internal/catalog"
	"github.com/jogardn/laundry-orders/internal/circuitbreaker"
	"github.com/jogardn/laundry-orders/internal/lifecycle"
	"github.com/jogardn/laundry-orders/internal/storage"
	"github.com/jogardn/laundry-orders/internal/websocket"
	"github.com/jogardn/laundry-orders/pkg/models"
)

const IdempotencyHeader = "Idempotency-Key"

type LiveUpdates interface {
	Serve(w http.ResponseWriter, r *http.Request, subscriber websocket.Subscriber)
}

type loginRequest struct {
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

type loginResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Token   string       `json:"token,omitempty"`
	User    *models.User `json:"user,omitempty"`
}

type pricingResponse struct {
	Success    bool                     `json:"success"`
	Categories []models.ServiceCategory `json:"categories"`
	Items      []models.PricingItem     `json:"items"`
}

type cartItemRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type cartResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	Items   []models.OrderItem `json:"items"`
	Total   decimal.Decimal    `json:"total"`
}

type checkoutRequest struct {
	AddressID  string `json:"address_id"`
	PickupDate string `json:"pickup_date"`
	PickupSlot string `json:"pickup_slot"`
}

type statusRequest struct {
	Status models.OrderStatus `json:"status"`
}

type statsResponse struct {
	Success bool  `json:"success"`
	Stats   Stats `json:"stats"`
}

type breakerResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Breaker map[string]interface{} `json:"circuit_breaker"`
}

type Handler struct {
	catalog  *catalog.Catalog
	auth     *auth.Authenticator
	sessions *auth.Sessions
	service  *Service
	logger   *logrus.Logger
	hub      LiveUpdates
	breakers *circuitbreaker.Manager
}

func NewHandler(catalog *catalog.Catalog, authenticator *auth.Authenticator, sessions *auth.Sessions, service *Service, logger *logrus.Logger) *Handler {
	return &Handler{
		catalog:  catalog,
		auth:     authenticator,
		sessions: sessions,
		service:  service,
		logger:   logger,
	}
}

func (h *Handler) SetWebSocketHub(hub LiveUpdates) {
	h.hub = hub
}

func (h *Handler) SetBreakers(breakers *circuitbreaker.Manager) {
	h.breakers = breakers
}

// Routes registers the API on r. The session middleware must run before
// these handlers.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/ws", h.ServeLiveUpdates).Methods("GET")
	r.HandleFunc("/pricing", h.GetPricing).Methods("GET")

	r.HandleFunc("/auth/login", h.Login).Methods("POST")
	r.HandleFunc("/auth/logout", h.Logout).Methods("POST")
	r.HandleFunc("/me", h.GetMe).Methods("GET")
	r.HandleFunc("/me/addresses", h.AddAddress).Methods("POST")

	r.HandleFunc("/cart", h.GetCart).Methods("GET")
	r.HandleFunc("/cart", h.ClearCart).Methods("DELETE")
	r.HandleFunc("/cart/items", h.AddCartItem).Methods("POST")
	r.HandleFunc("/cart/items/{itemId}", h.RemoveCartItem).Methods("DELETE")

	r.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	r.HandleFunc("/orders", h.GetOrders).Methods("GET")
	r.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	r.HandleFunc("/orders/{id}/actions", h.GetActions).Methods("GET")
	r.HandleFunc("/orders/{id}/status", h.UpdateStatus).Methods("PATCH")

	r.HandleFunc("/admin/stats", h.GetStats).Methods("GET")
	r.HandleFunc("/admin/breakers/{name}", h.GetBreaker).Methods("GET")
	r.HandleFunc("/admin/breakers/{name}/reset", h.ResetBreaker).Methods("POST")
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	response := map[string]interface{}{
		"service": "laundry-api",
	}
	if h.breakers != nil {
		if !h.breakers.Healthy() {
			status = "degraded"
		}
		response["circuit_breakers"] = h.breakers.AllMetrics()
	}
	response["status"] = status
	h.respondWithJSON(w, http.StatusOK, response)
}

func (h *Handler) ServeLiveUpdates(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		if token := r.URL.Query().Get("token"); token != "" {
			session, ok = h.sessions.Get(token)
		}
	}
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "Login required")
		return
	}
	if h.hub == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Live updates not available")
		return
	}
	h.hub.Serve(w, r, websocket.Subscriber{UserID: session.User.ID, Admin: session.IsAdmin()})
}

func (h *Handler) GetPricing(w http.ResponseWriter, r *http.Request) {
	items := h.catalog.All()
	if category := r.URL.Query().Get("category"); category != "" {
		c := models.ServiceCategory(category)
		if !c.Valid() {
			h.respondWithError(w, http.StatusBadRequest, "Unknown category")
			return
		}
		items = h.catalog.ByCategory(c)
	}
	h.respondWithJSON(w, http.StatusOK, pricingResponse{
		Success:    true,
		Categories: h.catalog.Categories(),
		Items:      items,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode login request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.auth.Login(r.Context(), req.Email, req.Role)
	if err != nil {
		h.respondWithFailure(w, err)
		return
	}

	session := h.sessions.Start(*user)
	h.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("User logged in")

	h.respondWithJSON(w, http.StatusOK, loginResponse{
		Success: true,
		Message: "Logged in",
		Token:   session.Token,
		User:    user,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	h.sessions.End(session.Token)
	h.service.Carts().Drop(session.User.ID)
	h.respondWithJSON(w, http.StatusOK, loginResponse{Success: true, Message: "Logged out"})
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	user, err := h.auth.Get(r.Context(), session.User.ID)
	if err != nil {
		h.respondWithFailure(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, loginResponse{Success: true, User: user})
}

func (h *Handler) AddAddress(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	var address models.Address
	if err := json.NewDecoder(r.Body).Decode(&address); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.auth.AddAddress(r.Context(), session.User.ID, address)
	if err != nil {
		h.respondWithFailure(w, err)
		return
	}
	h.sessions.Refresh(*user)
	h.respondWithJSON(w, http.StatusCreated, loginResponse{Success: true, Message: "Address added", User: user})
}

func (h *Handler) cartView(c *cart.Cart, message string) cartResponse {
	return cartResponse{
		Success: true,
		Message: message,
		Items:   c.Lines(),
		Total:   c.Total(),
	}
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}
	h.respondWithJSON(w, http.StatusOK, h.cartView(h.service.Carts().For(session.User.ID), ""))
}

// AddCartItem applies a quantity delta to the cart line for an item,
// creating the line from the catalog price when absent.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}
	var req cartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.catalog.Get(req.ItemID)
	if err != nil {
		h.respondWithFailure(w, err)
		return
	}

	c := h.service.Carts().For(session.User.ID)
	if err := c.AddOrUpdate(cart.LineFor(item, req.Quantity)); err != nil {
		h.respondWithFailure(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, h.cartView(c, "Cart updated"))
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}
	c := h.service.Carts().For(session.User.ID)
	c.Remove(mux.Vars(r)["itemId"])
	h.respondWithJSON(w, http.StatusOK, h.cartView(c, "Item removed"))
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}
	c := h.service.Carts().For(session.User.ID)
	c.Clear()
	h.respondWithJSON(w, http.StatusOK, h.cartView(c, "Cart cleared"))
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode order request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, replayed, err := h.service.Checkout(r.Context(), session.User.ID, CheckoutRequest{
		AddressID:      req.AddressID,
		PickupDate:     req.PickupDate,
		PickupSlot:     req.PickupSlot,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	})
	if err != nil {
		h.respondWithFailure(w, err)
		return
	}

	if replayed {
		h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
			Success: true,
			Message: "Order already placed",
			Order:   order,
		})
		return
	}
	h.respondWithJSON(w, http.StatusCreated, models.OrderResponse{
		Success: true,
		Message: "Order placed successfully",
		Order:   order,
	})
}

// GetOrders lists the caller's orders, or every order for an admin.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	var status models.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := models.ParseOrderStatus(raw)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}

	owner := session.User.ID
	if session.IsAdmin() {
		owner = ""
	}
	orders := h.service.Store().ListFilter(r.Context(), owner, status)

	h.respondWithJSON(w, http.StatusOK, models.OrderListResponse{
		Success: true,
		Message: "Orders retrieved",
		Orders:  orders,
		Count:   len(orders),
	})
}

func (h *Handler) visibleOrder(w http.ResponseWriter, r *http.Request, session *auth.Session) (*models.Order, bool) {
	order, err := h.service.Store().Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithFailure(w, err)
		return nil, false
	}
	if !session.IsAdmin() && order.UserID != session.User.ID {
		h.respondWithFailure(w, ErrForbidden)
		return nil, false
	}
	return order, true
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	order, ok := h.visibleOrder(w, r, session)
	if !ok {
		return
	}
	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{Success: true, Order: order})
}

// GetActions lists the statuses the order may move to next.
func (h *Handler) GetActions(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	order, ok := h.visibleOrder(w, r, session)
	if !ok {
		return
	}

	actions := []string{}
	for _, status := range lifecycle.Actions(order.Status) {
		actions = append(actions, string(status))
	}
	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{Success: true, Order: order, Actions: actions})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Status == "" {
		h.respondWithError(w, http.StatusBadRequest, "status is required")
		return
	}

	order, err := h.service.Store().UpdateStatus(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		h.respondWithFailure(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order is now " + string(order.Status),
		Order:   order,
	})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	store := h.service.Store()
	h.respondWithJSON(w, http.StatusOK, statsResponse{
		Success: true,
		Stats:   store.Stats(r.Context(), store.now()),
	})
}

func (h *Handler) breaker(w http.ResponseWriter, r *http.Request) (*circuitbreaker.CircuitBreaker, bool) {
	name := mux.Vars(r)["name"]
	var breaker *circuitbreaker.CircuitBreaker
	if h.breakers != nil {
		breaker = h.breakers.Get(name)
	}
	if breaker == nil {
		h.respondWithError(w, http.StatusNotFound, "Unknown circuit breaker "+name)
		return nil, false
	}
	return breaker, true
}

func (h *Handler) GetBreaker(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	breaker, ok := h.breaker(w, r)
	if !ok {
		return
	}
	h.respondWithJSON(w, http.StatusOK, breakerResponse{Success: true, Breaker: breaker.Metrics()})
}

// ResetBreaker closes a breaker by hand, e.g. once storage is known to be back.
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	breaker, ok := h.breaker(w, r)
	if !ok {
		return
	}
	h.breakers.Reset(breaker.Name())
	h.logger.WithFields(logrus.Fields{
		"circuit_breaker": breaker.Name(),
		"admin_id":        session.User.ID,
	}).Warn("Circuit breaker reset by admin")

	h.respondWithJSON(w, http.StatusOK, breakerResponse{
		Success: true,
		Message: "Circuit breaker " + breaker.Name() + " reset",
		Breaker: breaker.Metrics(),
	})
}

func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (*auth.Session, bool) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "Login required")
		return nil, false
	}
	return session, true
}

func (h *Handler) requireCustomer(w http.ResponseWriter, r *http.Request) (*auth.Session, bool) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return nil, false
	}
	if session.User.Role != models.RoleCustomer {
		h.respondWithError(w, http.StatusForbidden, "Customer account required")
		return nil, false
	}
	return session, true
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.Session, bool) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return nil, false
	}
	if !session.IsAdmin() {
		h.respondWithError(w, http.StatusForbidden, "Admin access required")
		return nil, false
	}
	return session, true
}

// StatusFor maps a domain error to the HTTP status reported for it.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, cart.ErrInvalidLine),
		errors.Is(err, catalog.ErrUnknownItem),
		errors.Is(err, auth.ErrInvalidLogin),
		errors.Is(err, auth.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, auth.ErrRoleMismatch),
		errors.Is(err, ErrInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondWithFailure(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	if code < http.StatusInternalServerError {
		h.respondWithError(w, code, err.Error())
		return
	}

	h.logger.WithError(err).Error("Request failed")
	message := "Failed to process request"
	if errors.Is(err, storage.ErrPersistence) || errors.Is(err, circuitbreaker.ErrOpen) {
		message = "Storage unavailable, please retry"
	}
	h.respondWithError(w, code, message)
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, models.OrderResponse{
		Success: false,
		Message: message,
	})
}
