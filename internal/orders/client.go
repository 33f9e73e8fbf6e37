package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/pkg/models"
)

// APIError is a non-2xx response from the laundry API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("laundry api returned %d: %s", e.StatusCode, e.Message)
}

type Cart struct {
	Items []models.OrderItem
	Total decimal.Decimal
}

// Client talks to the laundry API on behalf of one logged-in user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
	token      string
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}, header http.Header) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to laundry api: %w", err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("Received response from laundry api")

	if resp.StatusCode >= http.StatusBadRequest {
		var failure models.OrderResponse
		if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil || failure.Message == "" {
			failure.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: failure.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode laundry api response: %w", err)
	}
	return nil
}

// Login starts a session and keeps its token for later calls.
func (c *Client) Login(ctx context.Context, email string, role models.Role) (*models.User, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Role: role}, &resp, nil); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return resp.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodGet, "/me", nil, &resp, nil); err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (c *Client) AddAddress(ctx context.Context, address models.Address) (*models.User, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/me/addresses", address, &resp, nil); err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (c *Client) Pricing(ctx context.Context, category models.ServiceCategory) ([]models.PricingItem, error) {
	path := "/pricing"
	if category != "" {
		path += "?category=" + url.QueryEscape(string(category))
	}
	var resp pricingResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, nil); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) cart(ctx context.Context, method, path string, body interface{}) (*Cart, error) {
	var resp cartResponse
	if err := c.do(ctx, method, path, body, &resp, nil); err != nil {
		return nil, err
	}
	return &Cart{Items: resp.Items, Total: resp.Total}, nil
}

func (c *Client) Cart(ctx context.Context) (*Cart, error) {
	return c.cart(ctx, http.MethodGet, "/cart", nil)
}

// AddToCart applies quantity as a delta to the item's cart line.
func (c *Client) AddToCart(ctx context.Context, itemID string, quantity int) (*Cart, error) {
	return c.cart(ctx, http.MethodPost, "/cart/items", cartItemRequest{ItemID: itemID, Quantity: quantity})
}

func (c *Client) RemoveFromCart(ctx context.Context, itemID string) (*Cart, error) {
	return c.cart(ctx, http.MethodDelete, "/cart/items/"+url.PathEscape(itemID), nil)
}

func (c *Client) ClearCart(ctx context.Context) (*Cart, error) {
	return c.cart(ctx, http.MethodDelete, "/cart", nil)
}

func (c *Client) Checkout(ctx context.Context, req CheckoutRequest) (*models.Order, error) {
	header := http.Header{}
	if req.IdempotencyKey != "" {
		header.Set(IdempotencyHeader, req.IdempotencyKey)
	}
	var resp models.OrderResponse
	err := c.do(ctx, http.MethodPost, "/orders", checkoutRequest{
		AddressID:  req.AddressID,
		PickupDate: req.PickupDate,
		PickupSlot: req.PickupSlot,
	}, &resp, header)
	if err != nil {
		return nil, err
	}

	c.logger.WithField("order_id", resp.Order.ID).Info("Order placed")
	return resp.Order, nil
}

func (c *Client) Orders(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	path := "/orders"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var resp models.OrderListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, nil); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

func (c *Client) Order(ctx context.Context, id string) (*models.Order, error) {
	var resp models.OrderResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, &resp, nil); err != nil {
		return nil, err
	}
	return resp.Order, nil
}

func (c *Client) Actions(ctx context.Context, id string) ([]string, error) {
	var resp models.OrderResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id)+"/actions", nil, &resp, nil); err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	var resp models.OrderResponse
	err := c.do(ctx, http.MethodPatch, "/orders/"+url.PathEscape(id)+"/status", statusRequest{Status: status}, &resp, nil)
	if err != nil {
		return nil, err
	}
	return resp.Order, nil
}

// ResetBreaker closes the named circuit breaker and returns its metrics.
func (c *Client) ResetBreaker(ctx context.Context, name string) (map[string]interface{}, error) {
	var resp breakerResponse
	if err := c.do(ctx, http.MethodPost, "/admin/breakers/"+url.PathEscape(name)+"/reset", nil, &resp, nil); err != nil {
		return nil, err
	}
	return resp.Breaker, nil
}

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var resp statsResponse
	if err := c.do(ctx, http.MethodGet, "/admin/stats", nil, &resp, nil); err != nil {
		return nil, err
	}
	return &resp.Stats, nil
}
