package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/cartsync/internal/identity"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/metrics"
)

const (
	defaultTimeout        = 10 * time.Second
	responseReadLimit     = 1 << 20
	sessionHeader         = "x-session-id"
	errBodyPreviewLimit   = 512
	signInRequiredMessage = "must sign in to use the wishlist"
)

var errBaseURLRequired = errors.New("remote base url is required")

// Client talks to the storefront cart and wishlist REST service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *metrics.SyncMetrics
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithMetrics records request counts and latency.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient builds the client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("parse remote base url: %w", err)
	}

	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// GetCart fetches the full cart for the identity.
func (c *Client) GetCart(ctx context.Context, id identity.Context) (Cart, error) {
	data, err := c.call(ctx, "get_cart", http.MethodGet, "/cart", id, nil, false)
	if err != nil {
		return Cart{}, err
	}
	return decodeCart("get_cart", data)
}

// AddItem adds a line and reports whether the service persisted it.
func (c *Client) AddItem(ctx context.Context, id identity.Context, req AddItemRequest) (AddResult, error) {
	data, err := c.call(ctx, "add_cart_item", http.MethodPost, "/cart/items", id, req, false)
	if err != nil {
		return AddResult{}, err
	}
	result, err := decodeAddResult(data)
	if err != nil {
		return AddResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode add item response")
	}
	return result, nil
}

// UpdateItem sets a line quantity and returns the resulting cart.
func (c *Client) UpdateItem(ctx context.Context, id identity.Context, lineID string, quantity int) (Cart, error) {
	body := struct {
		Quantity int `json:"quantity"`
	}{Quantity: quantity}
	data, err := c.call(ctx, "update_cart_item", http.MethodPut, "/cart/items/"+url.PathEscape(lineID), id, body, false)
	if err != nil {
		return Cart{}, err
	}
	return decodeCart("update_cart_item", data)
}

// RemoveItem deletes a line. Deleting an unknown line succeeds.
func (c *Client) RemoveItem(ctx context.Context, id identity.Context, lineID string) error {
	_, err := c.call(ctx, "remove_cart_item", http.MethodDelete, "/cart/items/"+url.PathEscape(lineID), id, nil, true)
	return err
}

// GetWishlist fetches the signed-in shopper's wishlist.
func (c *Client) GetWishlist(ctx context.Context, id identity.Context) ([]WishlistEntry, error) {
	if err := requireAuth(id); err != nil {
		return nil, err
	}
	data, err := c.call(ctx, "get_wishlist", http.MethodGet, "/wishlist", id, nil, false)
	if err != nil {
		return nil, err
	}
	entries, err := decodeWishlist(data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode wishlist response")
	}
	return entries, nil
}

// AddToWishlist saves a product. A duplicate surfaces as CodeConflict.
func (c *Client) AddToWishlist(ctx context.Context, id identity.Context, productID string) error {
	if err := requireAuth(id); err != nil {
		return err
	}
	body := struct {
		ProductID string `json:"product_id"`
	}{ProductID: productID}
	_, err := c.call(ctx, "add_wishlist_item", http.MethodPost, "/wishlist", id, body, false)
	return err
}

// RemoveFromWishlist drops a product. Removing an absent product succeeds.
func (c *Client) RemoveFromWishlist(ctx context.Context, id identity.Context, productID string) error {
	if err := requireAuth(id); err != nil {
		return err
	}
	_, err := c.call(ctx, "remove_wishlist_item", http.MethodDelete, "/wishlist/"+url.PathEscape(productID), id, nil, true)
	return err
}

// WishlistCount returns the server-side wishlist size.
func (c *Client) WishlistCount(ctx context.Context, id identity.Context) (int, error) {
	if err := requireAuth(id); err != nil {
		return 0, err
	}
	data, err := c.call(ctx, "wishlist_count", http.MethodGet, "/wishlist/count", id, nil, false)
	if err != nil {
		return 0, err
	}
	count, err := decodeCount(data)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode wishlist count")
	}
	return count, nil
}

// Health probes connectivity. Any 2xx counts as reachable.
func (c *Client) Health(ctx context.Context) error {
	start := time.Now()
	err := c.health(ctx)
	c.metrics.ObserveRemote("health", outcomeOf(err), time.Since(start))
	return err
}

func (c *Client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build health request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Network(err, "health probe failed")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, responseReadLimit))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus("health probe", resp.StatusCode, "")
	}
	return nil
}

func requireAuth(id identity.Context) error {
	if !id.Authenticated() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, signInRequiredMessage)
	}
	return nil
}

func (c *Client) call(ctx context.Context, op, method, path string, id identity.Context, body any, notFoundOK bool) (json.RawMessage, error) {
	start := time.Now()
	data, err := c.do(ctx, op, method, path, id, body, notFoundOK)
	c.metrics.ObserveRemote(op, outcomeOf(err), time.Since(start))
	return data, err
}

func (c *Client) do(ctx context.Context, op, method, path string, id identity.Context, body any, notFoundOK bool) (json.RawMessage, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "remote client not configured")
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal "+op+" request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build "+op+" request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setIdentity(req, id)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Network(err, op+" request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
	if err != nil {
		return nil, pkgerrors.Network(err, "read "+op+" response")
	}

	if resp.StatusCode == http.StatusNotFound && notFoundOK {
		return nil, nil
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := ""
		if decodeErr == nil {
			message = env.errorMessage()
		}
		if message == "" {
			message = preview(raw)
		}
		return nil, classifyStatus(op, resp.StatusCode, message)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	if decodeErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, decodeErr, "decode "+op+" response")
	}
	if !env.Success && len(env.Error) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, env.errorMessage())
	}
	return env.Data, nil
}

func setIdentity(req *http.Request, id identity.Context) {
	if id.Authenticated() {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(id.Token))
		return
	}
	if id.SessionID != "" {
		req.Header.Set(sessionHeader, id.SessionID)
	}
}

func decodeCart(op string, data json.RawMessage) (Cart, error) {
	cart := Cart{Items: []CartLine{}}
	if len(data) == 0 || string(data) == "null" {
		return cart, nil
	}
	if err := json.Unmarshal(data, &cart); err != nil {
		return Cart{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode "+op+" response")
	}
	if cart.Items == nil {
		cart.Items = []CartLine{}
	}
	return cart, nil
}

func preview(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) > errBodyPreviewLimit {
		trimmed = trimmed[:errBodyPreviewLimit]
	}
	return trimmed
}
