// Package retailer provides the HTTP client for the VkusVill store API.
// The shopping tools are thin wrappers around this client; it knows nothing
// about agents or carts.
package retailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each store API request when no client is supplied.
const DefaultTimeout = 30 * time.Second

// maxProductFetches caps concurrent requests in GetProducts.
const maxProductFetches = 4

// Product is one catalog entry as returned by the search endpoint.
type Product struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	OldPrice  float64 `json:"old_price,omitempty"`
	Rating    float64 `json:"rating,omitempty"`
	Unit      string  `json:"unit,omitempty"`
	Available bool    `json:"available"`
}

// ProductDetails extends Product with the full card fields.
type ProductDetails struct {
	Product

	Composition      string `json:"composition,omitempty"`
	Description      string `json:"description,omitempty"`
	NutritionalValue string `json:"nutritional_value,omitempty"`
}

// CartItem is one position of a shareable cart.
type CartItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
}

// APIError is a non-2xx reply from the store API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// Client is an HTTP JSON client for the store API.
type Client struct {
	BaseURL string       // API root (no trailing slash), e.g. "https://api.vkusvill.ru".
	Client  *http.Client // HTTP client; falls back to a default with DefaultTimeout.

	clientOnce    sync.Once
	defaultClient *http.Client
}

// New creates a Client for the given API root.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

// SearchProducts queries the catalog. A non-positive limit leaves the page
// size to the server.
func (c *Client) SearchProducts(ctx context.Context, query string, limit int) ([]Product, error) {
	q := url.Values{}
	q.Set("query", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp searchResponse
	if err := c.getJSON(ctx, "/api/v1/products/search?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("retailer: search products: %w", err)
	}

	return resp.Products, nil
}

// GetProduct fetches the full product card.
func (c *Client) GetProduct(ctx context.Context, id string) (ProductDetails, error) {
	var details ProductDetails
	if err := c.getJSON(ctx, "/api/v1/products/"+url.PathEscape(id), &details); err != nil {
		return ProductDetails{}, fmt.Errorf("retailer: get product %s: %w", id, err)
	}

	return details, nil
}

// GetProducts fetches several product cards at once, at most maxProductFetches
// in flight. Results keep the order of ids. The first failure cancels the
// remaining fetches and is returned.
func (c *Client) GetProducts(ctx context.Context, ids []string) ([]ProductDetails, error) {
	out := make([]ProductDetails, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxProductFetches)

	for i, id := range ids {
		g.Go(func() error {
			details, err := c.GetProduct(ctx, id)
			if err != nil {
				return err
			}
			out[i] = details
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// CreateCartLink registers a cart on the store side and returns the share URL.
func (c *Client) CreateCartLink(ctx context.Context, items []CartItem) (string, error) {
	var resp cartLinkResponse
	if err := c.postJSON(ctx, "/api/v1/cart/links", cartLinkRequest{Items: items}, &resp); err != nil {
		return "", fmt.Errorf("retailer: create cart link: %w", err)
	}

	return resp.URL, nil
}

// --- wire types ---

type searchResponse struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
}

type cartLinkRequest struct {
	Items []CartItem `json:"items"`
}

type cartLinkResponse struct {
	URL string `json:"url"`
}

// apiErrorBody matches the store's error payload.
type apiErrorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// --- HTTP helpers ---

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// readAPIError turns a non-2xx reply into an *APIError, pulling the message
// from the JSON error payload when there is one.
func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body apiErrorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.Detail != "":
			apiErr.Message = body.Detail
		case body.Message != "":
			apiErr.Message = body.Message
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	return apiErr
}

// httpClient returns the configured client or a cached default with DefaultTimeout.
func (c *Client) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}

	c.clientOnce.Do(func() {
		c.defaultClient = &http.Client{Timeout: DefaultTimeout}
	})

	return c.defaultClient
}
