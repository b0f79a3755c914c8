// Package catalog reads the outlet's garments from the product service.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 30 * time.Second
)

// ErrNotFound is returned when a product id is not in the catalog.
var ErrNotFound = errors.New("product not found")

// Config configures a Client.
type Config struct {
	BaseURL  string
	OutletID string
	Timeout  time.Duration
	CacheTTL time.Duration
	// RetryMax bounds transport-level retries of idempotent reads.
	RetryMax     int
	RetryWaitMin time.Duration
}

// Client fetches GET /products?outlet_id= and caches the result briefly.
type Client struct {
	http     *resty.Client
	outletID string
	ttl      time.Duration

	mu        sync.Mutex
	cached    []domain.Garment
	fetchedAt time.Time
}

// New creates a catalog client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 200 * time.Millisecond
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = 4 * cfg.RetryWaitMin
	retryClient.Logger = nil

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "tryon-orchestrator/1.0")

	return &Client{http: client, outletID: cfg.OutletID, ttl: cfg.CacheTTL}
}

type productsReply struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Data    []json.RawMessage `json:"data"`
}

// product carries the catalog fields that do not map onto Garment directly.
type product struct {
	ImageURL string `json:"image_url"`
}

// Products returns the outlet's garments.
func (c *Client) Products(ctx context.Context) ([]domain.Garment, error) {
	c.mu.Lock()
	if c.cached != nil && time.Since(c.fetchedAt) < c.ttl {
		out := append([]domain.Garment(nil), c.cached...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	garments, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached = garments
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return append([]domain.Garment(nil), garments...), nil
}

// Product looks up one garment by id.
func (c *Client) Product(ctx context.Context, id string) (domain.Garment, error) {
	garments, err := c.Products(ctx)
	if err != nil {
		return domain.Garment{}, err
	}
	for _, g := range garments {
		if g.ID == id {
			return g, nil
		}
	}
	return domain.Garment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (c *Client) fetch(ctx context.Context) ([]domain.Garment, error) {
	var reply productsReply
	req := c.http.R().SetContext(ctx).SetResult(&reply).SetError(&reply)
	if c.outletID != "" {
		req.SetQueryParam("outlet_id", c.outletID)
	}

	resp, err := req.Get("/products")
	if err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}
	if resp.IsError() || !reply.Success {
		reason := reply.Error
		if reason == "" {
			reason = resp.Status()
		}
		return nil, fmt.Errorf("fetch products: %s", reason)
	}

	garments := make([]domain.Garment, 0, len(reply.Data))
	for _, raw := range reply.Data {
		var g domain.Garment
		if err := json.Unmarshal(raw, &g); err != nil {
			slog.Warn("Skipping undecodable catalog record", "error", err)
			continue
		}
		var p product
		if err := json.Unmarshal(raw, &p); err == nil && g.ImageRef == "" {
			g.ImageRef = p.ImageURL
		}
		garments = append(garments, g)
	}
	slog.Debug("Catalog fetched", "outlet_id", c.outletID, "count", len(garments))
	return garments, nil
}
