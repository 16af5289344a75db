package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrProductNotFound is returned when the catalog has no such product.
var ErrProductNotFound = errors.New("product not found")

// CatalogProduct is the slice of the catalog checkout needs: the current
// price and whether the product can still be sold.
type CatalogProduct struct {
	ID     uuid.UUID       `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Active bool            `json:"is_active"`
}

// CatalogService resolves products against the catalog of record.
type CatalogService interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*CatalogProduct, error)
}

// HTTPCatalog fetches products from the catalog service's internal API.
type HTTPCatalog struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCatalog(baseURL string) *HTTPCatalog {
	return &HTTPCatalog{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *HTTPCatalog) GetProduct(ctx context.Context, id uuid.UUID) (*CatalogProduct, error) {
	url := fmt.Sprintf("%s/products/internal/%s", c.baseURL, id.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrProductNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned %d", resp.StatusCode)
	}

	var prod CatalogProduct
	if err := json.NewDecoder(resp.Body).Decode(&prod); err != nil {
		return nil, err
	}
	return &prod, nil
}

// StaticCatalog is a fixed in-memory catalog for development and tests.
type StaticCatalog struct {
	mu       sync.RWMutex
	products map[uuid.UUID]CatalogProduct
}

func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{products: make(map[uuid.UUID]CatalogProduct)}
}

func (c *StaticCatalog) Put(p CatalogProduct) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *StaticCatalog) GetProduct(_ context.Context, id uuid.UUID) (*CatalogProduct, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}
