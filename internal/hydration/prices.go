// Package hydration fills prices and token metadata into consolidated
// wallet items. Both clients are best-effort: callers log failures and keep
// the affected fields unset.
package hydration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

type PriceClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	RPS        float64
	Burst      int
}

// PriceClient resolves USD prices for token addresses, one upstream call
// per chain, rate-limited across calls.
type PriceClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
}

func NewPriceClient(config PriceClientConfig) *PriceClient {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.RPS <= 0 {
		config.RPS = 5
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	return &PriceClient{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		httpClient: config.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
		timeout:    config.Timeout,
	}
}

func (c *PriceClient) Available() bool {
	return c.baseURL != ""
}

// Hydrate fills PriceUSD on items that still lack one. Prices already
// present are never overwritten.
func (c *PriceClient) Hydrate(ctx context.Context, items []domain.PortfolioItem) error {
	if !c.Available() || len(items) == 0 {
		return nil
	}

	byChain := make(map[domain.Chain][]string)
	for _, item := range items {
		if item.PriceUSD != nil || item.TokenAddress == "" {
			continue
		}
		byChain[item.Chain] = append(byChain[item.Chain], item.TokenAddress)
	}

	for chain, addresses := range byChain {
		prices, err := c.fetch(ctx, chain, addresses)
		if err != nil {
			return fmt.Errorf("fetch prices for %s: %w", chain, err)
		}
		for i := range items {
			item := &items[i]
			if item.Chain != chain || item.PriceUSD != nil {
				continue
			}
			if price, ok := prices[strings.ToLower(item.TokenAddress)]; ok {
				value := price
				item.PriceUSD = &value
			}
		}
	}
	return nil
}

func (c *PriceClient) fetch(ctx context.Context, chain domain.Chain, addresses []string) (map[string]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"chain":     string(chain),
		"addresses": addresses,
	})
	if err != nil {
		return nil, fmt.Errorf("encode price request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.baseURL+"/v1/prices", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(response.Body, 2048))
		return nil, fmt.Errorf("price api status %d: %s", response.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded struct {
		Prices map[string]float64 `json:"prices"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}

	normalized := make(map[string]float64, len(decoded.Prices))
	for tokenAddress, price := range decoded.Prices {
		normalized[strings.ToLower(tokenAddress)] = price
	}
	return normalized, nil
}
