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

type LogoClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	RPS        float64
	Burst      int
}

// LogoClient resolves token logo URIs, one upstream call per chain.
type LogoClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
}

func NewLogoClient(config LogoClientConfig) *LogoClient {
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
	return &LogoClient{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		httpClient: config.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
		timeout:    config.Timeout,
	}
}

func (c *LogoClient) Available() bool {
	return c.baseURL != ""
}

// Hydrate fills LogoURI on items that still lack one, leaving set values
// untouched.
func (c *LogoClient) Hydrate(ctx context.Context, items []domain.PortfolioItem) error {
	if !c.Available() || len(items) == 0 {
		return nil
	}

	byChain := make(map[domain.Chain][]string)
	for _, item := range items {
		if item.LogoURI != "" || item.TokenAddress == "" {
			continue
		}
		byChain[item.Chain] = append(byChain[item.Chain], item.TokenAddress)
	}

	for chain, addresses := range byChain {
		logos, err := c.fetch(ctx, chain, addresses)
		if err != nil {
			return fmt.Errorf("fetch logos for %s: %w", chain, err)
		}
		for i := range items {
			item := &items[i]
			if item.Chain != chain || item.LogoURI != "" {
				continue
			}
			if logo, ok := logos[strings.ToLower(item.TokenAddress)]; ok {
				item.LogoURI = logo
			}
		}
	}
	return nil
}

func (c *LogoClient) fetch(ctx context.Context, chain domain.Chain, addresses []string) (map[string]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"chain":     string(chain),
		"addresses": addresses,
	})
	if err != nil {
		return nil, fmt.Errorf("encode logo request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.baseURL+"/v1/logos", bytes.NewReader(body))
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
		return nil, fmt.Errorf("logo api status %d: %s", response.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded struct {
		Logos map[string]string `json:"logos"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode logo response: %w", err)
	}

	normalized := make(map[string]string, len(decoded.Logos))
	for tokenAddress, logo := range decoded.Logos {
		normalized[strings.ToLower(tokenAddress)] = logo
	}
	return normalized, nil
}
