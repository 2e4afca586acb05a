package hydration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

func priceServer(t *testing.T, calls *atomic.Int32, prices map[string]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/prices" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var request struct {
			Chain     string   `json:"chain"`
			Addresses []string `json:"addresses"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"prices": prices})
	}))
}

func TestPriceClientFillsOnlyUnsetPrices(t *testing.T) {
	var calls atomic.Int32
	server := priceServer(t, &calls, map[string]float64{
		"0xTokenA": 2500,
		"0xtokenb": 1,
	})
	defer server.Close()

	client := NewPriceClient(PriceClientConfig{BaseURL: server.URL})
	existing := 9.99
	items := []domain.PortfolioItem{
		{Chain: domain.ChainEthereum, TokenAddress: "0xtokena", Symbol: "WETH"},
		{Chain: domain.ChainEthereum, TokenAddress: "0xtokenb", Symbol: "USDC", PriceUSD: &existing},
		{Chain: domain.ChainEthereum, TokenAddress: "0xtokenc", Symbol: "DAI"},
	}

	if err := client.Hydrate(context.Background(), items); err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	if items[0].PriceUSD == nil || *items[0].PriceUSD != 2500 {
		t.Fatalf("expected case-insensitive price fill, got %+v", items[0])
	}
	if *items[1].PriceUSD != 9.99 {
		t.Fatalf("expected existing price untouched, got %v", *items[1].PriceUSD)
	}
	if items[2].PriceUSD != nil {
		t.Fatalf("expected unknown address to stay unset, got %v", *items[2].PriceUSD)
	}
}

func TestPriceClientGroupsRequestsByChain(t *testing.T) {
	var calls atomic.Int32
	server := priceServer(t, &calls, nil)
	defer server.Close()

	client := NewPriceClient(PriceClientConfig{BaseURL: server.URL})
	items := []domain.PortfolioItem{
		{Chain: domain.ChainEthereum, TokenAddress: "0xa"},
		{Chain: domain.ChainEthereum, TokenAddress: "0xb"},
		{Chain: domain.ChainSolana, TokenAddress: "mint-a"},
	}

	if err := client.Hydrate(context.Background(), items); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected one call per chain, got %d", got)
	}
}

func TestPriceClientUnavailableIsNoop(t *testing.T) {
	client := NewPriceClient(PriceClientConfig{})
	if client.Available() {
		t.Fatalf("expected client without base url to be unavailable")
	}
	items := []domain.PortfolioItem{{Chain: domain.ChainEthereum, TokenAddress: "0xa"}}
	if err := client.Hydrate(context.Background(), items); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if items[0].PriceUSD != nil {
		t.Fatalf("expected no hydration without base url")
	}
}

func TestPriceClientSurfacesUpstreamErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewPriceClient(PriceClientConfig{BaseURL: server.URL})
	items := []domain.PortfolioItem{{Chain: domain.ChainEthereum, TokenAddress: "0xa"}}
	if err := client.Hydrate(context.Background(), items); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func TestLogoClientFillsOnlyUnsetLogos(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/logos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"logos": map[string]string{"0xtokena": "https://cdn.example/a.png"},
		})
	}))
	defer server.Close()

	client := NewLogoClient(LogoClientConfig{BaseURL: server.URL})
	items := []domain.PortfolioItem{
		{Chain: domain.ChainEthereum, TokenAddress: "0xTOKENA"},
		{Chain: domain.ChainEthereum, TokenAddress: "0xtokenb", LogoURI: "https://cdn.example/keep.png"},
	}

	if err := client.Hydrate(context.Background(), items); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if items[0].LogoURI != "https://cdn.example/a.png" {
		t.Fatalf("expected logo fill, got %q", items[0].LogoURI)
	}
	if items[1].LogoURI != "https://cdn.example/keep.png" {
		t.Fatalf("expected existing logo untouched, got %q", items[1].LogoURI)
	}
}
