package triggers

import (
	"encoding/json"
	"testing"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

func TestReceiptTokenDetectorFindsTriggers(t *testing.T) {
	detector := NewReceiptTokenDetector(map[string]domain.Provider{
		"Mint-Kamino": domain.ProviderKamino,
	})

	payload := json.RawMessage(`{"tokens":[{"address":"mint-kamino","amount":12},{"address":"mint-other","amount":3}]}`)
	found := detector.Detect(payload, domain.ChainSolana)
	if len(found) != 1 {
		t.Fatalf("expected one trigger, got %d", len(found))
	}
	if found[0].Provider != domain.ProviderKamino || found[0].Chain != domain.ChainSolana {
		t.Fatalf("unexpected trigger: %+v", found[0])
	}
}

func TestReceiptTokenDetectorSkipsZeroBalances(t *testing.T) {
	detector := NewReceiptTokenDetector(map[string]domain.Provider{
		"mint-kamino": domain.ProviderKamino,
	})

	payload := json.RawMessage(`{"tokens":[{"address":"mint-kamino","amount":0}]}`)
	if found := detector.Detect(payload, domain.ChainSolana); len(found) != 0 {
		t.Fatalf("expected no triggers for zero balance, got %d", len(found))
	}
}

func TestReceiptTokenDetectorDedupesProviders(t *testing.T) {
	detector := NewReceiptTokenDetector(map[string]domain.Provider{
		"mint-a": domain.ProviderRaydium,
		"mint-b": domain.ProviderRaydium,
	})

	payload := json.RawMessage(`{"tokens":[{"address":"mint-a","amount":1},{"address":"mint-b","amount":2}]}`)
	if found := detector.Detect(payload, domain.ChainSolana); len(found) != 1 {
		t.Fatalf("expected deduped trigger list, got %d entries", len(found))
	}
}

func TestReceiptTokenDetectorIgnoresCorruptPayload(t *testing.T) {
	detector := NewReceiptTokenDetector(map[string]domain.Provider{
		"mint-a": domain.ProviderRaydium,
	})

	if found := detector.Detect(json.RawMessage(`{broken`), domain.ChainSolana); found != nil {
		t.Fatalf("expected nil triggers for corrupt payload, got %v", found)
	}
}

func TestDefaultRegistryWiring(t *testing.T) {
	registry := DefaultRegistry()

	if _, ok := registry.DetectorFor(domain.ProviderSolanaTokens); !ok {
		t.Fatalf("expected detector for solana token listings")
	}
	if _, ok := registry.DetectorFor(domain.ProviderAaveSupply); !ok {
		t.Fatalf("expected detector for aave supply")
	}
	if _, ok := registry.DetectorFor(domain.ProviderUniswapV3); ok {
		t.Fatalf("did not expect detector for uniswap")
	}
}

func TestKnownReceiptToken(t *testing.T) {
	if !KnownReceiptToken(pendlePTWstETH) {
		t.Fatalf("expected pendle PT token to be a known receipt token")
	}
	if !KnownReceiptToken("0x98C23E9D8F34FEFB1B7BD6A91B7FF122F4E16F5C") {
		t.Fatalf("expected match to be case-insensitive")
	}
	if KnownReceiptToken("0x0000000000000000000000000000000000000000") {
		t.Fatalf("did not expect zero address to match")
	}
}
