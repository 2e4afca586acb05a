// Package triggers detects follow-up work hiding inside a successful
// provider payload: a wallet holding a protocol's receipt token means that
// protocol's position endpoint must now also be queried.
package triggers

import (
	"encoding/json"
	"strings"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

// Trigger names one additional (provider, chain) combination to query.
type Trigger struct {
	Provider domain.Provider
	Chain    domain.Chain
}

// Detector inspects a successful result's raw payload and returns candidate
// triggers. Implementations are pure and side-effect free.
type Detector interface {
	Detect(payload json.RawMessage, chain domain.Chain) []Trigger
}

// Registry holds one optional detector per provider.
type Registry struct {
	detectors map[domain.Provider]Detector
}

func NewRegistry() *Registry {
	return &Registry{detectors: make(map[domain.Provider]Detector)}
}

func (r *Registry) Register(provider domain.Provider, detector Detector) {
	r.detectors[provider] = detector
}

func (r *Registry) DetectorFor(provider domain.Provider) (Detector, bool) {
	detector, ok := r.detectors[provider]
	return detector, ok
}

// ReceiptTokenDetector matches token addresses in the payload against a
// table of known receipt/wrapper tokens, each pointing at the protocol that
// minted it.
type ReceiptTokenDetector struct {
	markers map[string]domain.Provider
}

// NewReceiptTokenDetector builds a detector from a token-address → provider
// table. Addresses are matched case-insensitively.
func NewReceiptTokenDetector(markers map[string]domain.Provider) *ReceiptTokenDetector {
	normalized := make(map[string]domain.Provider, len(markers))
	for tokenAddress, provider := range markers {
		normalized[strings.ToLower(tokenAddress)] = provider
	}
	return &ReceiptTokenDetector{markers: normalized}
}

type scanPayload struct {
	Tokens   []scanEntry `json:"tokens"`
	Supplies []scanEntry `json:"supplies"`
}

type scanEntry struct {
	Address string  `json:"address"`
	Amount  float64 `json:"amount"`
}

func (d *ReceiptTokenDetector) Detect(payload json.RawMessage, chain domain.Chain) []Trigger {
	if len(payload) == 0 {
		return nil
	}
	var decoded scanPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil
	}

	seen := make(map[domain.Provider]struct{})
	var found []Trigger
	scan := func(entries []scanEntry) {
		for _, entry := range entries {
			if entry.Amount == 0 {
				continue
			}
			provider, ok := d.markers[strings.ToLower(entry.Address)]
			if !ok {
				continue
			}
			if _, dup := seen[provider]; dup {
				continue
			}
			seen[provider] = struct{}{}
			found = append(found, Trigger{Provider: provider, Chain: chain})
		}
	}
	scan(decoded.Tokens)
	scan(decoded.Supplies)
	return found
}

// Receipt token mints/addresses whose presence in a wallet implies an open
// position on the minting protocol.
const (
	kaminoKUSDCMint  = "B8edNFgMCwTkBsZNfBhu6mKSgsHFr7eFjZtUf4xH4oig"
	raydiumSOLUSDCLP = "8HoQnePLqPj4M7PUDzfw8e3Ymdwgc7NjiMXV8YYyQmwQ"
	pendlePTWstETH   = "0xb253eff1104802b97ac7e3ac9fdd73aece295a2c"
)

// Aave receipt tokens that plain token listings report alongside the
// lending position itself.
const (
	aaveAUSDC = "0x98c23e9d8f34fefb1b7bd6a91b7ff122f4e16f5c"
	aaveAWETH = "0x4d5f47fa6a74757f35c14fd3a6ef8e3c9bc514e8"
)

var suppressedReceiptTokens = map[string]struct{}{
	strings.ToLower(kaminoKUSDCMint):  {},
	strings.ToLower(raydiumSOLUSDCLP): {},
	strings.ToLower(pendlePTWstETH):   {},
	aaveAUSDC:                         {},
	aaveAWETH:                         {},
}

// KnownReceiptToken reports whether the token address is a receipt/wrapper
// token whose balance is already represented by a protocol position item.
func KnownReceiptToken(tokenAddress string) bool {
	_, ok := suppressedReceiptTokens[strings.ToLower(tokenAddress)]
	return ok
}

// DefaultRegistry wires the detectors for the providers known to surface
// follow-up work.
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(domain.ProviderSolanaTokens, NewReceiptTokenDetector(map[string]domain.Provider{
		kaminoKUSDCMint:  domain.ProviderKamino,
		raydiumSOLUSDCLP: domain.ProviderRaydium,
	}))
	registry.Register(domain.ProviderAaveSupply, NewReceiptTokenDetector(map[string]domain.Provider{
		pendlePTWstETH: domain.ProviderPendle,
	}))
	return registry
}
