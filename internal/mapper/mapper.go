// Package mapper turns provider-specific payloads into canonical portfolio
// items. The aggregator treats the Mapper as an opaque collaborator; the
// JSON mapper here covers the envelope every integrator publishes.
package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

type Mapper interface {
	Map(provider domain.Provider, payload json.RawMessage, chain domain.Chain) ([]domain.PortfolioItem, error)
}

type rawEntry struct {
	Symbol  string  `json:"symbol"`
	Address string  `json:"address"`
	Amount  float64 `json:"amount"`
}

type rawPayload struct {
	Tokens    []rawEntry `json:"tokens"`
	Supplies  []rawEntry `json:"supplies"`
	Borrows   []rawEntry `json:"borrows"`
	Positions []rawEntry `json:"positions"`
}

// JSONMapper decodes the canonical integrator envelope: one of the tokens/
// supplies/borrows/positions lists, chosen by the provider's kind.
type JSONMapper struct{}

func NewJSONMapper() *JSONMapper {
	return &JSONMapper{}
}

func (m *JSONMapper) Map(provider domain.Provider, payload json.RawMessage, chain domain.Chain) ([]domain.PortfolioItem, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var decoded rawPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", provider, err)
	}

	var (
		entries []rawEntry
		kind    domain.ItemKind
	)
	switch provider.Kind() {
	case domain.KindLendingSupply:
		entries, kind = decoded.Supplies, domain.ItemSupply
	case domain.KindLendingBorrow:
		entries, kind = decoded.Borrows, domain.ItemBorrow
	case domain.KindDexPosition:
		entries, kind = decoded.Positions, domain.ItemPosition
	default:
		entries, kind = decoded.Tokens, domain.ItemToken
	}

	items := make([]domain.PortfolioItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, domain.PortfolioItem{
			Provider:     provider,
			Chain:        chain,
			Kind:         kind,
			Protocol:     provider.Protocol(),
			Symbol:       entry.Symbol,
			TokenAddress: entry.Address,
			Amount:       entry.Amount,
		})
	}
	return items, nil
}
