package aggregation

import (
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/triggers"
)

// applyPostFilters drops entries that would double-count or pollute the
// consolidated wallet: zero balances, and plain token listings of receipt
// tokens whose value the owning protocol's position item already carries.
func applyPostFilters(items []domain.PortfolioItem) []domain.PortfolioItem {
	filtered := items[:0]
	for _, item := range items {
		if item.Amount == 0 {
			continue
		}
		if item.Kind == domain.ItemToken && triggers.KnownReceiptToken(item.TokenAddress) {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered
}
