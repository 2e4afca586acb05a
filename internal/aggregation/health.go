package aggregation

import (
	"strings"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

// HealthFactorMax is the sentinel stamped when a protocol position carries
// no debt; a ratio against zero debt is "safe", never a division error.
const HealthFactorMax = 1e9

// stampHealthFactors recomputes the health-factor ratio for every lending
// item from the full wallet contents. A protocol is stamped only once both
// its supply side and its borrow side have been merged, which the
// providers-seen markers record even when a side returned zero items.
func stampHealthFactors(wallet *domain.Wallet, collateralFactor float64) {
	supplySeen := make(map[string]bool)
	borrowSeen := make(map[string]bool)
	for _, marker := range wallet.ProvidersSeen {
		slug := marker
		if index := strings.IndexByte(marker, ':'); index > 0 {
			slug = marker[:index]
		}
		provider := domain.Provider(slug)
		switch provider.Kind() {
		case domain.KindLendingSupply:
			supplySeen[provider.Protocol()] = true
		case domain.KindLendingBorrow:
			borrowSeen[provider.Protocol()] = true
		}
	}

	collateral := make(map[string]float64)
	debt := make(map[string]float64)
	for _, item := range wallet.Items {
		value := item.Amount
		if item.PriceUSD != nil {
			value *= *item.PriceUSD
		}
		switch item.Kind {
		case domain.ItemSupply:
			collateral[item.Protocol] += value
		case domain.ItemBorrow:
			debt[item.Protocol] += value
		}
	}

	for i := range wallet.Items {
		item := &wallet.Items[i]
		if item.Kind != domain.ItemSupply && item.Kind != domain.ItemBorrow {
			continue
		}
		if !supplySeen[item.Protocol] || !borrowSeen[item.Protocol] {
			continue
		}
		ratio := HealthFactorMax
		if owed := debt[item.Protocol]; owed > 0 {
			ratio = collateral[item.Protocol] * collateralFactor / owed
		}
		item.HealthFactor = &ratio
	}
}
