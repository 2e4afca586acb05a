package domain

type ItemKind string

const (
	ItemToken    ItemKind = "token"
	ItemSupply   ItemKind = "supply"
	ItemBorrow   ItemKind = "borrow"
	ItemPosition ItemKind = "position"
)

// PortfolioItem is the canonical shape every provider payload is mapped
// into before merging. Price and LogoURI stay nil until hydration fills
// them; HealthFactor stays nil unless both lending sides of the item's
// protocol have been merged for the owning account.
type PortfolioItem struct {
	Provider     Provider `json:"provider"`
	Chain        Chain    `json:"chain"`
	Account      string   `json:"account"`
	Kind         ItemKind `json:"kind"`
	Protocol     string   `json:"protocol,omitempty"`
	Symbol       string   `json:"symbol"`
	TokenAddress string   `json:"token_address,omitempty"`
	Amount       float64  `json:"amount"`
	PriceUSD     *float64 `json:"price_usd,omitempty"`
	LogoURI      string   `json:"logo_uri,omitempty"`
	HealthFactor *float64 `json:"health_factor,omitempty"`
}

// Wallet is the consolidated output of a job, or of one account within a
// multi-account job before the final merge.
type Wallet struct {
	Items         []PortfolioItem `json:"items"`
	ProvidersSeen []string        `json:"providers_seen"`
}

func (w *Wallet) Seen(marker string) bool {
	for _, seen := range w.ProvidersSeen {
		if seen == marker {
			return true
		}
	}
	return false
}

func (w *Wallet) MarkSeen(marker string) {
	if !w.Seen(marker) {
		w.ProvidersSeen = append(w.ProvidersSeen, marker)
	}
}
