package domain

import "strings"

// Provider identifies one integration source for one category of on-chain
// data. The slug doubles as the wire value and as the key segment used by
// pending-set entries and result markers.
type Provider string

const (
	ProviderAaveSupply   Provider = "aave_supply"
	ProviderAaveBorrow   Provider = "aave_borrow"
	ProviderUniswapV3    Provider = "uniswap_v3"
	ProviderPendle       Provider = "pendle"
	ProviderRaydium      Provider = "raydium"
	ProviderKamino       Provider = "kamino"
	ProviderSolanaTokens Provider = "solana_tokens"
)

// ProviderKind groups providers by the shape of data they return.
type ProviderKind string

const (
	KindTokens        ProviderKind = "tokens"
	KindLendingSupply ProviderKind = "lending_supply"
	KindLendingBorrow ProviderKind = "lending_borrow"
	KindDexPosition   ProviderKind = "dex_position"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderAaveSupply, ProviderAaveBorrow, ProviderUniswapV3,
		ProviderPendle, ProviderRaydium, ProviderKamino, ProviderSolanaTokens:
		return true
	}
	return false
}

func (p Provider) Kind() ProviderKind {
	switch p {
	case ProviderAaveSupply, ProviderKamino:
		return KindLendingSupply
	case ProviderAaveBorrow:
		return KindLendingBorrow
	case ProviderUniswapV3, ProviderPendle, ProviderRaydium:
		return KindDexPosition
	default:
		return KindTokens
	}
}

// Protocol is the protocol name shared by related providers, e.g. the
// supply and borrow sides of the same lending market.
func (p Provider) Protocol() string {
	slug := string(p)
	if index := strings.IndexByte(slug, '_'); index > 0 {
		switch p {
		case ProviderAaveSupply, ProviderAaveBorrow:
			return slug[:index]
		}
	}
	switch p {
	case ProviderUniswapV3:
		return "uniswap"
	case ProviderSolanaTokens:
		return "solana"
	}
	return slug
}

func ParseProvider(raw string) (Provider, bool) {
	provider := Provider(strings.ToLower(strings.TrimSpace(raw)))
	return provider, provider.Valid()
}
