package domain

import "strings"

type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainArbitrum Chain = "arbitrum"
	ChainBase     Chain = "base"
	ChainPolygon  Chain = "polygon"
	ChainSolana   Chain = "solana"
)

// ChainBaseline is the chain assumed when a result carries no parseable chain.
const ChainBaseline = ChainEthereum

type ChainFamily string

const (
	FamilyEVM    ChainFamily = "evm"
	FamilySolana ChainFamily = "solana"
)

func (c Chain) Family() ChainFamily {
	if c == ChainSolana {
		return FamilySolana
	}
	return FamilyEVM
}

func (c Chain) Valid() bool {
	switch c {
	case ChainEthereum, ChainArbitrum, ChainBase, ChainPolygon, ChainSolana:
		return true
	}
	return false
}

// ParseChain normalizes a chain name. The boolean is false when the input
// does not name a known chain.
func ParseChain(raw string) (Chain, bool) {
	chain := Chain(strings.ToLower(strings.TrimSpace(raw)))
	if chain.Valid() {
		return chain, true
	}
	return ChainBaseline, false
}
