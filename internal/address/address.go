// Package address classifies account addresses by chain family. Expansion
// uses it as a hard validity filter: work is never queued for a combination
// whose address format cannot exist on the target chain.
package address

import (
	"strings"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// IsEVM reports whether the address is a 0x-prefixed 20-byte hex address.
func IsEVM(account string) bool {
	if len(account) != 42 || !strings.HasPrefix(account, "0x") {
		return false
	}
	for _, r := range account[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// IsSolana reports whether the address looks like a base58-encoded Solana
// public key.
func IsSolana(account string) bool {
	if len(account) < 32 || len(account) > 44 {
		return false
	}
	for _, r := range account {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}

// Compatible reports whether the account's format matches the chain family.
func Compatible(account string, family domain.ChainFamily) bool {
	switch family {
	case domain.FamilySolana:
		return IsSolana(account)
	case domain.FamilyEVM:
		return IsEVM(account)
	default:
		return false
	}
}
