package address

import (
	"testing"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

const (
	evmAccount    = "0x1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b"
	solanaAccount = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

func TestIsEVM(t *testing.T) {
	if !IsEVM(evmAccount) {
		t.Fatalf("expected %q to be a valid EVM address", evmAccount)
	}
	if IsEVM(solanaAccount) {
		t.Fatalf("expected base58 address to be rejected as EVM")
	}
	if IsEVM("0x1234") {
		t.Fatalf("expected short hex string to be rejected")
	}
	if IsEVM("0x1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0g") {
		t.Fatalf("expected non-hex characters to be rejected")
	}
}

func TestIsSolana(t *testing.T) {
	if !IsSolana(solanaAccount) {
		t.Fatalf("expected %q to be a valid Solana address", solanaAccount)
	}
	if IsSolana(evmAccount) {
		t.Fatalf("expected 0x address to be rejected as Solana (contains 0)")
	}
	if IsSolana("short") {
		t.Fatalf("expected short string to be rejected")
	}
	// 'l' and 'O' are outside the base58 alphabet.
	if IsSolana("l0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OI") {
		t.Fatalf("expected non-base58 characters to be rejected")
	}
}

func TestCompatible(t *testing.T) {
	if !Compatible(evmAccount, domain.FamilyEVM) {
		t.Fatalf("EVM account should be compatible with EVM family")
	}
	if Compatible(evmAccount, domain.FamilySolana) {
		t.Fatalf("EVM account must not be compatible with Solana family")
	}
	if !Compatible(solanaAccount, domain.FamilySolana) {
		t.Fatalf("Solana account should be compatible with Solana family")
	}
	if Compatible(solanaAccount, domain.FamilyEVM) {
		t.Fatalf("Solana account must not be compatible with EVM family")
	}
}
