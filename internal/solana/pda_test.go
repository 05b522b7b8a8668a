package solana

import (
	"testing"

	"github.com/mr-tron/base58"
)

func TestFindProgramAddress_Deterministic(t *testing.T) {
	mint := "So11111111111111111111111111111111111111112"

	a, err := DeriveBondingCurve(mint, PumpFunProgramID)
	if err != nil {
		t.Fatalf("DeriveBondingCurve: %v", err)
	}
	b, err := DeriveBondingCurve(mint, PumpFunProgramID)
	if err != nil {
		t.Fatalf("DeriveBondingCurve: %v", err)
	}
	if a != b {
		t.Errorf("derivation not deterministic: %s vs %s", a, b)
	}

	raw, err := base58.Decode(a)
	if err != nil || len(raw) != 32 {
		t.Fatalf("derived address is not a 32-byte key: %v", err)
	}
	if isOnCurve(raw) {
		t.Error("derived address must be off the ed25519 curve")
	}
}

func TestDeriveAssociatedTokenAccount_DiffersByOwner(t *testing.T) {
	mint := "So11111111111111111111111111111111111111112"

	a, err := DeriveAssociatedTokenAccount(SystemProgramID, mint, TokenProgramID)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := DeriveAssociatedTokenAccount(TokenProgramID, mint, TokenProgramID)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if a == b {
		t.Error("different owners must yield different token accounts")
	}
}

func TestDecodePubkey_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "0OIl"} {
		if IsValidPubkey(in) {
			t.Errorf("expected %q to be invalid", in)
		}
	}
	if !IsValidPubkey(PumpFunProgramID) {
		t.Error("program id should be a valid key")
	}
}
