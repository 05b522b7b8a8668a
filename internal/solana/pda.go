package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program ids.
const (
	PumpFunProgramID          = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	TokenProgramID            = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID        = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PZnqdo2pPq3pJ4d"
	AssociatedTokenProgramID  = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	SystemProgramID           = "11111111111111111111111111111111"
	bondingCurveSeed          = "bonding-curve"
	programDerivedAddressMark = "ProgramDerivedAddress"
)

// ErrNoViableBump is returned when every bump seed yields an on-curve point.
var ErrNoViableBump = errors.New("no viable bump seed")

// FindProgramAddress derives a Program Derived Address and its bump seed.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := decodePubkey(programID)
	if err != nil {
		return "", 0, fmt.Errorf("program id: %w", err)
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program)
		h.Write([]byte(programDerivedAddressMark))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return base58.Encode(sum), uint8(bump), nil
		}
	}
	return "", 0, ErrNoViableBump
}

// DeriveBondingCurve returns the bonding-curve account of a launch-program mint.
func DeriveBondingCurve(mint, programID string) (string, error) {
	mintKey, err := decodePubkey(mint)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	addr, _, err := FindProgramAddress([][]byte{[]byte(bondingCurveSeed), mintKey}, programID)
	return addr, err
}

// DeriveAssociatedTokenAccount returns the associated token account of owner for mint.
func DeriveAssociatedTokenAccount(owner, mint, tokenProgramID string) (string, error) {
	ownerKey, err := decodePubkey(owner)
	if err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}
	mintKey, err := decodePubkey(mint)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	tokenProgram, err := decodePubkey(tokenProgramID)
	if err != nil {
		return "", fmt.Errorf("token program: %w", err)
	}
	addr, _, err := FindProgramAddress([][]byte{ownerKey, tokenProgram, mintKey}, AssociatedTokenProgramID)
	return addr, err
}

// IsValidPubkey reports whether s decodes to a 32-byte key.
func IsValidPubkey(s string) bool {
	_, err := decodePubkey(s)
	return err == nil
}

func decodePubkey(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", s, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("decode %q: expected 32 bytes, got %d", s, len(b))
	}
	return b, nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
