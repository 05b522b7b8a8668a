// Package discovery detects new launch-program tokens and resolves the
// accounts needed to track them.
package discovery

import (
	"errors"
	"fmt"
	"strings"

	"curvewatch/internal/domain"
	"curvewatch/internal/normalization"
	"curvewatch/internal/solana"
)

// ErrNoCreateInstruction is returned when a transaction creates no token.
var ErrNoCreateInstruction = errors.New("no create instruction")

// createLogPrefix is logged by the program for both create variants.
const createLogPrefix = "Program log: Instruction: Create"

// IsCreateLog reports whether logs contain a create instruction log line.
func IsCreateLog(logs []string) bool {
	for _, l := range logs {
		if strings.HasPrefix(l, createLogPrefix) {
			return true
		}
	}
	return false
}

// ParseCreate finds the first top-level create instruction of programID in
// tx and returns the market it opened.
func ParseCreate(tx *solana.Transaction, programID string) (*domain.TokenMarket, error) {
	if tx == nil || tx.Message == nil {
		return nil, fmt.Errorf("%w: missing message", normalization.ErrMalformedTransaction)
	}
	if tx.Failed() {
		return nil, normalization.ErrFailedTransaction
	}
	keys := tx.AllAccountKeys()

	for _, ix := range tx.Message.Instructions {
		if ix.ProgramIDIndex < 0 || ix.ProgramIDIndex >= len(keys) || keys[ix.ProgramIDIndex] != programID {
			continue
		}
		layout, err := normalization.MatchInstruction(ix.Data, len(ix.Accounts))
		if err != nil {
			continue
		}
		if layout.Kind != normalization.InstructionCreate && layout.Kind != normalization.InstructionCreateV2 {
			continue
		}

		account := func(pos int) (string, error) {
			idx := ix.Accounts[pos]
			if idx < 0 || idx >= len(keys) {
				return "", fmt.Errorf("%w: account index %d out of range", normalization.ErrMalformedTransaction, idx)
			}
			return keys[idx], nil
		}
		m := &domain.TokenMarket{
			Decimals:        domain.DefaultTokenDecimals,
			FirstSeenSlot:   tx.Slot,
			CreateSignature: tx.Signature,
			CreatedAt:       tx.BlockTime,
		}
		for _, f := range []struct {
			dst *string
			pos int
		}{
			{&m.Mint, layout.MintIndex},
			{&m.BondingCurve, layout.BondingCurveIndex},
			{&m.Vault, layout.VaultIndex},
			{&m.Creator, layout.UserIndex},
		} {
			if *f.dst, err = account(f.pos); err != nil {
				return nil, err
			}
		}
		if tx.Meta != nil {
			for _, b := range tx.Meta.PostTokenBalances {
				if b.Mint == m.Mint {
					m.Decimals = b.Decimals
					break
				}
			}
		}
		return m, nil
	}
	return nil, ErrNoCreateInstruction
}

// DeriveMarket resolves the curve and vault of a mint from program-derived
// addresses, for tokens tracked by mint alone. The first-seen fields stay
// zero until the history is backfilled.
func DeriveMarket(mint, programID, tokenProgramID string) (*domain.TokenMarket, error) {
	if !solana.IsValidPubkey(mint) {
		return nil, fmt.Errorf("invalid mint %q", mint)
	}
	curve, err := solana.DeriveBondingCurve(mint, programID)
	if err != nil {
		return nil, fmt.Errorf("derive bonding curve: %w", err)
	}
	vault, err := solana.DeriveAssociatedTokenAccount(curve, mint, tokenProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive curve vault: %w", err)
	}
	return &domain.TokenMarket{
		Mint:         mint,
		BondingCurve: curve,
		Vault:        vault,
		Decimals:     domain.DefaultTokenDecimals,
	}, nil
}
