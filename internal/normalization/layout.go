package normalization

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"curvewatch/internal/domain"
)

// ErrUnknownLayout is returned for instruction data or account data that
// matches no entry of the layout table.
var ErrUnknownLayout = errors.New("unknown layout")

// InstructionKind names a launch-program instruction.
type InstructionKind string

// Known instruction kinds.
const (
	InstructionCreate   InstructionKind = "create"
	InstructionCreateV2 InstructionKind = "create_v2"
	InstructionBuy      InstructionKind = "buy"
	InstructionSell     InstructionKind = "sell"
)

// InstructionLayout is one known instruction variant: its discriminator,
// the minimum account count it was seen with and the positions of the
// accounts we read.
type InstructionLayout struct {
	Kind          InstructionKind
	Version       int
	Discriminator [8]byte
	MinAccounts   int

	MintIndex         int
	BondingCurveIndex int
	VaultIndex        int
	UserIndex         int
}

// CurveLayout is one known bonding-curve account variant.
type CurveLayout struct {
	Name          string
	Version       int
	Discriminator [8]byte
	MinSize       int
	HasCreator    bool
}

// LayoutTableVersion changes whenever an entry is added or altered.
const LayoutTableVersion = 3

var (
	instructionLayouts = []InstructionLayout{
		{Kind: InstructionCreate, Version: 1, Discriminator: anchorDiscriminator("global:create"), MinAccounts: 14,
			MintIndex: 0, BondingCurveIndex: 2, VaultIndex: 3, UserIndex: 7},
		{Kind: InstructionCreateV2, Version: 2, Discriminator: anchorDiscriminator("global:create_v2"), MinAccounts: 16,
			MintIndex: 0, BondingCurveIndex: 2, VaultIndex: 3, UserIndex: 5},
		{Kind: InstructionBuy, Version: 1, Discriminator: anchorDiscriminator("global:buy"), MinAccounts: 12,
			MintIndex: 2, BondingCurveIndex: 3, VaultIndex: 4, UserIndex: 6},
		{Kind: InstructionSell, Version: 1, Discriminator: anchorDiscriminator("global:sell"), MinAccounts: 12,
			MintIndex: 2, BondingCurveIndex: 3, VaultIndex: 4, UserIndex: 6},
	}

	// ordered most specific first
	curveLayouts = []CurveLayout{
		{Name: "bonding_curve_v2", Version: 2, Discriminator: anchorDiscriminator("account:BondingCurve"), MinSize: 81, HasCreator: true},
		{Name: "bonding_curve_v1", Version: 1, Discriminator: anchorDiscriminator("account:BondingCurve"), MinSize: 49},
	}
)

// anchorDiscriminator is the first 8 bytes of sha256(preimage).
func anchorDiscriminator(preimage string) [8]byte {
	sum := sha256.Sum256([]byte(preimage))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// InstructionLayouts returns a copy of the instruction table.
func InstructionLayouts() []InstructionLayout {
	return append([]InstructionLayout(nil), instructionLayouts...)
}

// MatchInstruction finds the layout of a base58 instruction payload.
func MatchInstruction(data string, accountCount int) (InstructionLayout, error) {
	raw, err := base58.Decode(data)
	if err != nil || len(raw) < 8 {
		return InstructionLayout{}, fmt.Errorf("%w: instruction data too short", ErrUnknownLayout)
	}
	for _, l := range instructionLayouts {
		if !bytes.Equal(raw[:8], l.Discriminator[:]) {
			continue
		}
		if accountCount < l.MinAccounts {
			return InstructionLayout{}, fmt.Errorf("%w: %s with %d accounts (need %d)", ErrUnknownLayout, l.Kind, accountCount, l.MinAccounts)
		}
		return l, nil
	}
	return InstructionLayout{}, fmt.Errorf("%w: discriminator %x", ErrUnknownLayout, raw[:8])
}

// DecodeCurveState decodes raw bonding-curve account data.
func DecodeCurveState(data []byte) (*domain.CurveState, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: account data %d bytes", ErrUnknownLayout, len(data))
	}
	for _, l := range curveLayouts {
		if !bytes.Equal(data[:8], l.Discriminator[:]) || len(data) < l.MinSize {
			continue
		}
		le := binary.LittleEndian
		st := &domain.CurveState{
			Layout:               l.Name,
			VirtualTokenReserves: le.Uint64(data[8:16]),
			VirtualSolReserves:   le.Uint64(data[16:24]),
			RealTokenReserves:    le.Uint64(data[24:32]),
			RealSolReserves:      le.Uint64(data[32:40]),
			TokenTotalSupply:     le.Uint64(data[40:48]),
			Complete:             data[48] != 0,
		}
		if l.HasCreator {
			st.Creator = base58.Encode(data[49:81])
		}
		return st, nil
	}
	return nil, fmt.Errorf("%w: bonding curve account (%d bytes, discriminator %x)", ErrUnknownLayout, len(data), data[:8])
}
