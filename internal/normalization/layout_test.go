package normalization

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
)

func encodeIx(kind InstructionKind, payload ...byte) string {
	for _, l := range instructionLayouts {
		if l.Kind == kind {
			return base58.Encode(append(l.Discriminator[:], payload...))
		}
	}
	panic("unknown kind " + string(kind))
}

func TestAnchorDiscriminator_KnownValues(t *testing.T) {
	want := map[string][8]byte{
		"global:create": {24, 30, 200, 40, 5, 28, 7, 119},
		"global:buy":    {102, 6, 61, 18, 1, 218, 235, 234},
		"global:sell":   {51, 230, 133, 164, 1, 127, 131, 173},
	}
	for preimage, d := range want {
		if got := anchorDiscriminator(preimage); got != d {
			t.Errorf("%s: got %v, want %v", preimage, got, d)
		}
	}
}

func TestMatchInstruction(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		accounts int
		want     InstructionKind
		wantErr  bool
	}{
		{name: "buy", data: encodeIx(InstructionBuy, 1, 2, 3), accounts: 12, want: InstructionBuy},
		{name: "sell with extra accounts", data: encodeIx(InstructionSell), accounts: 16, want: InstructionSell},
		{name: "create", data: encodeIx(InstructionCreate), accounts: 14, want: InstructionCreate},
		{name: "create too few accounts", data: encodeIx(InstructionCreate), accounts: 8, wantErr: true},
		{name: "unknown discriminator", data: base58.Encode([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}), accounts: 20, wantErr: true},
		{name: "short data", data: base58.Encode([]byte{1, 2}), accounts: 20, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := MatchInstruction(tt.data, tt.accounts)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownLayout) {
					t.Fatalf("expected ErrUnknownLayout, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("MatchInstruction: %v", err)
			}
			if l.Kind != tt.want {
				t.Errorf("expected %s, got %s", tt.want, l.Kind)
			}
		})
	}
}

func curveAccount(size int, complete bool) []byte {
	d := anchorDiscriminator("account:BondingCurve")
	data := make([]byte, size)
	copy(data, d[:])
	binary.LittleEndian.PutUint64(data[8:], 1_073_000_000_000_000)
	binary.LittleEndian.PutUint64(data[16:], 30_000_000_000)
	binary.LittleEndian.PutUint64(data[24:], 793_100_000_000_000)
	binary.LittleEndian.PutUint64(data[32:], 0)
	binary.LittleEndian.PutUint64(data[40:], 1_000_000_000_000_000)
	if complete {
		data[48] = 1
	}
	return data
}

func TestDecodeCurveState(t *testing.T) {
	v1, err := DecodeCurveState(curveAccount(49, false))
	if err != nil {
		t.Fatalf("v1: %v", err)
	}
	if v1.Layout != "bonding_curve_v1" || v1.VirtualSolReserves != 30_000_000_000 || v1.Complete {
		t.Errorf("unexpected v1 state %+v", v1)
	}
	if v1.Creator != "" {
		t.Error("v1 has no creator")
	}

	data := curveAccount(81, true)
	for i := 49; i < 81; i++ {
		data[i] = byte(i)
	}
	v2, err := DecodeCurveState(data)
	if err != nil {
		t.Fatalf("v2: %v", err)
	}
	if v2.Layout != "bonding_curve_v2" || !v2.Complete || v2.Creator != base58.Encode(data[49:81]) {
		t.Errorf("unexpected v2 state %+v", v2)
	}

	bad := curveAccount(81, false)
	bad[0] ^= 0xff
	if _, err := DecodeCurveState(bad); !errors.Is(err, ErrUnknownLayout) {
		t.Errorf("expected ErrUnknownLayout for wrong discriminator, got %v", err)
	}
	if _, err := DecodeCurveState(curveAccount(40, false)); !errors.Is(err, ErrUnknownLayout) {
		t.Errorf("expected ErrUnknownLayout for truncated data, got %v", err)
	}
}
