package discovery

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"curvewatch/internal/domain"
	"curvewatch/internal/normalization"
	"curvewatch/internal/solana"
)

// ErrAccountNotFound is returned when the curve account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// FetchCurveState reads and decodes a bonding-curve account.
func FetchCurveState(ctx context.Context, rpc solana.RPCClient, curve string) (*domain.CurveState, error) {
	info, err := rpc.GetAccountInfo(ctx, curve)
	if err != nil {
		return nil, fmt.Errorf("get curve account %s: %w", curve, err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, curve)
	}
	data, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("decode curve account %s: %w", curve, err)
	}
	return normalization.DecodeCurveState(data)
}
