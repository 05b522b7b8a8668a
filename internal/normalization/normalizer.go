// Package normalization turns fetched launch-program transactions into
// canonical trade events by reading account balance deltas.
package normalization

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"curvewatch/internal/domain"
	"curvewatch/internal/solana"
)

// lamportsPerSOL as a decimal exponent.
const solDecimals = 9

// tokenLeg is the balance change of one non-vault token account for the mint.
type tokenLeg struct {
	index int
	owner string
	delta decimal.Decimal // raw units
}

// Normalize reconstructs the trade a transaction made against market's curve.
//
// It returns an error describing why no event was produced (malformed,
// failed, no movement, wash); the error is informational and never fatal.
// Normalize is pure: the same transaction always yields the same result.
func Normalize(tx *solana.Transaction, market domain.TokenMarket) (*domain.TradeEvent, error) {
	if tx == nil || tx.Meta == nil || tx.Message == nil {
		return nil, fmt.Errorf("%w: missing meta or message", ErrMalformedTransaction)
	}
	if tx.Failed() {
		return nil, ErrFailedTransaction
	}

	// 1. static keys + lookup-table writable + lookup-table readonly
	keys := tx.AllAccountKeys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no account keys", ErrMalformedTransaction)
	}
	meta := tx.Meta
	if len(meta.PreBalances) != len(keys) || len(meta.PostBalances) != len(keys) {
		return nil, fmt.Errorf("%w: %d keys but %d/%d lamport balances",
			ErrMalformedTransaction, len(keys), len(meta.PreBalances), len(meta.PostBalances))
	}

	// 2. token-account indices holding the mint before or after
	pre, err := rowsForMint(meta.PreTokenBalances, market.Mint, len(keys))
	if err != nil {
		return nil, err
	}
	post, err := rowsForMint(meta.PostTokenBalances, market.Mint, len(keys))
	if err != nil {
		return nil, err
	}
	if len(pre) == 0 && len(post) == 0 {
		return nil, ErrNoTokenMovement
	}
	decimals := tokenDecimals(pre, post, market.Decimals)

	indices := make([]int, 0, len(pre)+len(post))
	for idx := range pre {
		indices = append(indices, idx)
	}
	for idx := range post {
		if _, ok := pre[idx]; !ok {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)

	// 3-4. skip the curve's own token account, sum the rest
	var (
		legs        []tokenLeg
		bought      = decimal.Zero
		sold        = decimal.Zero
		vaultSupply = decimal.Zero
	)
	for _, idx := range indices {
		before, err := rawAmount(pre, idx)
		if err != nil {
			return nil, err
		}
		after, err := rawAmount(post, idx)
		if err != nil {
			return nil, err
		}

		owner := ownerOf(pre, post, idx)
		if isVault(keys[idx], owner, market) {
			vaultSupply = after
			continue
		}

		delta := after.Sub(before)
		switch delta.Sign() {
		case 1:
			bought = bought.Add(delta)
		case -1:
			sold = sold.Add(delta.Neg())
		default:
			continue
		}
		legs = append(legs, tokenLeg{index: idx, owner: owner, delta: delta})
	}

	ev := &domain.TradeEvent{
		Signature: tx.Signature,
		Mint:      market.Mint,
		Slot:      tx.Slot,
		Timestamp: tx.BlockTime,
	}

	// 8. no pre-balance row at all for the mint: the mint did not exist before this tx
	if len(pre) == 0 {
		amount := bought
		if amount.IsZero() {
			amount = vaultSupply
		}
		ev.Type = domain.TradeMint
		ev.TokenAmount = toUI(amount, decimals)
		ev.Trader = traderOf(legs, 1)
		if ev.Trader == "" {
			ev.Trader = firstNonEmpty(market.Creator, keys[0])
		}
		return ev, nil
	}

	if bought.IsZero() && sold.IsZero() {
		return nil, ErrNoTokenMovement
	}

	// 5. direction by comparison; equal legs cancel out
	if bought.Equal(sold) {
		return nil, fmt.Errorf("%w: %s in and out", ErrWashTrade, bought.String())
	}
	direction := 1
	amount := bought
	ev.Type = domain.TradeBuy
	if sold.GreaterThan(bought) {
		direction = -1
		amount = sold
		ev.Type = domain.TradeSell
	}
	ev.TokenAmount = toUI(amount, decimals)
	ev.IsVolumeBot = bought.IsPositive() && sold.IsPositive()
	ev.Trader = traderOf(legs, direction)

	// 6. SOL leg
	lamports := solLeg(keys, meta, market, legs, direction)

	// 7. no SOL moved: treated as a burn
	if lamports.IsZero() {
		ev.Type = domain.TradeBurn
		return ev, nil
	}

	sol := lamports.Shift(-solDecimals)
	ev.SolAmount = sol.InexactFloat64()
	ui := amount.Shift(-int32(decimals))
	ev.Price = sol.Div(ui).InexactFloat64()
	return ev, nil
}

func rowsForMint(rows []solana.TokenBalance, mint string, keyCount int) (map[int]solana.TokenBalance, error) {
	out := make(map[int]solana.TokenBalance)
	for _, r := range rows {
		if r.Mint != mint {
			continue
		}
		if r.AccountIndex < 0 || r.AccountIndex >= keyCount {
			return nil, fmt.Errorf("%w: token balance index %d out of %d keys", ErrMalformedTransaction, r.AccountIndex, keyCount)
		}
		out[r.AccountIndex] = r
	}
	return out, nil
}

func rawAmount(rows map[int]solana.TokenBalance, idx int) (decimal.Decimal, error) {
	r, ok := rows[idx]
	if !ok || r.Amount == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: token amount %q: %v", ErrMalformedTransaction, r.Amount, err)
	}
	return d, nil
}

func ownerOf(pre, post map[int]solana.TokenBalance, idx int) string {
	if r, ok := post[idx]; ok && r.Owner != "" {
		return r.Owner
	}
	return pre[idx].Owner
}

func isVault(account, owner string, market domain.TokenMarket) bool {
	if market.Vault != "" && account == market.Vault {
		return true
	}
	return market.BondingCurve != "" && owner == market.BondingCurve
}

func tokenDecimals(pre, post map[int]solana.TokenBalance, fallback int) int {
	for _, rows := range []map[int]solana.TokenBalance{post, pre} {
		for _, r := range rows {
			if r.Decimals > 0 {
				return r.Decimals
			}
		}
	}
	if fallback > 0 {
		return fallback
	}
	return domain.DefaultTokenDecimals
}

// traderOf attributes the event to the owner of the largest leg in direction.
func traderOf(legs []tokenLeg, direction int) string {
	var best tokenLeg
	found := false
	for _, l := range legs {
		if l.delta.Sign() != direction {
			continue
		}
		if !found || l.delta.Abs().GreaterThan(best.delta.Abs()) {
			best, found = l, true
		}
	}
	return best.owner
}

// solLeg returns the absolute lamports that moved against the curve: the
// curve account's own delta, then the vault's, then the largest
// non-fee-payer delta consistent with the trade direction.
func solLeg(keys []string, meta *solana.TransactionMeta, market domain.TokenMarket, legs []tokenLeg, direction int) decimal.Decimal {
	delta := func(i int) decimal.Decimal {
		return lamportsDec(meta.PostBalances[i]).Sub(lamportsDec(meta.PreBalances[i]))
	}

	for _, addr := range []string{market.BondingCurve, market.Vault} {
		if addr == "" {
			continue
		}
		for i, k := range keys {
			if k == addr {
				if d := delta(i); !d.IsZero() {
					return d.Abs()
				}
				break
			}
		}
	}

	tokenAccounts := make(map[int]bool, len(legs))
	for _, l := range legs {
		tokenAccounts[l.index] = true
	}

	// buys move SOL into the curve, sells move it out
	best := decimal.Zero
	for i := 1; i < len(keys); i++ {
		if tokenAccounts[i] {
			continue
		}
		d := delta(i)
		if d.Sign() != direction {
			continue
		}
		if d.Abs().GreaterThan(best) {
			best = d.Abs()
		}
	}
	return best
}

func lamportsDec(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func toUI(raw decimal.Decimal, decimals int) float64 {
	return raw.Shift(-int32(decimals)).InexactFloat64()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
