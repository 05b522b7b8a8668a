package normalization

import "errors"

// Reasons a transaction yields no trade event. None of them is fatal; the
// caller logs, counts and moves on.
var (
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrFailedTransaction    = errors.New("transaction failed on chain")
	ErrNoTokenMovement      = errors.New("no token movement for mint")
	ErrWashTrade            = errors.New("wash trade")
)

// Reason returns a short metric label for a normalization error.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedTransaction):
		return "malformed"
	case errors.Is(err, ErrFailedTransaction):
		return "failed"
	case errors.Is(err, ErrNoTokenMovement):
		return "no_movement"
	case errors.Is(err, ErrWashTrade):
		return "wash"
	case errors.Is(err, ErrUnknownLayout):
		return "unknown_layout"
	default:
		return "other"
	}
}
