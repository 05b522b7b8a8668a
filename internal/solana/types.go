package solana

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// MaxSignaturesLimit is the largest page getSignaturesForAddress returns.
const MaxSignaturesLimit = 1000

// TokenBalance is one row of meta.preTokenBalances / meta.postTokenBalances.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	// Amount is the raw integer amount as returned by the node.
	Amount   string
	Decimals int
}

// LoadedAddresses are the accounts resolved from address lookup tables (v0 transactions).
type LoadedAddresses struct {
	Writable []string
	Readonly []string
}

// CompiledInstruction is a top-level instruction of a transaction message.
type CompiledInstruction struct {
	ProgramIDIndex int
	Accounts       []int
	Data           string // base58
}
