// Package idhash computes deterministic identifiers.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeLifetimeID computes a deterministic position lifetime id using SHA256.
// Formula: SHA256(wallet|mint|lifetime|entry_signature)
// Returns hex-encoded hash (64 characters).
func ComputeLifetimeID(
	wallet string,
	mint string,
	lifetime int,
	entrySignature string,
) string {
	data := fmt.Sprintf("%s|%s|%d|%s",
		wallet,
		mint,
		lifetime,
		entrySignature,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeAnomalyID computes a deterministic id for a discarded event.
// Formula: SHA256(signature|wallet|kind)
func ComputeAnomalyID(signature, wallet, kind string) string {
	hash := sha256.Sum256([]byte(signature + "|" + wallet + "|" + kind))
	return hex.EncodeToString(hash[:])
}
