// Package chain seals a session's flag sequence into a tamper-evident
// hash chain.
//
// Chaining happens once, at submission time. Each flag's hash commits to
// its type, message, timestamp, and the previous hash, so reordering,
// deleting, or mutating any earlier flag invalidates every subsequent
// hash. Verification is recomputation from the genesis value.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"proctord/internal/audit"
)

// timeLayout renders timestamps as ISO 8601 UTC with millisecond
// precision. The layout is part of the chain format: changing it
// invalidates previously sealed chains.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Chain errors.
var (
	// ErrMissingTimestamp indicates a flag without a timestamp reached
	// sealing. Hash input must be fully determined; this is an engine
	// defect, not a runtime condition to recover from.
	ErrMissingTimestamp = errors.New("chain: flag has no timestamp")

	// ErrNotSealed is returned when verifying a sequence whose hashes
	// were never computed.
	ErrNotSealed = errors.New("chain: flag sequence is not sealed")
)

// BrokenLinkError reports the first flag at which verification failed.
type BrokenLinkError struct {
	Index int
	Field string // "hash" or "previousHash"
}

func (e *BrokenLinkError) Error() string {
	return fmt.Sprintf("chain: flag %d: %s mismatch", e.Index, e.Field)
}

// Genesis returns the chain's initial value h0, bound to the exam.
func Genesis(examID string) string {
	return "genesis-" + examID
}

// Seal computes the hash chain over the flag sequence in order and
// returns a new slice with Hash and PreviousHash populated. The input
// is not modified.
func Seal(examID string, flags []audit.Flag) ([]audit.Flag, error) {
	sealed := make([]audit.Flag, len(flags))
	prev := Genesis(examID)

	for i, f := range flags {
		if f.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w (index %d)", ErrMissingTimestamp, i)
		}

		f.PreviousHash = prev
		f.Hash = link(f, prev)
		sealed[i] = f
		prev = f.Hash
	}

	return sealed, nil
}

// Verify recomputes the chain from the genesis value and compares it
// against the stored hashes. It returns nil for an intact chain and a
// *BrokenLinkError identifying the first bad flag otherwise.
func Verify(examID string, flags []audit.Flag) error {
	prev := Genesis(examID)

	for i, f := range flags {
		if f.Hash == "" {
			return ErrNotSealed
		}
		if f.Timestamp.IsZero() {
			return fmt.Errorf("%w (index %d)", ErrMissingTimestamp, i)
		}
		if f.PreviousHash != prev {
			return &BrokenLinkError{Index: i, Field: "previousHash"}
		}
		if link(f, prev) != f.Hash {
			return &BrokenLinkError{Index: i, Field: "hash"}
		}
		prev = f.Hash
	}

	return nil
}

// link hashes the flag's type, message, millisecond UTC timestamp, and
// the previous link's hash.
func link(f audit.Flag, prev string) string {
	h := sha256.New()
	h.Write([]byte(f.Type))
	h.Write([]byte(f.Message))
	h.Write([]byte(f.Timestamp.UTC().Format(timeLayout)))
	h.Write([]byte(prev))
	return hex.EncodeToString(h.Sum(nil))
}
