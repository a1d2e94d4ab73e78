package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"proctord/internal/audit"
)

const examID = "exam-042"

func testFlags(n int) []audit.Flag {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	types := []audit.Type{audit.TypeNoFace, audit.TypeTabSwitch, audit.TypeLookingAway}

	flags := make([]audit.Flag, n)
	for i := range flags {
		flags[i] = audit.Flag{
			Type:      types[i%len(types)],
			Message:   "event",
			Timestamp: base.Add(time.Duration(i) * 7 * time.Second),
		}
	}
	return flags
}

func TestGenesis(t *testing.T) {
	if got := Genesis(examID); got != "genesis-exam-042" {
		t.Errorf("unexpected genesis value: %s", got)
	}
}

func TestSeal_LinksEveryFlag(t *testing.T) {
	sealed, err := Seal(examID, testFlags(5))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if sealed[0].PreviousHash != Genesis(examID) {
		t.Errorf("first flag must link to genesis, got %s", sealed[0].PreviousHash)
	}
	for i, f := range sealed {
		if f.Hash == "" {
			t.Fatalf("flag %d has no hash", i)
		}
		if i > 0 && f.PreviousHash != sealed[i-1].Hash {
			t.Errorf("flag %d previousHash does not match flag %d hash", i, i-1)
		}
	}
}

func TestSeal_HashFormula(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 15, 250*int(time.Millisecond), time.UTC)
	flags := []audit.Flag{{Type: audit.TypeNoFace, Message: "No face visible in frame", Timestamp: ts}}

	sealed, err := Seal(examID, flags)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	h := sha256.New()
	h.Write([]byte("NO_FACE"))
	h.Write([]byte("No face visible in frame"))
	h.Write([]byte("2026-03-14T09:30:15.250Z"))
	h.Write([]byte("genesis-exam-042"))
	want := hex.EncodeToString(h.Sum(nil))

	if sealed[0].Hash != want {
		t.Errorf("hash mismatch:\n got %s\nwant %s", sealed[0].Hash, want)
	}
}

func TestSeal_DoesNotMutateInput(t *testing.T) {
	flags := testFlags(3)
	if _, err := Seal(examID, flags); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	for i, f := range flags {
		if f.Hash != "" || f.PreviousHash != "" {
			t.Errorf("input flag %d was mutated", i)
		}
	}
}

func TestSeal_EmptySequence(t *testing.T) {
	sealed, err := Seal(examID, nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(sealed) != 0 {
		t.Errorf("expected empty sealed sequence, got %d flags", len(sealed))
	}
	if err := Verify(examID, sealed); err != nil {
		t.Errorf("empty chain should verify: %v", err)
	}
}

func TestSeal_MissingTimestamp(t *testing.T) {
	flags := testFlags(2)
	flags[1].Timestamp = time.Time{}

	if _, err := Seal(examID, flags); !errors.Is(err, ErrMissingTimestamp) {
		t.Errorf("expected ErrMissingTimestamp, got %v", err)
	}
}

func TestVerify_IntactChain(t *testing.T) {
	sealed, err := Seal(examID, testFlags(10))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if err := Verify(examID, sealed); err != nil {
		t.Errorf("intact chain failed verification: %v", err)
	}
}

func TestVerify_DetectsMutation(t *testing.T) {
	mutate := []struct {
		name  string
		apply func([]audit.Flag)
	}{
		{"message", func(f []audit.Flag) { f[2].Message = "edited" }},
		{"type", func(f []audit.Flag) { f[2].Type = audit.TypeSecurityViolation }},
		{"timestamp", func(f []audit.Flag) { f[2].Timestamp = f[2].Timestamp.Add(time.Second) }},
		{"hash", func(f []audit.Flag) { f[2].Hash = f[3].Hash }},
		{"previousHash", func(f []audit.Flag) { f[2].PreviousHash = Genesis(examID) }},
	}

	for _, tt := range mutate {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Seal(examID, testFlags(5))
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}
			tt.apply(sealed)

			var broken *BrokenLinkError
			err = Verify(examID, sealed)
			if !errors.As(err, &broken) {
				t.Fatalf("expected BrokenLinkError, got %v", err)
			}
			if broken.Index != 2 {
				t.Errorf("expected break at index 2, got %d", broken.Index)
			}
		})
	}
}

func TestVerify_DetectsDeletion(t *testing.T) {
	sealed, err := Seal(examID, testFlags(5))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	truncated := append([]audit.Flag{}, sealed[:2]...)
	truncated = append(truncated, sealed[3:]...)

	if err := Verify(examID, truncated); err == nil {
		t.Error("deleting a middle flag should break the chain")
	}
}

func TestVerify_DetectsReorder(t *testing.T) {
	sealed, err := Seal(examID, testFlags(5))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	sealed[1], sealed[2] = sealed[2], sealed[1]

	if err := Verify(examID, sealed); err == nil {
		t.Error("reordering flags should break the chain")
	}
}

func TestVerify_WrongExam(t *testing.T) {
	sealed, err := Seal(examID, testFlags(3))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if err := Verify("exam-999", sealed); err == nil {
		t.Error("chain sealed for one exam should not verify for another")
	}
}

func TestVerify_Unsealed(t *testing.T) {
	if err := Verify(examID, testFlags(3)); !errors.Is(err, ErrNotSealed) {
		t.Errorf("expected ErrNotSealed, got %v", err)
	}
}
