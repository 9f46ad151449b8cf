package record

import (
	"fmt"
	"strings"
)

// ChainEntry is a persisted chain element as stores return it
type ChainEntry struct {
	Seq          int64
	RecordID     string
	Kind         Kind
	Canonical    string
	Hash         string
	PreviousHash string
}

// ChainError reports the first broken link of a chain
type ChainError struct {
	Index    int
	RecordID string
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain broken at index %d (record %s): %s", e.Index, e.RecordID, e.Reason)
}

// VerifyChain recomputes every hash and checks that each entry links to the
// one before it. It returns the last hash of a valid chain.
func VerifyChain(entries []ChainEntry) (string, error) {
	prev := ""
	for i, e := range entries {
		if e.PreviousHash != prev {
			return "", &ChainError{Index: i, RecordID: e.RecordID, Reason: "previous hash mismatch"}
		}
		if !strings.Contains(e.Canonical, "&Huella="+prev+"&") {
			return "", &ChainError{Index: i, RecordID: e.RecordID, Reason: "previous hash not bound in canonical form"}
		}
		if HashOf(e.Canonical) != e.Hash {
			return "", &ChainError{Index: i, RecordID: e.RecordID, Reason: "hash mismatch"}
		}
		prev = e.Hash
	}
	return prev, nil
}

// Entry converts a built record into its persisted chain form
func (r *Record) Entry() ChainEntry {
	return ChainEntry{
		RecordID:     r.ID,
		Kind:         r.Kind,
		Canonical:    r.Canonical,
		Hash:         r.Hash,
		PreviousHash: r.Previous.Hash,
	}
}
