package state

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AccountID is an opaque 32-byte account identifier. It is not tied to any
// one chain's address format.
type AccountID [32]byte

func (a AccountID) IsZero() bool {
	return a == AccountID{}
}

func (a AccountID) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// ParseAccountID accepts a hex string with or without 0x prefix. Shorter
// values are left-padded, matching a right-aligned bytes32.
func ParseAccountID(s string) (AccountID, error) {
	var id AccountID
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse account id: %w", err)
	}
	if len(raw) > len(id) {
		return id, fmt.Errorf("parse account id: %d bytes exceeds 32", len(raw))
	}
	copy(id[len(id)-len(raw):], raw)
	return id, nil
}
