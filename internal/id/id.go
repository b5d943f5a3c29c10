// Package id formats and parses flow ledger entry IDs of the form
// "PPPP-NNNNNN" (period, sequence) with an optional leg suffix.
package id

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatEntryID returns an entry ID like "0003-000017".
func FormatEntryID(period, seq int) string {
	return fmt.Sprintf("%04d-%06d", period, seq)
}

// FormatLegID returns a leg ID like "0003-000017a" (leg 0='a', 1='b', etc.).
func FormatLegID(entryID string, leg int) string {
	return entryID + string(rune('a'+leg))
}

// ParseEntryID parses "0003-000017" (or a leg ID) into period and seq.
func ParseEntryID(id string) (period, seq int, err error) {
	base := EntryGroup(id)

	parts := strings.SplitN(base, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid entry ID format: %q", id)
	}

	period, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid period in entry ID %q: %w", id, err)
	}

	seq, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid sequence in entry ID %q: %w", id, err)
	}
	if seq < 1 {
		return 0, 0, fmt.Errorf("invalid sequence in entry ID %q: must be positive", id)
	}

	return period, seq, nil
}

// EntryGroup strips the leg suffix from a leg ID.
// "0003-000017a" -> "0003-000017"
func EntryGroup(legID string) string {
	i := len(legID)
	for i > 0 && legID[i-1] >= 'a' && legID[i-1] <= 'z' {
		i--
	}
	return legID[:i]
}
