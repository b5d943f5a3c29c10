package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatEntryID(t *testing.T) {
	assert.Equal(t, "0001-000001", FormatEntryID(1, 1))
	assert.Equal(t, "0120-004321", FormatEntryID(120, 4321))
}

func TestFormatLegID(t *testing.T) {
	assert.Equal(t, "0001-000001a", FormatLegID("0001-000001", 0))
	assert.Equal(t, "0001-000001b", FormatLegID("0001-000001", 1))
}

func TestParseEntryID(t *testing.T) {
	tests := []struct {
		id     string
		period int
		seq    int
	}{
		{"0001-000001", 1, 1},
		{"0012-000034a", 12, 34},
		{"0000-999999b", 0, 999999},
	}
	for _, tt := range tests {
		period, seq, err := ParseEntryID(tt.id)
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.period, period)
		assert.Equal(t, tt.seq, seq)
	}
}

func TestParseEntryID_Invalid(t *testing.T) {
	for _, bad := range []string{"", "0001", "x-000001", "0001-abc1", "0001-000000"} {
		_, _, err := ParseEntryID(bad)
		assert.Error(t, err, "ParseEntryID(%q)", bad)
	}
}

func TestRoundTrip(t *testing.T) {
	entry := FormatEntryID(7, 42)
	leg := FormatLegID(entry, 1)
	assert.Equal(t, entry, EntryGroup(leg))

	period, seq, err := ParseEntryID(leg)
	require.NoError(t, err)
	assert.Equal(t, 7, period)
	assert.Equal(t, 42, seq)
}
