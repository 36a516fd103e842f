package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagsHas(t *testing.T) {
	f := SnapshotBegin | TxPending

	assert.True(t, f.Has(SnapshotBegin))
	assert.True(t, f.Has(TxPending))
	assert.True(t, f.Has(SnapshotEnd|TxPending), "any bit of the mask is enough")
	assert.False(t, f.Has(RemoveEvent))
	assert.False(t, Flags(0).Has(SnapshotEnd|SnapshotSnip))
}

func TestFlagsString(t *testing.T) {
	tests := []struct {
		flags    Flags
		expected string
	}{
		{0, "0"},
		{TxPending, "TX_PENDING"},
		{SnapshotBegin | SnapshotEnd, "SNAPSHOT_BEGIN|SNAPSHOT_END"},
		{RemoveEvent | SnapshotSnip, "REMOVE_EVENT|SNAPSHOT_SNIP"},
		{TxPending | 0x40, "TX_PENDING|0x40"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.flags.String())
	}
}

func TestWithoutFlagsCopies(t *testing.T) {
	original := Event[string]{
		Symbol:   "AAPL",
		SourceID: 2,
		Index:    7,
		Flags:    SnapshotBegin | RemoveEvent,
		Payload:  "bid",
	}

	cleared := original.WithoutFlags()

	assert.Equal(t, Flags(0), cleared.Flags)
	assert.Equal(t, "bid", cleared.Payload)
	assert.Equal(t, int64(7), cleared.Index)
	// transport-owned value is untouched
	assert.Equal(t, SnapshotBegin|RemoveEvent, original.Flags)
	assert.True(t, original.IsRemove())
	assert.False(t, cleared.IsRemove())
}

func TestEventString(t *testing.T) {
	e := Event[int]{Symbol: "IBM", SourceID: 1, Index: 42, Flags: TxPending}
	assert.Equal(t, "IBM@1#42[TX_PENDING]", e.String())
}
