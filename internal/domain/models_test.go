package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTransferStatus(t *testing.T) {
	for raw, want := range map[string]TransferStatus{
		"pending":    TransferPending,
		"IN_TRANSIT": TransferInTransit,
		"in-transit": TransferInTransit,
		" received ": TransferReceived,
	} {
		got, ok := ParseTransferStatus(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := ParseTransferStatus("cancelled")
	assert.False(t, ok)
}

func TestTransferStatusOnlyMovesForward(t *testing.T) {
	assert.True(t, TransferPending.CanAdvanceTo(TransferInTransit))
	assert.True(t, TransferPending.CanAdvanceTo(TransferReceived))
	assert.True(t, TransferInTransit.CanAdvanceTo(TransferInTransit))
	assert.False(t, TransferReceived.CanAdvanceTo(TransferPending))
	assert.False(t, TransferInTransit.CanAdvanceTo(TransferPending))
	assert.False(t, TransferPending.CanAdvanceTo("lost"))
}

func TestListFilterNormalizeAndTimeWindow(t *testing.T) {
	f := ListFilter{Limit: 1000, Offset: -4}.Normalize()
	assert.Equal(t, MaxPageSize, f.Limit)
	assert.Equal(t, 0, f.Offset)
	assert.Equal(t, DefaultPageSize, ListFilter{}.Normalize().Limit)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	f = ListFilter{From: &from, To: &to}
	assert.True(t, f.MatchesTime(from))
	assert.True(t, f.MatchesTime(to.Add(-time.Nanosecond)))
	assert.False(t, f.MatchesTime(to))
	assert.False(t, f.MatchesTime(from.Add(-time.Second)))
}
