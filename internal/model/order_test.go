package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{OrderStatusCreated, OrderStatusFulfilled, true},
		{OrderStatusCreated, OrderStatusClosed, true},
		{OrderStatusCreated, OrderStatusCancelled, true},
		{OrderStatusFulfilled, OrderStatusCancelled, false},
		{OrderStatusClosed, OrderStatusFulfilled, false},
		{OrderStatusCancelled, OrderStatusCreated, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCounterColumn(t *testing.T) {
	assert.Equal(t, "generation_credits", CounterCredits.Column())
	assert.Equal(t, "download_allowance", CounterDownloads.Column())
	assert.Equal(t, "", Counter("bogus").Column())

	a := &Account{GenerationCredits: 3, DownloadAllowance: 7}
	assert.Equal(t, int64(3), a.Balance(CounterCredits))
	assert.Equal(t, int64(7), a.Balance(CounterDownloads))
}

func TestEntryKindValid(t *testing.T) {
	for _, k := range []EntryKind{EntryKindPurchase, EntryKindUsage, EntryKindBonus, EntryKindRefund} {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, EntryKind("gift").Valid())
}
