package collector

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/raidkeeper/internal/domain"
)

func TestWinners(t *testing.T) {
	t0 := time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC)
	bids := []domain.Bid{
		{Character: "Brell", Amount: 30, Timestamp: t0.Add(2 * time.Second)},
		{Character: "Aradune", Amount: 50, Timestamp: t0.Add(3 * time.Second)},
		{Character: "Tunare", Amount: 30, Timestamp: t0.Add(1 * time.Second)},
	}

	got := Winners(bids, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "Aradune", got[0].Character)
	assert.Equal(t, "Tunare", got[1].Character)

	assert.Len(t, Winners(bids, 5), 3)
	assert.Equal(t, "Brell", bids[0].Character, "input must not be reordered")
}

func TestAuctionTracker_Lifecycle(t *testing.T) {
	tr := NewAuctionTracker()
	t0 := time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC)

	a := tr.Start(t0, "Cloak of Flames", 0)
	assert.Equal(t, 1, a.Quantity)

	_, ok := tr.Bid(t0, "Boots", domain.Bid{Character: "Brell", Amount: 10})
	assert.False(t, ok)

	_, ok = tr.Bid(t0.Add(time.Second), "cloak  of flames", domain.Bid{Character: "brell", Amount: 10})
	require.True(t, ok)
	a, ok = tr.Bid(t0.Add(2*time.Second), "Cloak of Flames", domain.Bid{Character: "Brell", Amount: 25})
	require.True(t, ok)
	require.Len(t, a.Bids, 1)
	assert.Equal(t, 25, a.Bids[0].Amount)
	assert.Equal(t, "Brell", a.Winners[0].Character)

	// Returned copies are detached from the tracker
	a.Bids[0].Amount = 1
	assert.Equal(t, 25, tr.Open()[0].Bids[0].Amount)

	closed, ok := tr.Close(t0.Add(time.Minute), "Cloak of Flames")
	require.True(t, ok)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.ClosedAt.Equal(t0.Add(time.Minute)))
	assert.Empty(t, tr.Open())

	_, ok = tr.Close(t0.Add(time.Minute), "Cloak of Flames")
	assert.False(t, ok)
	assert.Len(t, tr.All(), 1)
}

func TestAuctionTracker_ClosedHistoryBounded(t *testing.T) {
	tr := NewAuctionTracker()
	t0 := time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC)
	for i := 0; i < maxClosedAuctions+5; i++ {
		item := fmt.Sprintf("Item %d", i)
		tr.Start(t0.Add(time.Duration(i)*time.Second), item, 1)
		tr.Close(t0.Add(time.Duration(i)*time.Second), item)
	}
	tr.Start(t0.Add(time.Hour), "Open Item", 1)

	all := tr.All()
	require.Len(t, all, maxClosedAuctions+1)
	assert.Equal(t, "Item 5", all[0].Item)
	assert.Equal(t, "Open Item", all[len(all)-1].Item)
}
