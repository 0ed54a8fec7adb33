package collector

import (
	"sort"
	"sync"
	"time"

	"github.com/ernie/raidkeeper/internal/domain"
)

// maxClosedAuctions bounds the history kept for the live view
const maxClosedAuctions = 50

// AuctionTracker follows open loot auctions and their bids
type AuctionTracker struct {
	mu     sync.Mutex
	open   map[string]*domain.Auction // keyed by normalized item
	closed []*domain.Auction
}

// NewAuctionTracker creates an empty tracker
func NewAuctionTracker() *AuctionTracker {
	return &AuctionTracker{
		open: make(map[string]*domain.Auction),
	}
}

// Start opens an auction. Re-opening an item that is already open restarts it.
func (t *AuctionTracker) Start(ts time.Time, item string, quantity int) domain.Auction {
	if quantity < 1 {
		quantity = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	a := &domain.Auction{
		Item:     item,
		Quantity: quantity,
		OpenedAt: ts,
	}
	t.open[domain.NormalizeItem(item)] = a
	return copyAuction(a)
}

// Bid records a bid on an open auction. A character's later bid replaces
// its earlier one. Returns false if no auction is open for the item.
func (t *AuctionTracker) Bid(ts time.Time, item string, bid domain.Bid) (domain.Auction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.open[domain.NormalizeItem(item)]
	if !ok {
		return domain.Auction{}, false
	}
	bid.Timestamp = ts
	bid.Character = domain.NormalizeName(bid.Character)

	replaced := false
	for i := range a.Bids {
		if a.Bids[i].Character == bid.Character {
			a.Bids[i] = bid
			replaced = true
			break
		}
	}
	if !replaced {
		a.Bids = append(a.Bids, bid)
	}
	a.Winners = Winners(a.Bids, a.Quantity)
	return copyAuction(a), true
}

// Close ends an auction and fixes its winners
func (t *AuctionTracker) Close(ts time.Time, item string) (domain.Auction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := domain.NormalizeItem(item)
	a, ok := t.open[key]
	if !ok {
		return domain.Auction{}, false
	}
	delete(t.open, key)

	closedAt := ts
	a.ClosedAt = &closedAt
	a.Winners = Winners(a.Bids, a.Quantity)

	t.closed = append(t.closed, a)
	if len(t.closed) > maxClosedAuctions {
		t.closed = t.closed[len(t.closed)-maxClosedAuctions:]
	}
	return copyAuction(a), true
}

// Open returns the open auctions, oldest first
func (t *AuctionTracker) Open() []domain.Auction {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]domain.Auction, 0, len(t.open))
	for _, a := range t.open {
		result = append(result, copyAuction(a))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result
}

// All returns closed auctions followed by open ones
func (t *AuctionTracker) All() []domain.Auction {
	t.mu.Lock()
	closed := make([]domain.Auction, 0, len(t.closed))
	for _, a := range t.closed {
		closed = append(closed, copyAuction(a))
	}
	t.mu.Unlock()
	return append(closed, t.Open()...)
}

// Winners returns the top quantity bids, highest amount first; equal
// amounts go to the earlier bid
func Winners(bids []domain.Bid, quantity int) []domain.Bid {
	sorted := make([]domain.Bid, len(bids))
	copy(sorted, bids)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Amount != sorted[j].Amount {
			return sorted[i].Amount > sorted[j].Amount
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	if len(sorted) > quantity {
		sorted = sorted[:quantity]
	}
	return sorted
}

func copyAuction(a *domain.Auction) domain.Auction {
	c := *a
	c.Bids = append([]domain.Bid(nil), a.Bids...)
	c.Winners = append([]domain.Bid(nil), a.Winners...)
	if a.ClosedAt != nil {
		closedAt := *a.ClosedAt
		c.ClosedAt = &closedAt
	}
	return c
}
