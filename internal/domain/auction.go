package domain

import "time"

// Bid is a single auction bid
type Bid struct {
	Character string    `json:"character"`
	Amount    int       `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"speaker"`
}

// Auction is a live loot auction tracked from raid chat
type Auction struct {
	Item     string     `json:"item"`
	Quantity int        `json:"quantity"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	Bids     []Bid      `json:"bids"`
	Winners  []Bid      `json:"winners,omitempty"`
}
