package domain

import "time"

// Event types for WebSocket and NATS notifications
const (
	EventAttendance   = "attendance"
	EventKill         = "kill"
	EventDkpSpent     = "dkp_spent"
	EventDkpTransfer  = "dkp_transfer"
	EventAfkStart     = "afk_start"
	EventAfkEnd       = "afk_end"
	EventCrashed      = "crashed"
	EventAuctionStart = "auction_start"
	EventAuctionBid   = "auction_bid"
	EventAuctionEnd   = "auction_end"
	EventLogSwitched  = "log_switched"
	EventRaidUploaded = "raid_uploaded"
)

// Event represents a real-time event for broadcast
type Event struct {
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// AttendanceEvent is sent when a call's population listing is complete
type AttendanceEvent struct {
	Call      *AttendanceEntry `json:"call"`
	Anomalies []Anomaly        `json:"anomalies,omitempty"`
}

// DkpSpentEvent is sent for each spend declaration
type DkpSpentEvent struct {
	Character string `json:"character"`
	Item      string `json:"item"`
	Amount    int    `json:"amount"`
	Speaker   string `json:"speaker"`
}

// DkpTransferEvent is sent when a spend is moved between characters
type DkpTransferEvent struct {
	Item string `json:"item"`
	From string `json:"from"`
	To   string `json:"to"`
}

// AfkEvent is sent when a character goes AFK or returns
type AfkEvent struct {
	Character string `json:"character"`
}

// CrashedEvent is sent when an officer reports a crashed character
type CrashedEvent struct {
	Character string `json:"character"`
	Speaker   string `json:"speaker"`
}

// AuctionEvent is sent when an auction opens, receives a bid or closes
type AuctionEvent struct {
	Auction *Auction `json:"auction"`
	Bid     *Bid     `json:"bid,omitempty"`
}

// LogSwitchedEvent is sent when the live collector moves to another log file
type LogSwitchedEvent struct {
	Path string `json:"path"`
}

// RaidUploadedEvent is sent after a raid is accepted by the DKP server
type RaidUploadedEvent struct {
	RaidID   int64  `json:"raid_id"`
	RemoteID string `json:"remote_id"`
}
