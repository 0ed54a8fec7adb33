package domain

import (
	"strings"
	"time"
)

// EntryType is the coarse classification of a log line
type EntryType string

// Entry types
const (
	EntryUnknown             EntryType = "unknown"
	EntryAttendance          EntryType = "attendance"
	EntryKill                EntryType = "kill"
	EntryDkpSpent            EntryType = "dkp_spent"
	EntryDkpTransfer         EntryType = "dkp_transfer"
	EntryAfkStart            EntryType = "afk_start"
	EntryAfkEnd              EntryType = "afk_end"
	EntryCrashed             EntryType = "crashed"
	EntryAuctionStart        EntryType = "auction_start"
	EntryAuctionBid          EntryType = "auction_bid"
	EntryAuctionEnd          EntryType = "auction_end"
	EntryPopulationHeader    EntryType = "population_header"
	EntryPopulationSeparator EntryType = "population_separator"
	EntryCharacter           EntryType = "character"
	EntryZonePopulation      EntryType = "zone_population"
	EntryJoinedRaid          EntryType = "joined_raid"
	EntryLeftRaid            EntryType = "left_raid"
)

// IsCall reports whether the type starts an attendance snapshot
func (t EntryType) IsCall() bool {
	return t == EntryAttendance || t == EntryKill
}

// LogEntry is a single parsed log line
type LogEntry struct {
	Timestamp time.Time
	Type      EntryType
	Raw       string // full line including timestamp
	Message   string // line with timestamp stripped
	Channel   string // "raid", "guild" or a custom channel name; empty for non-chat lines
	Speaker   string
	Body      string // chat body without quotes
	Source    string // file the line came from
	LineNum   int
	Data      interface{}
}

// Typed entry payloads, stored in LogEntry.Data

type CallData struct {
	CallType CallType
	Name     string // call name for time calls, boss name for kills
}

type DkpSpentData struct {
	Character string
	Item      string
	Amount    int
}

type DkpTransferData struct {
	Item string
	From string
	To   string
}

type AfkData struct {
	Character string
}

type CrashData struct {
	Character string
}

type AuctionStartData struct {
	Item     string
	Quantity int
}

type AuctionBidData struct {
	Item      string
	Character string
	Amount    int
}

type AuctionEndData struct {
	Item string
}

type ZonePopulationData struct {
	Zone  string
	Count int
}

type RaidMembershipData struct {
	Character string
}

// NormalizeName returns an EverQuest character name in canonical form:
// first letter upper case, the rest lower case
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	lower := strings.ToLower(name)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// NormalizeItem folds an item name for comparisons
func NormalizeItem(item string) string {
	return strings.ToLower(strings.Join(strings.Fields(item), " "))
}
