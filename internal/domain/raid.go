package domain

import (
	"sort"
	"time"
)

// CallType distinguishes time-based attendance calls from boss kills
type CallType string

const (
	CallTime CallType = "time"
	CallKill CallType = "kill"
)

// Presence sources for a character in an attendance call
const (
	SourceWho     = "who"
	SourceZeal    = "zeal"
	SourceCrashed = "crashed"
)

// PlayerCharacter is a character seen in a population listing or roster file
type PlayerCharacter struct {
	Name      string `json:"name"`
	Level     int    `json:"level,omitempty"`
	Class     string `json:"class,omitempty"`
	Race      string `json:"race,omitempty"`
	Guild     string `json:"guild,omitempty"`
	Anonymous bool   `json:"anonymous,omitempty"`
	AFK       bool   `json:"afk,omitempty"`
	LinkDead  bool   `json:"link_dead,omitempty"`
	Source    string `json:"source"`
}

// AttendanceEntry is an attendance or kill call with its roster snapshot
type AttendanceEntry struct {
	ID            int64             `json:"id,omitempty"`
	CallType      CallType          `json:"call_type"`
	Name          string            `json:"name"`
	Timestamp     time.Time         `json:"timestamp"`
	Speaker       string            `json:"speaker"`
	Zone          string            `json:"zone,omitempty"`
	ReportedCount int               `json:"reported_count"`
	Complete      bool              `json:"complete"` // population listing ended with a zone line
	Players       []PlayerCharacter `json:"players"`
}

// Has reports whether the named character is present in the call
func (a *AttendanceEntry) Has(name string) bool {
	return a.index(name) >= 0
}

// Add appends the character unless already present; returns true if added
func (a *AttendanceEntry) Add(pc PlayerCharacter) bool {
	pc.Name = NormalizeName(pc.Name)
	if pc.Name == "" || a.Has(pc.Name) {
		return false
	}
	a.Players = append(a.Players, pc)
	return true
}

// Remove drops the named character; returns true if it was present
func (a *AttendanceEntry) Remove(name string) bool {
	i := a.index(name)
	if i < 0 {
		return false
	}
	a.Players = append(a.Players[:i], a.Players[i+1:]...)
	return true
}

// Names returns the sorted character names in the call
func (a *AttendanceEntry) Names() []string {
	names := make([]string, 0, len(a.Players))
	for _, p := range a.Players {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

func (a *AttendanceEntry) index(name string) int {
	name = NormalizeName(name)
	for i, p := range a.Players {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// DkpEntry is a DKP spend declaration
type DkpEntry struct {
	ID              int64            `json:"id,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
	Speaker         string           `json:"speaker"`
	Character       string           `json:"character"`
	Item            string           `json:"item"`
	Amount          int              `json:"amount"`
	TransferredFrom string           `json:"transferred_from,omitempty"`
	CallID          int64            `json:"call_id,omitempty"`
	Call            *AttendanceEntry `json:"-"`
}

// AfkEntry is an AFK window for one character; End is zero while open
type AfkEntry struct {
	Character string    `json:"character"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end,omitempty"`
}

// Open reports whether the window was never terminated
func (a AfkEntry) Open() bool {
	return a.End.IsZero()
}

// Covers reports whether t falls within the window
func (a AfkEntry) Covers(t time.Time) bool {
	if t.Before(a.Start) {
		return false
	}
	return a.Open() || !t.After(a.End)
}

// DkpTransfer moves a previous spend from one character to another
type DkpTransfer struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"speaker"`
	Item      string    `json:"item"`
	From      string    `json:"from"`
	To        string    `json:"to"`
}

// CrashReport is an officer's note that a character crashed
type CrashReport struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"speaker"`
	Character string    `json:"character"`
}

// RaidMembership is a join or leave event of the raid group
type RaidMembership struct {
	Timestamp time.Time `json:"timestamp"`
	Character string    `json:"character"`
	Joined    bool      `json:"joined"`
}

// ZealRoster is a raid roster exported by the Zeal client
type ZealRoster struct {
	Path      string            `json:"path"`
	Timestamp time.Time         `json:"timestamp"`
	Members   []PlayerCharacter `json:"members"`
}

// Raid groups the calls and spends of one raid session
type Raid struct {
	ID         int64              `json:"id,omitempty"`
	UUID       string             `json:"uuid,omitempty"`
	Name       string             `json:"name"`
	Zone       string             `json:"zone,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    time.Time          `json:"ended_at"`
	UploadedAt *time.Time         `json:"uploaded_at,omitempty"`
	RemoteID   string             `json:"remote_id,omitempty"`
	Calls      []*AttendanceEntry `json:"calls,omitempty"`
	Spends     []*DkpEntry        `json:"spends,omitempty"`
	Anomalies  []Anomaly          `json:"anomalies,omitempty"`
}

// RaidSummary is a raid row for listings
type RaidSummary struct {
	ID         int64      `json:"id"`
	UUID       string     `json:"uuid"`
	Name       string     `json:"name"`
	Zone       string     `json:"zone,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    time.Time  `json:"ended_at"`
	CallCount  int        `json:"call_count"`
	SpendCount int        `json:"spend_count"`
	TotalDkp   int        `json:"total_dkp"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty"`
}

// Character is a roster record for a guild member
type Character struct {
	Name      string    `json:"name"`
	Level     int       `json:"level"`
	Class     string    `json:"class"`
	Rank      string    `json:"rank,omitempty"`
	Account   string    `json:"account"` // main character owning this one
	IsAlt     bool      `json:"is_alt"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Roster indexes characters by normalized name
type Roster map[string]Character

// NewRoster builds a roster from a character list
func NewRoster(chars []Character) Roster {
	r := make(Roster, len(chars))
	for _, c := range chars {
		r[NormalizeName(c.Name)] = c
	}
	return r
}

// Lookup finds a character by name
func (r Roster) Lookup(name string) (Character, bool) {
	c, ok := r[NormalizeName(name)]
	return c, ok
}

// AccountOf returns the account name for a character, defaulting to the character itself
func (r Roster) AccountOf(name string) string {
	if c, ok := r.Lookup(name); ok && c.Account != "" {
		return NormalizeName(c.Account)
	}
	return NormalizeName(name)
}

// Names returns all roster names
func (r Roster) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
