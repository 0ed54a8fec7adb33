package collector

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/raidkeeper/internal/domain"
)

// Listener receives events as the parser finalizes records
type Listener func(domain.Event)

// Options configures a LogParser
type Options struct {
	Channels        []string        // honored chat channels; "*" allows any custom channel
	WhoHeaderWindow time.Duration   // how long after a call the /who header may appear
	Character       string          // replaces the "You" speaker
	Source          string          // file name recorded on entries
	From, To        time.Time       // optional inclusive time filter
	Auctions        *AuctionTracker // shared tracker; a new one when nil
}

// ParseResult holds the records extracted from one or more logs
type ParseResult struct {
	Calls       []*domain.AttendanceEntry `json:"calls"`
	Spends      []*domain.DkpEntry        `json:"spends"`
	Transfers   []domain.DkpTransfer      `json:"transfers,omitempty"`
	Afk         []domain.AfkEntry         `json:"afk,omitempty"`
	Crashes     []domain.CrashReport      `json:"crashes,omitempty"`
	Memberships []domain.RaidMembership   `json:"memberships,omitempty"`
	Auctions    []domain.Auction          `json:"auctions,omitempty"`
	Anomalies   []domain.Anomaly          `json:"anomalies,omitempty"`
	Lines       int                       `json:"lines"`
	Skipped     int                       `json:"skipped"` // lines without a timestamp
	Start       time.Time                 `json:"start"`
	End         time.Time                 `json:"end"`
}

// entryParser is one state of the parser chain
type entryParser interface {
	parse(p *LogParser, entry *domain.LogEntry)
}

// LogParser turns a stream of log entries into attendance, DKP and AFK records.
// It is not safe for concurrent use.
type LogParser struct {
	opts       Options
	channels   map[string]bool
	anyChannel bool
	active     entryParser
	primary    *primaryParser
	auctions   *AuctionTracker
	listener   Listener
	logger     *zap.Logger
	result     ParseResult
	openAfk    map[string]int // character -> index into result.Afk
}

// NewLogParser creates a parser in the primary state
func NewLogParser(opts Options, logger *zap.Logger) *LogParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WhoHeaderWindow <= 0 {
		opts.WhoHeaderWindow = 3 * time.Second
	}
	p := &LogParser{
		opts:     opts,
		channels: make(map[string]bool),
		primary:  &primaryParser{},
		auctions: opts.Auctions,
		logger:   logger,
		openAfk:  make(map[string]int),
	}
	for _, c := range opts.Channels {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "*" {
			p.anyChannel = true
			continue
		}
		p.channels[c] = true
	}
	if len(opts.Channels) == 0 {
		p.channels["raid"] = true
		p.channels["guild"] = true
		p.anyChannel = true
	}
	if p.auctions == nil {
		p.auctions = NewAuctionTracker()
	}
	p.active = p.primary
	return p
}

// SetListener registers a callback for finalized records
func (p *LogParser) SetListener(l Listener) {
	p.listener = l
}

// Auctions exposes the parser's auction tracker
func (p *LogParser) Auctions() *AuctionTracker {
	return p.auctions
}

// FeedLine parses a raw line and feeds it to the state machine
func (p *LogParser) FeedLine(line string) {
	entry, err := ParseLine(line)
	p.feed(entry, err)
}

// Feed passes one parsed entry through the active parser
func (p *LogParser) Feed(entry *domain.LogEntry) {
	p.feed(entry, nil)
}

func (p *LogParser) feed(entry *domain.LogEntry, err error) {
	p.result.Lines++
	if err != nil && errors.Is(err, ErrNoTimestamp) {
		p.result.Skipped++
		return
	}
	if entry == nil {
		return
	}
	if !p.inRange(entry.Timestamp) {
		return
	}
	if entry.Source == "" {
		entry.Source = p.opts.Source
	}
	if entry.LineNum == 0 {
		entry.LineNum = p.result.Lines
	}
	p.track(entry.Timestamp)

	if err != nil {
		p.result.Anomalies = append(p.result.Anomalies, domain.Anomaly{
			Kind:      domain.AnomalyMalformedLine,
			Timestamp: entry.Timestamp,
			Message:   fmt.Sprintf("%s:%d: %v", entry.Source, entry.LineNum, err),
		})
		p.logger.Debug("Malformed line", zap.String("line", entry.Raw), zap.Error(err))
	}

	if entry.Channel != "" && !p.channelAllowed(entry.Channel) {
		return
	}
	p.resolveSpeaker(entry)
	p.active.parse(p, entry)
}

// Flush finalizes any pending call at end of input
func (p *LogParser) Flush() {
	switch s := p.active.(type) {
	case *populationStartParser:
		p.finalizeCall(s.call)
	case *populationParser:
		p.finalizeCall(s.call)
	}
	p.active = p.primary
}

// Result flushes the parser and returns what it extracted so far
func (p *LogParser) Result() *ParseResult {
	p.Flush()
	res := p.result
	res.Auctions = p.auctions.All()
	return &res
}

// Pending reports whether a call is waiting for its population listing
func (p *LogParser) Pending() bool {
	return p.active != p.primary
}

func (p *LogParser) inRange(ts time.Time) bool {
	if !p.opts.From.IsZero() && ts.Before(p.opts.From) {
		return false
	}
	if !p.opts.To.IsZero() && ts.After(p.opts.To) {
		return false
	}
	return true
}

func (p *LogParser) track(ts time.Time) {
	if p.result.Start.IsZero() || ts.Before(p.result.Start) {
		p.result.Start = ts
	}
	if ts.After(p.result.End) {
		p.result.End = ts
	}
}

func (p *LogParser) channelAllowed(channel string) bool {
	if p.channels[channel] {
		return true
	}
	return p.anyChannel && channel != "raid" && channel != "guild"
}

// resolveSpeaker substitutes the configured character for "You"
func (p *LogParser) resolveSpeaker(entry *domain.LogEntry) {
	if p.opts.Character == "" {
		return
	}
	me := domain.NormalizeName(p.opts.Character)
	if entry.Speaker == "You" {
		entry.Speaker = me
	}
	switch d := entry.Data.(type) {
	case domain.AfkData:
		if d.Character == "You" {
			entry.Data = domain.AfkData{Character: me}
		}
	case domain.RaidMembershipData:
		if d.Character == "You" {
			entry.Data = domain.RaidMembershipData{Character: me}
		}
	}
}

func (p *LogParser) emit(eventType string, ts time.Time, data interface{}) {
	if p.listener == nil {
		return
	}
	p.listener(domain.Event{Type: eventType, Timestamp: ts, Data: data})
}

// finalizeCall records a call whose population listing has ended
func (p *LogParser) finalizeCall(call *domain.AttendanceEntry) {
	p.active = p.primary
	p.result.Calls = append(p.result.Calls, call)

	eventType := domain.EventAttendance
	if call.CallType == domain.CallKill {
		eventType = domain.EventKill
	}
	p.logger.Debug("Call finalized",
		zap.String("type", string(call.CallType)),
		zap.String("name", call.Name),
		zap.Int("players", len(call.Players)),
		zap.Bool("complete", call.Complete))
	p.emit(eventType, call.Timestamp, domain.AttendanceEvent{
		Call:      call,
		Anomalies: CallAnomalies(call),
	})
}

// CallAnomalies reports problems visible on a single finalized call
func CallAnomalies(call *domain.AttendanceEntry) []domain.Anomaly {
	var anomalies []domain.Anomaly
	if !call.Complete && len(call.Players) == 0 {
		anomalies = append(anomalies, domain.Anomaly{
			Kind:      domain.AnomalyMissingPopulation,
			Timestamp: call.Timestamp,
			Message:   fmt.Sprintf("%s call %q has no population listing", call.CallType, call.Name),
		})
	}
	if call.Complete && call.ReportedCount != len(call.Players) {
		anomalies = append(anomalies, domain.Anomaly{
			Kind:      domain.AnomalyPopulationMismatch,
			Timestamp: call.Timestamp,
			Message: fmt.Sprintf("%s call %q lists %d characters but reports %d",
				call.CallType, call.Name, len(call.Players), call.ReportedCount),
		})
	}
	return anomalies
}

// primaryParser records every entry and starts population listings on calls
type primaryParser struct{}

func (*primaryParser) parse(p *LogParser, entry *domain.LogEntry) {
	switch entry.Type {
	case domain.EntryAttendance, domain.EntryKill:
		data := entry.Data.(domain.CallData)
		call := &domain.AttendanceEntry{
			CallType:  data.CallType,
			Name:      data.Name,
			Timestamp: entry.Timestamp,
			Speaker:   entry.Speaker,
		}
		p.active = &populationStartParser{call: call}

	case domain.EntryDkpSpent:
		data := entry.Data.(domain.DkpSpentData)
		p.result.Spends = append(p.result.Spends, &domain.DkpEntry{
			Timestamp: entry.Timestamp,
			Speaker:   entry.Speaker,
			Character: data.Character,
			Item:      data.Item,
			Amount:    data.Amount,
		})
		p.emit(domain.EventDkpSpent, entry.Timestamp, domain.DkpSpentEvent{
			Character: data.Character,
			Item:      data.Item,
			Amount:    data.Amount,
			Speaker:   entry.Speaker,
		})

	case domain.EntryDkpTransfer:
		data := entry.Data.(domain.DkpTransferData)
		p.result.Transfers = append(p.result.Transfers, domain.DkpTransfer{
			Timestamp: entry.Timestamp,
			Speaker:   entry.Speaker,
			Item:      data.Item,
			From:      data.From,
			To:        data.To,
		})
		p.emit(domain.EventDkpTransfer, entry.Timestamp, domain.DkpTransferEvent{
			Item: data.Item,
			From: data.From,
			To:   data.To,
		})

	case domain.EntryAfkStart:
		character := entry.Data.(domain.AfkData).Character
		if _, open := p.openAfk[character]; open {
			return
		}
		p.openAfk[character] = len(p.result.Afk)
		p.result.Afk = append(p.result.Afk, domain.AfkEntry{Character: character, Start: entry.Timestamp})
		p.emit(domain.EventAfkStart, entry.Timestamp, domain.AfkEvent{Character: character})

	case domain.EntryAfkEnd:
		character := entry.Data.(domain.AfkData).Character
		idx, open := p.openAfk[character]
		if !open {
			return
		}
		delete(p.openAfk, character)
		p.result.Afk[idx].End = entry.Timestamp
		p.emit(domain.EventAfkEnd, entry.Timestamp, domain.AfkEvent{Character: character})

	case domain.EntryCrashed:
		character := entry.Data.(domain.CrashData).Character
		p.result.Crashes = append(p.result.Crashes, domain.CrashReport{
			Timestamp: entry.Timestamp,
			Speaker:   entry.Speaker,
			Character: character,
		})
		p.emit(domain.EventCrashed, entry.Timestamp, domain.CrashedEvent{Character: character, Speaker: entry.Speaker})

	case domain.EntryJoinedRaid, domain.EntryLeftRaid:
		character := entry.Data.(domain.RaidMembershipData).Character
		p.result.Memberships = append(p.result.Memberships, domain.RaidMembership{
			Timestamp: entry.Timestamp,
			Character: character,
			Joined:    entry.Type == domain.EntryJoinedRaid,
		})

	case domain.EntryAuctionStart:
		data := entry.Data.(domain.AuctionStartData)
		a := p.auctions.Start(entry.Timestamp, data.Item, data.Quantity)
		p.emit(domain.EventAuctionStart, entry.Timestamp, domain.AuctionEvent{Auction: &a})

	case domain.EntryAuctionBid:
		data := entry.Data.(domain.AuctionBidData)
		bid := domain.Bid{Character: data.Character, Amount: data.Amount, Speaker: entry.Speaker}
		if a, ok := p.auctions.Bid(entry.Timestamp, data.Item, bid); ok {
			bid.Timestamp = entry.Timestamp
			p.emit(domain.EventAuctionBid, entry.Timestamp, domain.AuctionEvent{Auction: &a, Bid: &bid})
		}

	case domain.EntryAuctionEnd:
		data := entry.Data.(domain.AuctionEndData)
		if a, ok := p.auctions.Close(entry.Timestamp, data.Item); ok {
			p.emit(domain.EventAuctionEnd, entry.Timestamp, domain.AuctionEvent{Auction: &a})
		}
	}
}

// populationStartParser waits for the /who header that follows a call
type populationStartParser struct {
	call *domain.AttendanceEntry
}

func (s *populationStartParser) parse(p *LogParser, entry *domain.LogEntry) {
	withinWindow := !entry.Timestamp.After(s.call.Timestamp.Add(p.opts.WhoHeaderWindow))

	switch {
	case !withinWindow:
		p.finalizeCall(s.call)
		p.active.parse(p, entry)
	case entry.Type == domain.EntryPopulationHeader:
		p.active = &populationParser{call: s.call}
	case entry.Type.IsCall():
		p.finalizeCall(s.call)
		p.active.parse(p, entry)
	default:
		p.primary.parse(p, entry)
	}
}

// populationParser consumes the character lines of a /who listing
type populationParser struct {
	call *domain.AttendanceEntry
}

func (s *populationParser) parse(p *LogParser, entry *domain.LogEntry) {
	switch entry.Type {
	case domain.EntryPopulationSeparator:
	case domain.EntryCharacter:
		s.call.Add(entry.Data.(domain.PlayerCharacter))
	case domain.EntryZonePopulation:
		data := entry.Data.(domain.ZonePopulationData)
		s.call.Zone = data.Zone
		s.call.ReportedCount = data.Count
		s.call.Complete = true
		p.finalizeCall(s.call)
	default:
		p.finalizeCall(s.call)
		p.active.parse(p, entry)
	}
}
