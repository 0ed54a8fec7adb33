package collector

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ernie/raidkeeper/internal/domain"
)

// Delimiter separates the fields of officer calls in chat
const Delimiter = ":::"

// TimestampLayout is the EverQuest log timestamp format
const TimestampLayout = "Mon Jan _2 15:04:05 2006"

const raidAttendanceTaken = "raid attendance taken"

var (
	// ErrNoTimestamp is returned for lines without a leading EverQuest timestamp
	ErrNoTimestamp = errors.New("line has no timestamp")
	// ErrMalformedEntry is returned for calls with the right shape but unusable fields
	ErrMalformedEntry = errors.New("malformed entry")
)

// Regular expressions for parsing log lines
var (
	// Matches the timestamp at start of line: [Tue Mar 05 21:02:11 2024]
	timestampRegex = regexp.MustCompile(`^\[(\w{3} \w{3} [ \d]\d \d{2}:\d{2}:\d{2} \d{4})\] ?`)

	// Chat envelopes (after timestamp is stripped)
	raidTellRegex       = regexp.MustCompile(`^(\w+) tells the raid,\s+'(.*)'$`)
	ownRaidTellRegex    = regexp.MustCompile(`^You tell your raid,\s+'(.*)'$`)
	guildTellRegex      = regexp.MustCompile(`^(\w+) tells the guild,\s+'(.*)'$`)
	ownGuildTellRegex   = regexp.MustCompile(`^You say to your guild,\s+'(.*)'$`)
	channelTellRegex    = regexp.MustCompile(`^(\w+) tells (\w+):\d+,\s+'(.*)'$`)
	ownChannelTellRegex = regexp.MustCompile(`^You tell (\w+):\d+,\s+'(.*)'$`)

	// Non-chat lines
	populationHeaderRegex    = regexp.MustCompile(`^Players (?:on|in) EverQuest:$`)
	populationSeparatorRegex = regexp.MustCompile(`^-{5,}$`)
	characterRegex           = regexp.MustCompile(`^\s*((?:(?:AFK|<LINKDEAD>|LFG)\s*)*)\[(?:(\d+) ([^\]]+?)|ANONYMOUS)\]\s+(\w+)(?:\s+\(([^)]+)\))?(?:\s+<([^>]+)>)?`)
	zonePopulationRegex      = regexp.MustCompile(`^There (?:are|is) (\d+) players? in (.+)\.$`)
	noPlayersRegex           = regexp.MustCompile(`^There are no players in EverQuest that match those who filters\.$`)
	joinedRaidRegex          = regexp.MustCompile(`^(\w+) (?:has|have) joined the raid\.$`)
	leftRaidRegex            = regexp.MustCompile(`^(\w+) (?:has|have) left the raid\.$`)
	removedFromRaidRegex     = regexp.MustCompile(`^You were removed from the raid\.$`)

	// Final token of delimited calls
	spentRegex    = regexp.MustCompile(`(?i)^(\S+)\s+(\S+)\s+DKP\s*SPEN[TD]$`)
	transferRegex = regexp.MustCompile(`(?i)^(\S+)\s+(\S+)\s+DKP\s*TRANSFER$`)
	bidRegex      = regexp.MustCompile(`(?i)^(\S+)\s+(\S+)\s+BID$`)
	bidsOpenRegex = regexp.MustCompile(`(?i)^BIDS\s+OPEN$`)
	bidsEndRegex  = regexp.MustCompile(`(?i)^BIDS\s+CLOSED$`)
	afkRegex      = regexp.MustCompile(`(?i)^AFK(?:\s+(START|END|STOP))?$`)
	quantityRegex = regexp.MustCompile(`(?i)^(.*?)\s+x(\d+)$`)
	nameRegex     = regexp.MustCompile(`^[A-Za-z]+$`)
)

// ParseTimestamp extracts the leading timestamp and returns it with the rest of the line
func ParseTimestamp(line string) (time.Time, string, error) {
	match := timestampRegex.FindStringSubmatch(line)
	if match == nil {
		return time.Time{}, "", ErrNoTimestamp
	}
	ts, err := time.ParseInLocation(TimestampLayout, match[1], time.Local)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrNoTimestamp, err)
	}
	return ts, line[len(match[0]):], nil
}

// FormatTimestamp renders a time the way EverQuest writes it
func FormatTimestamp(t time.Time) string {
	return "[" + t.Format("Mon Jan 02 15:04:05 2006") + "]"
}

// Classify assigns a coarse entry type to a message by scanning for literal markers.
// Chat bodies are not tokenized here; extractors confirm the type.
func Classify(message string) domain.EntryType {
	if strings.Contains(message, Delimiter) {
		return classifyDelimited(message)
	}

	switch {
	case strings.HasPrefix(message, "Players on EverQuest") || strings.HasPrefix(message, "Players in EverQuest"):
		return domain.EntryPopulationHeader
	case strings.HasPrefix(message, "-----"):
		return domain.EntryPopulationSeparator
	case strings.HasPrefix(message, "There are ") || strings.HasPrefix(message, "There is "):
		return domain.EntryZonePopulation
	case strings.HasSuffix(message, "joined the raid."):
		return domain.EntryJoinedRaid
	case strings.HasSuffix(message, "left the raid.") || message == "You were removed from the raid.":
		return domain.EntryLeftRaid
	case strings.Contains(message, "[") && strings.Contains(message, "]") && !strings.Contains(message, "'"):
		return domain.EntryCharacter
	}
	return domain.EntryUnknown
}

func classifyDelimited(message string) domain.EntryType {
	upper := strings.ToUpper(message)
	trimmed := strings.TrimRight(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(upper), "'")), ": ")

	switch {
	case strings.Contains(upper, "RAID ATTENDANCE TAKEN"):
		if strings.HasSuffix(trimmed, "KILL") {
			return domain.EntryKill
		}
		return domain.EntryAttendance
	case strings.Contains(upper, "DKPSPENT") || strings.Contains(upper, "DKP SPENT") || strings.Contains(upper, "DKPSPEND"):
		return domain.EntryDkpSpent
	case strings.Contains(upper, "DKPTRANSFER") || strings.Contains(upper, "DKP TRANSFER"):
		return domain.EntryDkpTransfer
	case strings.Contains(upper, "BIDS OPEN"):
		return domain.EntryAuctionStart
	case strings.Contains(upper, "BIDS CLOSED"):
		return domain.EntryAuctionEnd
	case strings.HasSuffix(trimmed, " BID"):
		return domain.EntryAuctionBid
	case strings.Contains(upper, "CRASHED"):
		return domain.EntryCrashed
	case strings.Contains(upper, "AFK END") || strings.Contains(upper, "AFK STOP"):
		return domain.EntryAfkEnd
	case strings.Contains(upper, "AFK"):
		return domain.EntryAfkStart
	}
	return domain.EntryUnknown
}

// ParseLine parses a single log line into an entry.
// Unrecognized lines yield an EntryUnknown entry and no error. For malformed
// calls the entry is returned together with an error wrapping ErrMalformedEntry
// so callers keep its position in the log.
func ParseLine(line string) (*domain.LogEntry, error) {
	line = strings.TrimRight(line, "\r\n")
	ts, message, err := ParseTimestamp(line)
	if err != nil {
		return nil, err
	}

	entry := &domain.LogEntry{
		Timestamp: ts,
		Type:      Classify(message),
		Raw:       line,
		Message:   message,
	}

	switch entry.Type {
	case domain.EntryUnknown:
		return entry, nil
	case domain.EntryPopulationHeader:
		if !populationHeaderRegex.MatchString(message) {
			entry.Type = domain.EntryUnknown
		}
		return entry, nil
	case domain.EntryPopulationSeparator:
		if !populationSeparatorRegex.MatchString(message) {
			entry.Type = domain.EntryUnknown
		}
		return entry, nil
	case domain.EntryCharacter:
		extractCharacter(entry)
		return entry, nil
	case domain.EntryZonePopulation:
		extractZonePopulation(entry)
		return entry, nil
	case domain.EntryJoinedRaid, domain.EntryLeftRaid:
		extractRaidMembership(entry)
		return entry, nil
	}

	// Everything else is an officer call carried in a chat message
	if !parseChatEnvelope(entry) {
		entry.Type = domain.EntryUnknown
		return entry, nil
	}

	if err := extractCall(entry); err != nil {
		entry.Type = domain.EntryUnknown
		return entry, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	return entry, nil
}

// parseChatEnvelope fills channel, speaker and body; false if the message is not a channel chat
func parseChatEnvelope(entry *domain.LogEntry) bool {
	msg := entry.Message
	if m := raidTellRegex.FindStringSubmatch(msg); m != nil {
		entry.Channel, entry.Speaker, entry.Body = "raid", m[1], m[2]
		return true
	}
	if m := ownRaidTellRegex.FindStringSubmatch(msg); m != nil {
		entry.Channel, entry.Speaker, entry.Body = "raid", "You", m[1]
		return true
	}
	if m := guildTellRegex.FindStringSubmatch(msg); m != nil {
		entry.Channel, entry.Speaker, entry.Body = "guild", m[1], m[2]
		return true
	}
	if m := ownGuildTellRegex.FindStringSubmatch(msg); m != nil {
		entry.Channel, entry.Speaker, entry.Body = "guild", "You", m[1]
		return true
	}
	if m := channelTellRegex.FindStringSubmatch(msg); m != nil {
		entry.Channel, entry.Speaker, entry.Body = strings.ToLower(m[2]), m[1], m[3]
		return true
	}
	if m := ownChannelTellRegex.FindStringSubmatch(msg); m != nil {
		entry.Channel, entry.Speaker, entry.Body = strings.ToLower(m[1]), "You", m[2]
		return true
	}
	return false
}

// splitDelimited tokenizes a call body on the delimiter, dropping empty tokens
func splitDelimited(body string) []string {
	parts := strings.Split(body, Delimiter)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// extractCall populates entry.Data for delimited officer calls
func extractCall(entry *domain.LogEntry) error {
	tokens := splitDelimited(entry.Body)
	if len(tokens) == 0 {
		entry.Type = domain.EntryUnknown
		return nil
	}

	switch entry.Type {
	case domain.EntryAttendance, domain.EntryKill:
		return extractAttendance(entry, tokens)
	case domain.EntryDkpSpent:
		return extractDkpSpent(entry, tokens)
	case domain.EntryDkpTransfer:
		return extractTransfer(entry, tokens)
	case domain.EntryAuctionStart, domain.EntryAuctionEnd, domain.EntryAuctionBid:
		return extractAuction(entry, tokens)
	case domain.EntryAfkStart, domain.EntryAfkEnd:
		return extractAfk(entry, tokens)
	case domain.EntryCrashed:
		return extractCrash(entry, tokens)
	}
	return nil
}

func extractAttendance(entry *domain.LogEntry, tokens []string) error {
	idx := -1
	for i, tok := range tokens {
		if strings.EqualFold(tok, raidAttendanceTaken) {
			idx = i
			break
		}
	}
	if idx < 0 {
		entry.Type = domain.EntryUnknown
		return nil
	}
	rest := tokens[idx+1:]

	if len(rest) >= 2 && strings.EqualFold(rest[len(rest)-1], "Kill") {
		entry.Type = domain.EntryKill
		entry.Data = domain.CallData{
			CallType: domain.CallKill,
			Name:     strings.Join(rest[:len(rest)-1], " "),
		}
		return nil
	}
	if len(rest) >= 2 && strings.EqualFold(rest[0], "Attendance") {
		entry.Type = domain.EntryAttendance
		entry.Data = domain.CallData{
			CallType: domain.CallTime,
			Name:     strings.Join(rest[1:], " "),
		}
		return nil
	}
	return fmt.Errorf("attendance call without a name: %q", entry.Body)
}

// itemFromTokens returns the item named by the tokens before the final one
func itemFromTokens(tokens []string) string {
	if len(tokens) < 2 {
		return ""
	}
	return strings.Join(tokens[:len(tokens)-1], " ")
}

func parseAmount(s string) (int, error) {
	amount, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if amount < 0 {
		return 0, fmt.Errorf("negative amount %d", amount)
	}
	return amount, nil
}

func parseCharacterName(s string) (string, error) {
	if !nameRegex.MatchString(s) {
		return "", fmt.Errorf("invalid character name %q", s)
	}
	return domain.NormalizeName(s), nil
}

func extractDkpSpent(entry *domain.LogEntry, tokens []string) error {
	match := spentRegex.FindStringSubmatch(tokens[len(tokens)-1])
	item := itemFromTokens(tokens)
	if match == nil || item == "" {
		return fmt.Errorf("dkp spend not in '::: item ::: name amount DKPSPENT' form: %q", entry.Body)
	}
	character, err := parseCharacterName(match[1])
	if err != nil {
		return err
	}
	amount, err := parseAmount(match[2])
	if err != nil {
		return err
	}
	entry.Data = domain.DkpSpentData{Character: character, Item: item, Amount: amount}
	return nil
}

func extractTransfer(entry *domain.LogEntry, tokens []string) error {
	match := transferRegex.FindStringSubmatch(tokens[len(tokens)-1])
	item := itemFromTokens(tokens)
	if match == nil || item == "" {
		return fmt.Errorf("dkp transfer not in '::: item ::: from to DKPTRANSFER' form: %q", entry.Body)
	}
	from, err := parseCharacterName(match[1])
	if err != nil {
		return err
	}
	to, err := parseCharacterName(match[2])
	if err != nil {
		return err
	}
	entry.Data = domain.DkpTransferData{Item: item, From: from, To: to}
	return nil
}

func extractAuction(entry *domain.LogEntry, tokens []string) error {
	last := tokens[len(tokens)-1]
	item := itemFromTokens(tokens)

	switch {
	case bidsOpenRegex.MatchString(last) && item != "":
		quantity := 1
		if m := quantityRegex.FindStringSubmatch(item); m != nil {
			item = m[1]
			quantity, _ = strconv.Atoi(m[2])
			if quantity < 1 {
				return fmt.Errorf("invalid auction quantity in %q", entry.Body)
			}
		}
		entry.Type = domain.EntryAuctionStart
		entry.Data = domain.AuctionStartData{Item: item, Quantity: quantity}
		return nil

	case bidsEndRegex.MatchString(last) && item != "":
		entry.Type = domain.EntryAuctionEnd
		entry.Data = domain.AuctionEndData{Item: item}
		return nil

	case item != "":
		match := bidRegex.FindStringSubmatch(last)
		if match == nil {
			break
		}
		character, err := parseCharacterName(match[1])
		if err != nil {
			return err
		}
		amount, err := parseAmount(match[2])
		if err != nil {
			return err
		}
		entry.Type = domain.EntryAuctionBid
		entry.Data = domain.AuctionBidData{Item: item, Character: character, Amount: amount}
		return nil
	}

	entry.Type = domain.EntryUnknown
	return nil
}

func extractAfk(entry *domain.LogEntry, tokens []string) error {
	match := afkRegex.FindStringSubmatch(tokens[0])
	if match == nil {
		entry.Type = domain.EntryUnknown
		return nil
	}
	switch strings.ToUpper(match[1]) {
	case "END", "STOP":
		entry.Type = domain.EntryAfkEnd
	default:
		entry.Type = domain.EntryAfkStart
	}

	character := entry.Speaker
	if len(tokens) > 1 {
		name, err := parseCharacterName(tokens[1])
		if err != nil {
			return err
		}
		character = name
	}
	entry.Data = domain.AfkData{Character: domain.NormalizeName(character)}
	return nil
}

func extractCrash(entry *domain.LogEntry, tokens []string) error {
	if !strings.EqualFold(tokens[0], "CRASHED") {
		entry.Type = domain.EntryUnknown
		return nil
	}
	if len(tokens) < 2 {
		return fmt.Errorf("crash report without a character: %q", entry.Body)
	}
	character, err := parseCharacterName(tokens[1])
	if err != nil {
		return err
	}
	entry.Data = domain.CrashData{Character: character}
	return nil
}

func extractCharacter(entry *domain.LogEntry) {
	match := characterRegex.FindStringSubmatch(entry.Message)
	if match == nil {
		entry.Type = domain.EntryUnknown
		return
	}
	flags := strings.ToUpper(match[1])
	pc := domain.PlayerCharacter{
		Name:     domain.NormalizeName(match[4]),
		Class:    strings.TrimSpace(match[3]),
		Race:     match[5],
		Guild:    match[6],
		AFK:      strings.Contains(flags, "AFK"),
		LinkDead: strings.Contains(flags, "LINKDEAD"),
		Source:   domain.SourceWho,
	}
	if match[2] == "" {
		pc.Anonymous = true
	} else {
		pc.Level, _ = strconv.Atoi(match[2])
	}
	entry.Data = pc
}

func extractZonePopulation(entry *domain.LogEntry) {
	if noPlayersRegex.MatchString(entry.Message) {
		entry.Data = domain.ZonePopulationData{}
		return
	}
	match := zonePopulationRegex.FindStringSubmatch(entry.Message)
	if match == nil {
		entry.Type = domain.EntryUnknown
		return
	}
	count, _ := strconv.Atoi(match[1])
	entry.Data = domain.ZonePopulationData{Zone: match[2], Count: count}
}

func extractRaidMembership(entry *domain.LogEntry) {
	if entry.Type == domain.EntryLeftRaid && removedFromRaidRegex.MatchString(entry.Message) {
		entry.Data = domain.RaidMembershipData{Character: "You"}
		return
	}
	re := joinedRaidRegex
	if entry.Type == domain.EntryLeftRaid {
		re = leftRaidRegex
	}
	match := re.FindStringSubmatch(entry.Message)
	if match == nil {
		entry.Type = domain.EntryUnknown
		return
	}
	entry.Data = domain.RaidMembershipData{Character: domain.NormalizeName(match[1])}
}
