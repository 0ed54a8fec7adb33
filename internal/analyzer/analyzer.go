// Package analyzer reconciles parsed attendance calls, AFK windows, crashes
// and DKP spends into raids and flags anything an officer should review.
package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/ernie/raidkeeper/internal/collector"
	"github.com/ernie/raidkeeper/internal/config"
	"github.com/ernie/raidkeeper/internal/domain"
)

// Settings holds the reconciliation thresholds
type Settings struct {
	KillWindow       time.Duration
	TimeCallWindow   time.Duration
	CrashLeaveWindow time.Duration
	ZealMatchWindow  time.Duration
	RaidGap          time.Duration
	TypoDistance     int
	Zones            []string
	Bosses           []string
}

// SettingsFromConfig converts the analysis configuration
func SettingsFromConfig(cfg config.AnalysisConfig) Settings {
	return Settings{
		KillWindow:       cfg.KillWindow,
		TimeCallWindow:   cfg.TimeCallWindow,
		CrashLeaveWindow: cfg.CrashLeaveWindow,
		ZealMatchWindow:  cfg.ZealMatchWindow,
		RaidGap:          cfg.RaidGap,
		TypoDistance:     cfg.TypoDistance,
		Zones:            cfg.ZoneNames(),
		Bosses:           cfg.Bosses(),
	}
}

// Input is everything a reconciliation pass looks at
type Input struct {
	Parse  *collector.ParseResult
	Zeal   []*domain.ZealRoster
	Roster domain.Roster
}

// AfkRemoval records a character dropped from a call for being AFK
type AfkRemoval struct {
	Character string    `json:"character"`
	Call      string    `json:"call"`
	CallTime  time.Time `json:"call_time"`
}

// CrashCredit records a character credited to a call after crashing
type CrashCredit struct {
	Character string    `json:"character"`
	Call      string    `json:"call"`
	CallTime  time.Time `json:"call_time"`
	LeftAt    time.Time `json:"left_at"`
	Reported  bool      `json:"reported"` // an officer reported the crash; otherwise the character rejoined
}

// Result is the outcome of a reconciliation pass
type Result struct {
	Raids        []*domain.Raid            `json:"raids"`
	Calls        []*domain.AttendanceEntry `json:"calls"`
	Spends       []*domain.DkpEntry        `json:"spends"`
	Unassigned   []*domain.DkpEntry        `json:"unassigned,omitempty"`
	Anomalies    []domain.Anomaly          `json:"anomalies"`
	AfkRemovals  []AfkRemoval              `json:"afk_removals,omitempty"`
	CrashCredits []CrashCredit             `json:"crash_credits,omitempty"`
}

// Analyzer runs reconciliation passes
type Analyzer struct {
	settings Settings
	logger   *zap.Logger
}

// New creates an analyzer
func New(settings Settings, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{settings: settings, logger: logger}
}

// pass holds the working state of one Analyze call
type pass struct {
	settings  Settings
	in        Input
	calls     []*domain.AttendanceEntry
	spends    []*domain.DkpEntry
	result    *Result
	attendees map[string]bool
}

// Analyze reconciles a parse result. The input records are not modified.
func (a *Analyzer) Analyze(in Input) *Result {
	if in.Parse == nil {
		in.Parse = &collector.ParseResult{}
	}
	if in.Roster == nil {
		in.Roster = domain.Roster{}
	}

	p := &pass{
		settings: a.settings,
		in:       in,
		calls:    cloneCalls(in.Parse.Calls),
		spends:   cloneSpends(in.Parse.Spends),
		result:   &Result{},
	}
	p.result.Anomalies = append(p.result.Anomalies, in.Parse.Anomalies...)

	// Listing counts are checked before other sources add characters; a
	// missing listing is only reported if no other source filled the call
	missing := make(map[*domain.AttendanceEntry]domain.Anomaly)
	for _, call := range p.calls {
		for _, a := range collector.CallAnomalies(call) {
			if a.Kind == domain.AnomalyMissingPopulation {
				missing[call] = a
				continue
			}
			p.anomaly(a)
		}
	}

	p.mergeZeal()
	for _, call := range p.calls {
		if a, ok := missing[call]; ok && len(call.Players) == 0 {
			p.anomaly(a)
		}
	}
	p.creditCrashes()
	p.removeAfk()
	p.applyTransfers()
	p.assignSpends()
	p.groupRaids()
	p.checkSpends()
	p.checkCalls()
	p.attachAnomalies()

	p.result.Calls = p.calls
	p.result.Spends = p.spends

	a.logger.Info("Reconciliation complete",
		zap.Int("raids", len(p.result.Raids)),
		zap.Int("calls", len(p.calls)),
		zap.Int("spends", len(p.spends)),
		zap.Int("anomalies", len(p.result.Anomalies)),
		zap.Int("afk_removals", len(p.result.AfkRemovals)),
		zap.Int("crash_credits", len(p.result.CrashCredits)))
	return p.result
}

func (p *pass) anomaly(a domain.Anomaly) {
	p.result.Anomalies = append(p.result.Anomalies, a)
}

// mergeZeal adds Zeal roster members to the nearest call within the match window
func (p *pass) mergeZeal() {
	for _, roster := range p.in.Zeal {
		call := nearestCall(p.calls, roster.Timestamp, p.settings.ZealMatchWindow)
		if call == nil {
			p.anomaly(domain.Anomaly{
				Kind:      domain.AnomalyZealUnmatched,
				Timestamp: roster.Timestamp,
				Message:   fmt.Sprintf("zeal roster %s matches no call within %s", roster.Path, p.settings.ZealMatchWindow),
			})
			continue
		}
		for _, m := range roster.Members {
			m.Source = domain.SourceZeal
			call.Add(m)
		}
	}
}

// creditCrashes credits characters who dropped out of the raid shortly before
// a call and either were reported crashed or came back
func (p *pass) creditCrashes() {
	window := p.settings.CrashLeaveWindow
	memberships := p.in.Parse.Memberships

	for _, call := range p.calls {
		for _, left := range memberships {
			if left.Joined || call.Has(left.Character) {
				continue
			}
			if left.Timestamp.Before(call.Timestamp.Add(-window)) || left.Timestamp.After(call.Timestamp) {
				continue
			}

			reported := false
			for _, crash := range p.in.Parse.Crashes {
				if crash.Character == left.Character &&
					!crash.Timestamp.Before(left.Timestamp) &&
					!crash.Timestamp.After(call.Timestamp.Add(window)) {
					reported = true
					break
				}
			}
			rejoined := false
			if !reported {
				for _, joined := range memberships {
					if joined.Joined && joined.Character == left.Character &&
						joined.Timestamp.After(left.Timestamp) &&
						!joined.Timestamp.After(left.Timestamp.Add(window)) {
						rejoined = true
						break
					}
				}
			}
			if !reported && !rejoined {
				continue
			}

			if call.Add(domain.PlayerCharacter{Name: left.Character, Source: domain.SourceCrashed}) {
				p.result.CrashCredits = append(p.result.CrashCredits, CrashCredit{
					Character: left.Character,
					Call:      call.Name,
					CallTime:  call.Timestamp,
					LeftAt:    left.Timestamp,
					Reported:  reported,
				})
			}
		}
	}
}

// removeAfk drops characters from calls taken during their AFK windows
func (p *pass) removeAfk() {
	for _, afk := range p.in.Parse.Afk {
		if afk.Open() {
			p.anomaly(domain.Anomaly{
				Kind:      domain.AnomalyAfkUnterminated,
				Timestamp: afk.Start,
				Character: afk.Character,
				Message:   fmt.Sprintf("%s went AFK and never returned before the log ended", afk.Character),
			})
		}
		for _, call := range p.calls {
			if !afk.Covers(call.Timestamp) {
				continue
			}
			if call.Remove(afk.Character) {
				p.result.AfkRemovals = append(p.result.AfkRemovals, AfkRemoval{
					Character: afk.Character,
					Call:      call.Name,
					CallTime:  call.Timestamp,
				})
			}
		}
	}
}

// applyTransfers moves spends to the receiving character
func (p *pass) applyTransfers() {
	for _, t := range p.in.Parse.Transfers {
		var target *domain.DkpEntry
		for _, s := range p.spends {
			if s.Timestamp.After(t.Timestamp) {
				continue
			}
			if s.Character != t.From || domain.NormalizeItem(s.Item) != domain.NormalizeItem(t.Item) {
				continue
			}
			if target == nil || !s.Timestamp.Before(target.Timestamp) {
				target = s
			}
		}
		if target == nil {
			p.anomaly(domain.Anomaly{
				Kind:      domain.AnomalyTransferUnmatched,
				Timestamp: t.Timestamp,
				Character: t.From,
				Item:      t.Item,
				Message:   fmt.Sprintf("transfer of %s from %s to %s has no earlier spend", t.Item, t.From, t.To),
			})
			continue
		}
		target.TransferredFrom = target.Character
		target.Character = t.To
	}
}

// assignSpends associates every spend with the call it belongs to
func (p *pass) assignSpends() {
	for _, s := range p.spends {
		if call := p.killBefore(s.Timestamp); call != nil {
			s.Call = call
			continue
		}
		if call := p.timeCallAfter(s.Timestamp); call != nil {
			s.Call = call
			continue
		}

		nearest := nearestCall(p.calls, s.Timestamp, 0)
		if nearest == nil {
			p.result.Unassigned = append(p.result.Unassigned, s)
			p.anomaly(domain.Anomaly{
				Kind:      domain.AnomalyUnassignedDkp,
				Timestamp: s.Timestamp,
				Character: s.Character,
				Item:      s.Item,
				Message:   fmt.Sprintf("%s spent %d on %s but there are no attendance calls", s.Character, s.Amount, s.Item),
			})
			continue
		}
		s.Call = nearest
		p.anomaly(domain.Anomaly{
			Kind:      domain.AnomalyUnassignedDkp,
			Timestamp: s.Timestamp,
			Character: s.Character,
			Item:      s.Item,
			Message: fmt.Sprintf("%s spent %d on %s with no kill or time call in range; assigned to %q",
				s.Character, s.Amount, s.Item, nearest.Name),
		})
	}
}

// killBefore returns the latest kill call at or before ts within the kill window
func (p *pass) killBefore(ts time.Time) *domain.AttendanceEntry {
	var best *domain.AttendanceEntry
	for _, c := range p.calls {
		if c.CallType != domain.CallKill || c.Timestamp.After(ts) {
			continue
		}
		if ts.Sub(c.Timestamp) > p.settings.KillWindow {
			continue
		}
		if best == nil || !c.Timestamp.Before(best.Timestamp) {
			best = c
		}
	}
	return best
}

// timeCallAfter returns the earliest time call at or after ts within the time call window
func (p *pass) timeCallAfter(ts time.Time) *domain.AttendanceEntry {
	var best *domain.AttendanceEntry
	for _, c := range p.calls {
		if c.CallType != domain.CallTime || c.Timestamp.Before(ts) {
			continue
		}
		if c.Timestamp.Sub(ts) > p.settings.TimeCallWindow {
			continue
		}
		if best == nil || c.Timestamp.Before(best.Timestamp) {
			best = c
		}
	}
	return best
}

// groupRaids splits calls into raids at gaps longer than the raid gap
func (p *pass) groupRaids() {
	var current *domain.Raid
	var last time.Time
	byCall := make(map[*domain.AttendanceEntry]*domain.Raid)

	for _, call := range p.calls {
		if current == nil || call.Timestamp.Sub(last) > p.settings.RaidGap {
			current = &domain.Raid{StartedAt: call.Timestamp, EndedAt: call.Timestamp}
			p.result.Raids = append(p.result.Raids, current)
		}
		current.Calls = append(current.Calls, call)
		if current.Zone == "" {
			current.Zone = call.Zone
		}
		current.EndedAt = call.Timestamp
		last = call.Timestamp
		byCall[call] = current
	}

	for _, s := range p.spends {
		raid, ok := byCall[s.Call]
		if !ok {
			continue
		}
		raid.Spends = append(raid.Spends, s)
		if s.Timestamp.After(raid.EndedAt) {
			raid.EndedAt = s.Timestamp
		}
	}

	for _, raid := range p.result.Raids {
		zone := raid.Zone
		if zone == "" {
			zone = "Raid"
		}
		raid.Name = zone + " " + raid.StartedAt.Format("2006-01-02")
	}
}

// checkSpends flags suspicious spends
func (p *pass) checkSpends() {
	p.attendees = make(map[string]bool)
	for _, c := range p.calls {
		for _, pc := range c.Players {
			p.attendees[pc.Name] = true
		}
	}

	for _, s := range p.spends {
		if s.Amount == 0 {
			p.anomaly(domain.Anomaly{
				Kind:      domain.AnomalyZeroDkp,
				Timestamp: s.Timestamp,
				Character: s.Character,
				Item:      s.Item,
				Message:   fmt.Sprintf("%s was awarded %s for 0 DKP", s.Character, s.Item),
			})
		}

		_, inRoster := p.in.Roster.Lookup(s.Character)
		known := inRoster || p.attendees[s.Character]
		switch {
		case !known:
			a := domain.Anomaly{
				Kind:      domain.AnomalyUnknownCharacter,
				Timestamp: s.Timestamp,
				Character: s.Character,
				Item:      s.Item,
				Message:   fmt.Sprintf("%s is not in the roster or any call", s.Character),
			}
			if suggestion := p.suggest(s.Character); suggestion != "" {
				a.Suggestion = suggestion
				a.Message += fmt.Sprintf("; did you mean %s?", suggestion)
			}
			p.anomaly(a)
		case s.Call != nil && !s.Call.Has(s.Character):
			p.anomaly(domain.Anomaly{
				Kind:      domain.AnomalyNotInAttendance,
				Timestamp: s.Timestamp,
				Character: s.Character,
				Item:      s.Item,
				Message:   fmt.Sprintf("%s bought %s but is not in call %q", s.Character, s.Item, s.Call.Name),
			})
		}
	}

	for _, raid := range p.result.Raids {
		seen := make(map[string]int)
		for _, s := range raid.Spends {
			key := s.Character + "|" + domain.NormalizeItem(s.Item) + "|" + fmt.Sprint(s.Amount)
			seen[key]++
			if seen[key] == 2 {
				p.anomaly(domain.Anomaly{
					Kind:      domain.AnomalyPossibleDuplicate,
					Timestamp: s.Timestamp,
					Character: s.Character,
					Item:      s.Item,
					Message:   fmt.Sprintf("%s bought %s for %d more than once in %s", s.Character, s.Item, s.Amount, raid.Name),
				})
			}
		}
	}
}

// suggest returns the closest known name within the typo distance
func (p *pass) suggest(name string) string {
	candidates := p.in.Roster.Names()
	for n := range p.attendees {
		candidates = append(candidates, n)
	}
	sort.Strings(candidates)

	best := ""
	bestDist := p.settings.TypoDistance + 1
	lower := strings.ToLower(name)
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(lower, strings.ToLower(c))
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// checkCalls flags calls in unexpected zones, unknown bosses and multiboxed accounts
func (p *pass) checkCalls() {
	for _, call := range p.calls {
		if len(p.settings.Zones) > 0 && call.Zone != "" && !containsFold(p.settings.Zones, call.Zone) {
			p.anomaly(domain.Anomaly{
				Kind:      domain.AnomalyInvalidZone,
				Timestamp: call.Timestamp,
				Message:   fmt.Sprintf("call %q was taken in %s, which is not a raid zone", call.Name, call.Zone),
			})
		}
		if call.CallType == domain.CallKill && len(p.settings.Bosses) > 0 && !containsFold(p.settings.Bosses, call.Name) {
			a := domain.Anomaly{
				Kind:      domain.AnomalyUnknownBoss,
				Timestamp: call.Timestamp,
				Message:   fmt.Sprintf("kill call for unknown boss %q", call.Name),
			}
			if s := closestFold(p.settings.Bosses, call.Name, p.settings.TypoDistance); s != "" {
				a.Suggestion = s
			}
			p.anomaly(a)
		}

		accounts := make(map[string][]string)
		for _, pc := range call.Players {
			account := p.in.Roster.AccountOf(pc.Name)
			accounts[account] = append(accounts[account], pc.Name)
		}
		for _, account := range sortedKeys(accounts) {
			names := accounts[account]
			if len(names) < 2 {
				continue
			}
			sort.Strings(names)
			p.anomaly(domain.Anomaly{
				Kind:      domain.AnomalyMultipleCharacters,
				Timestamp: call.Timestamp,
				Character: account,
				Message: fmt.Sprintf("account %s has %d characters in call %q: %s",
					account, len(names), call.Name, strings.Join(names, ", ")),
			})
		}
	}
}

// attachAnomalies sorts anomalies and files each under the raid it falls in
func (p *pass) attachAnomalies() {
	sort.SliceStable(p.result.Anomalies, func(i, j int) bool {
		return p.result.Anomalies[i].Timestamp.Before(p.result.Anomalies[j].Timestamp)
	})
	for _, a := range p.result.Anomalies {
		if raid := p.raidAt(a.Timestamp); raid != nil {
			raid.Anomalies = append(raid.Anomalies, a)
		}
	}
}

// raidAt returns the raid whose span, widened by the association windows, covers ts;
// otherwise the closest raid
func (p *pass) raidAt(ts time.Time) *domain.Raid {
	var closest *domain.Raid
	var closestGap time.Duration
	for _, raid := range p.result.Raids {
		from := raid.StartedAt.Add(-p.settings.TimeCallWindow)
		to := raid.EndedAt.Add(p.settings.KillWindow)
		if !ts.Before(from) && !ts.After(to) {
			return raid
		}
		gap := absDuration(ts.Sub(raid.StartedAt))
		if g := absDuration(ts.Sub(raid.EndedAt)); g < gap {
			gap = g
		}
		if closest == nil || gap < closestGap {
			closest, closestGap = raid, gap
		}
	}
	return closest
}

// nearestCall returns the call closest to ts; a positive window bounds the distance
func nearestCall(calls []*domain.AttendanceEntry, ts time.Time, window time.Duration) *domain.AttendanceEntry {
	var best *domain.AttendanceEntry
	var bestGap time.Duration
	for _, c := range calls {
		gap := absDuration(c.Timestamp.Sub(ts))
		if window > 0 && gap > window {
			continue
		}
		if best == nil || gap < bestGap {
			best, bestGap = c, gap
		}
	}
	return best
}

func cloneCalls(calls []*domain.AttendanceEntry) []*domain.AttendanceEntry {
	out := make([]*domain.AttendanceEntry, 0, len(calls))
	for _, c := range calls {
		cp := *c
		cp.Players = append([]domain.PlayerCharacter(nil), c.Players...)
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func cloneSpends(spends []*domain.DkpEntry) []*domain.DkpEntry {
	out := make([]*domain.DkpEntry, 0, len(spends))
	for _, s := range spends {
		cp := *s
		cp.Call = nil
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func closestFold(list []string, s string, maxDist int) string {
	best := ""
	bestDist := maxDist + 1
	for _, v := range list {
		d := levenshtein.ComputeDistance(strings.ToLower(v), strings.ToLower(s))
		if d < bestDist {
			best, bestDist = v, d
		}
	}
	return best
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
