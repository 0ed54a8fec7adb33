package collector

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/raidkeeper/internal/domain"
)

// maxRecentCalls bounds the calls kept for the live view
const maxRecentCalls = 20

// ErrNoLiveRaid is returned when nothing has been recorded since the manager started
var ErrNoLiveRaid = errors.New("no live raid")

// RaidStore persists the live raid as records arrive
type RaidStore interface {
	CreateRaid(ctx context.Context, raid *domain.Raid) error
	AddCall(ctx context.Context, raid *domain.Raid, call *domain.AttendanceEntry) error
	AddSpend(ctx context.Context, raid *domain.Raid, spend *domain.DkpEntry) error
}

// Publisher receives every live event besides the WebSocket feed
type Publisher interface {
	Publish(event domain.Event) error
}

// LiveOptions configures a LiveManager
type LiveOptions struct {
	Parser       Options
	PollInterval time.Duration
	RaidGap      time.Duration // a record this long after the live raid ended starts a new raid
	KillWindow   time.Duration // spends attach to a kill this recent, else to the latest call
	Resume       *domain.Raid  // raid to continue after a restart
}

// LiveManager follows the active EverQuest log, keeps the live raid state
// and broadcasts events as they are parsed
type LiveManager struct {
	opts       LiveOptions
	watcher    *LogWatcher
	store      RaidStore
	publishers []Publisher
	auctions   *AuctionTracker
	logger     *zap.Logger
	events     chan domain.Event

	mu        sync.RWMutex
	ctx       context.Context
	tailer    *LogTailer
	parser    *LogParser
	stopFeed  chan struct{}
	raid      *domain.Raid
	calls     []*domain.AttendanceEntry
	afk       map[string]time.Time
	replaying bool
	liveAfter time.Time // calls stamped at or before this were already handled
	lastLine  time.Time
	lastFedAt time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	feedWg   sync.WaitGroup
}

// NewLiveManager creates a manager. store may be nil to run without persistence.
func NewLiveManager(opts LiveOptions, watcher *LogWatcher, store RaidStore, logger *zap.Logger) *LiveManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RaidGap <= 0 {
		opts.RaidGap = 4 * time.Hour
	}
	if opts.KillWindow <= 0 {
		opts.KillWindow = 30 * time.Minute
	}
	return &LiveManager{
		opts:     opts,
		watcher:  watcher,
		store:    store,
		auctions: NewAuctionTracker(),
		logger:   logger,
		events:   make(chan domain.Event, 100),
		raid:     opts.Resume,
		afk:      make(map[string]time.Time),
		done:     make(chan struct{}),
	}
}

// AddPublisher registers another event sink. Call before Start.
func (m *LiveManager) AddPublisher(p Publisher) {
	m.publishers = append(m.publishers, p)
}

// Events returns the event channel for WebSocket broadcasting
func (m *LiveManager) Events() <-chan domain.Event {
	return m.events
}

// Start selects the active log, replays it to rebuild state and begins tailing
func (m *LiveManager) Start(ctx context.Context) error {
	path, err := m.watcher.Start()
	if err != nil {
		return err
	}
	m.ctx = ctx

	// Lines up to the end of a resumed raid were already persisted
	after := time.Now()
	if m.raid != nil {
		after = m.raid.EndedAt
	}
	if err := m.follow(path, after); err != nil {
		m.watcher.Stop()
		return err
	}

	m.wg.Add(1)
	go m.watchLoop()
	return nil
}

// Stop stops tailing and waits for all goroutines
func (m *LiveManager) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Info("Live manager stopping")
		close(m.done)
		m.watcher.Stop()
		m.wg.Wait()
		m.unfollow()
		close(m.events)
		m.logger.Info("Live manager stopped")
	})
}

// follow replays path from the start and then tails it. Lines stamped after
// the given time are handled live: persisted and broadcast.
func (m *LiveManager) follow(path string, after time.Time) error {
	opts := m.opts.Parser
	opts.Auctions = m.auctions
	if opts.Character == "" {
		opts.Character = CharacterFromLogName(path)
	}
	opts.Source = filepath.Base(path)
	// Older lines cannot affect the current raid
	opts.From = time.Now().Add(-m.opts.RaidGap)
	if m.raid != nil && m.raid.StartedAt.Before(opts.From) {
		opts.From = m.raid.StartedAt
	}

	parser := NewLogParser(opts, m.logger)
	parser.SetListener(m.handleEvent)
	tailer := NewLogTailer(path, m.opts.PollInterval)

	m.mu.Lock()
	m.parser = parser
	m.liveAfter = after
	m.logger.Info("Replaying log", zap.String("path", path), zap.Time("live_after", after))
	err := tailer.ReplayFrom(after, func(line string, replay bool) {
		m.feedLocked(line, replay)
	})
	m.mu.Unlock()
	if err != nil {
		tailer.Stop()
		return err
	}

	if err := tailer.Start(); err != nil {
		tailer.Stop()
		return err
	}

	stop := make(chan struct{})
	m.mu.Lock()
	m.tailer = tailer
	m.stopFeed = stop
	m.mu.Unlock()

	m.feedWg.Add(1)
	go m.feedLoop(tailer, stop)
	return nil
}

// unfollow stops the current tailer and finalizes any pending call
func (m *LiveManager) unfollow() {
	m.mu.Lock()
	tailer, stop := m.tailer, m.stopFeed
	m.tailer, m.stopFeed = nil, nil
	m.mu.Unlock()
	if tailer == nil {
		return
	}

	close(stop)
	m.feedWg.Wait()
	tailer.Stop()

	m.mu.Lock()
	m.parser.Flush()
	m.mu.Unlock()
}

func (m *LiveManager) watchLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case path := <-m.watcher.Changes:
			m.switchTo(path)
		}
	}
}

// switchTo moves to another log, e.g. after the officer changed characters
func (m *LiveManager) switchTo(path string) {
	m.unfollow()

	m.mu.RLock()
	after := m.lastLine
	m.mu.RUnlock()
	if after.IsZero() {
		after = time.Now()
	}

	if err := m.follow(path, after); err != nil {
		m.logger.Error("Failed to follow new log", zap.String("path", path), zap.Error(err))
		return
	}
	m.emit(domain.Event{
		Type:      domain.EventLogSwitched,
		Timestamp: time.Now(),
		Data:      domain.LogSwitchedEvent{Path: path},
	})
}

func (m *LiveManager) feedLoop(tailer *LogTailer, stop chan struct{}) {
	defer m.feedWg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case err := <-tailer.Errors:
			m.logger.Warn("Log tailer error", zap.String("path", tailer.Path()), zap.Error(err))
		case line := <-tailer.Lines:
			m.mu.Lock()
			m.feedLocked(line, false)
			m.mu.Unlock()
		case <-ticker.C:
			m.flushStale()
		}
	}
}

// flushStale finalizes a call whose listing never arrived
func (m *LiveManager) flushStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	window := m.opts.Parser.WhoHeaderWindow
	if window <= 0 {
		window = 3 * time.Second
	}
	if m.parser.Pending() && time.Since(m.lastFedAt) > window {
		m.parser.Flush()
	}
}

// feedLocked passes a line to the parser; m.mu must be held
func (m *LiveManager) feedLocked(line string, replay bool) {
	m.replaying = replay
	if ts, _, err := ParseTimestamp(line); err == nil && ts.After(m.lastLine) {
		m.lastLine = ts
	}
	m.lastFedAt = time.Now()
	m.parser.FeedLine(line)
}

// handleEvent is the parser listener; it runs with m.mu held.
// Replayed events only rebuild in-memory state.
func (m *LiveManager) handleEvent(event domain.Event) {
	replayed := m.replaying
	switch data := event.Data.(type) {
	case domain.AttendanceEvent:
		// The listing that completes a call may arrive after the replay cutoff
		if !data.Call.Timestamp.After(m.liveAfter) {
			replayed = true
		}
		if !replayed {
			m.saveCall(data.Call)
		}
		m.calls = append(m.calls, data.Call)
		if len(m.calls) > maxRecentCalls {
			m.calls = m.calls[len(m.calls)-maxRecentCalls:]
		}

	case domain.DkpSpentEvent:
		if !replayed {
			m.saveSpend(event.Timestamp, data)
		}

	case domain.AfkEvent:
		if event.Type == domain.EventAfkStart {
			m.afk[data.Character] = event.Timestamp
		} else {
			delete(m.afk, data.Character)
		}
	}

	if !replayed {
		m.emit(event)
	}
}

// liveRaid returns the raid a record at ts belongs to, creating one after a gap
func (m *LiveManager) liveRaid(ts time.Time, zone string) *domain.Raid {
	if m.raid != nil && ts.Sub(m.raid.EndedAt) <= m.opts.RaidGap {
		if m.raid.Zone == "" && zone != "" {
			m.raid.Zone = zone
		}
		return m.raid
	}

	name := zone
	if name == "" {
		name = "Raid"
	}
	raid := &domain.Raid{
		Name:      name + " " + ts.Format("2006-01-02"),
		Zone:      zone,
		StartedAt: ts,
		EndedAt:   ts,
	}
	m.calls = nil
	if m.store != nil {
		if err := m.store.CreateRaid(m.ctx, raid); err != nil {
			m.logger.Error("Failed to create live raid", zap.Error(err))
			return nil
		}
	}
	m.logger.Info("Live raid started", zap.String("name", raid.Name), zap.Int64("id", raid.ID))
	m.raid = raid
	return raid
}

func (m *LiveManager) saveCall(call *domain.AttendanceEntry) {
	raid := m.liveRaid(call.Timestamp, call.Zone)
	if raid == nil {
		return
	}
	if m.store == nil {
		raid.Calls = append(raid.Calls, call)
		if call.Timestamp.After(raid.EndedAt) {
			raid.EndedAt = call.Timestamp
		}
		return
	}
	if err := m.store.AddCall(m.ctx, raid, call); err != nil {
		m.logger.Error("Failed to save call", zap.String("call", call.Name), zap.Error(err))
	}
}

func (m *LiveManager) saveSpend(ts time.Time, data domain.DkpSpentEvent) {
	raid := m.liveRaid(ts, "")
	if raid == nil {
		return
	}
	spend := &domain.DkpEntry{
		Timestamp: ts,
		Speaker:   data.Speaker,
		Character: data.Character,
		Item:      data.Item,
		Amount:    data.Amount,
		Call:      m.callFor(raid, ts),
	}
	if m.store == nil {
		raid.Spends = append(raid.Spends, spend)
		if ts.After(raid.EndedAt) {
			raid.EndedAt = ts
		}
		return
	}
	if err := m.store.AddSpend(m.ctx, raid, spend); err != nil {
		m.logger.Error("Failed to save spend", zap.String("item", spend.Item), zap.Error(err))
	}
}

// callFor picks a provisional call for a live spend: the latest kill within
// the kill window, else the latest call. The batch analyzer makes the final
// assignment.
func (m *LiveManager) callFor(raid *domain.Raid, ts time.Time) *domain.AttendanceEntry {
	var latest *domain.AttendanceEntry
	for i := len(raid.Calls) - 1; i >= 0; i-- {
		c := raid.Calls[i]
		if c.Timestamp.After(ts) {
			continue
		}
		if c.CallType == domain.CallKill && ts.Sub(c.Timestamp) <= m.opts.KillWindow {
			return c
		}
		if latest == nil {
			latest = c
		}
	}
	return latest
}

// emit sends an event to the WebSocket channel and all publishers
func (m *LiveManager) emit(event domain.Event) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.events <- event:
	default:
		m.logger.Warn("Event channel full, dropping event", zap.String("event", event.Type))
	}
	for _, p := range m.publishers {
		if err := p.Publish(event); err != nil {
			m.logger.Warn("Failed to publish event", zap.String("event", event.Type), zap.Error(err))
		}
	}
}

// CurrentLog returns the log being tailed
func (m *LiveManager) CurrentLog() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tailer == nil {
		return ""
	}
	return m.tailer.Path()
}

// Auctions returns recently closed auctions followed by open ones
func (m *LiveManager) Auctions() []domain.Auction {
	return m.auctions.All()
}

// OpenAuctions returns the auctions still taking bids
func (m *LiveManager) OpenAuctions() []domain.Auction {
	return m.auctions.Open()
}

// RecentCalls returns copies of the latest calls, newest first
func (m *LiveManager) RecentCalls() []domain.AttendanceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AttendanceEntry, 0, len(m.calls))
	for i := len(m.calls) - 1; i >= 0; i-- {
		c := *m.calls[i]
		c.Players = append([]domain.PlayerCharacter(nil), m.calls[i].Players...)
		out = append(out, c)
	}
	return out
}

// Afk returns the characters currently AFK, sorted by name
func (m *LiveManager) Afk() []domain.AfkEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AfkEntry, 0, len(m.afk))
	for name, since := range m.afk {
		out = append(out, domain.AfkEntry{Character: name, Start: since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Character < out[j].Character })
	return out
}

// CurrentRaid returns a summary of the live raid, or an error if none is running
func (m *LiveManager) CurrentRaid() (domain.RaidSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.raid == nil {
		return domain.RaidSummary{}, ErrNoLiveRaid
	}
	total := 0
	for _, s := range m.raid.Spends {
		total += s.Amount
	}
	return domain.RaidSummary{
		ID:         m.raid.ID,
		UUID:       m.raid.UUID,
		Name:       m.raid.Name,
		Zone:       m.raid.Zone,
		StartedAt:  m.raid.StartedAt,
		EndedAt:    m.raid.EndedAt,
		CallCount:  len(m.raid.Calls),
		SpendCount: len(m.raid.Spends),
		TotalDkp:   total,
	}, nil
}
