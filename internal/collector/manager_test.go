package collector

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ernie/raidkeeper/internal/domain"
)

type fakeRaidStore struct {
	mu     sync.Mutex
	nextID int64
	raids  []*domain.Raid
	spends []*domain.DkpEntry
}

func (s *fakeRaidStore) CreateRaid(_ context.Context, raid *domain.Raid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	raid.ID = s.nextID
	s.raids = append(s.raids, raid)
	return nil
}

func (s *fakeRaidStore) AddCall(_ context.Context, raid *domain.Raid, call *domain.AttendanceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	call.ID = s.nextID
	raid.Calls = append(raid.Calls, call)
	if call.Timestamp.After(raid.EndedAt) {
		raid.EndedAt = call.Timestamp
	}
	return nil
}

func (s *fakeRaidStore) AddSpend(_ context.Context, raid *domain.Raid, spend *domain.DkpEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raid.Spends = append(raid.Spends, spend)
	s.spends = append(s.spends, spend)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) Publish(e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.Type)
	return nil
}

func stamped(ts time.Time, messages ...string) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(FormatTimestamp(ts) + " " + m + "\n")
	}
	return b.String()
}

func waitForEvent(t *testing.T, events <-chan domain.Event, eventType string) domain.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

func TestLiveManager_ReplayAndLive(t *testing.T) {
	defer goleak.VerifyNone(t)

	now := time.Now().Truncate(time.Second)
	path := filepath.Join(t.TempDir(), "eqlog_Aradune_teek.txt")
	history := stamped(now.Add(-10*time.Minute),
		"Officer tells the raid,  ':::Raid Attendance Taken:::Attendance:::Earlier:::'",
		"Players on EverQuest:",
		"[60 Warrior] Aradune (Human) <Legends>",
		"There is 1 player in Plane of Fear.",
		"Brell tells the raid,  ':::AFK:::'",
		"Officer tells the raid,  '::: Cloak x1 ::: BIDS OPEN'",
	)
	require.NoError(t, os.WriteFile(path, []byte(history), 0644))

	store := &fakeRaidStore{}
	pub := &fakePublisher{}
	m := NewLiveManager(LiveOptions{PollInterval: 10 * time.Millisecond}, NewLogWatcher("", path, nil), store, nil)
	m.AddPublisher(pub)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	// Replayed history rebuilds state without persisting anything
	assert.Equal(t, path, m.CurrentLog())
	require.Len(t, m.RecentCalls(), 1)
	assert.Equal(t, "Earlier", m.RecentCalls()[0].Name)
	require.Len(t, m.Afk(), 1)
	assert.Equal(t, "Brell", m.Afk()[0].Character)
	require.Len(t, m.OpenAuctions(), 1)
	_, err := m.CurrentRaid()
	assert.ErrorIs(t, err, ErrNoLiveRaid)

	appendTo(t, path, stamped(now.Add(time.Second),
		"You tell your raid, ':::Raid Attendance Taken:::Vox:::Kill:::'",
		"Players on EverQuest:",
		"[60 Warrior] Aradune (Human) <Legends>",
		"[60 Cleric] Brell (Dwarf) <Legends>",
		"There are 2 players in Permafrost Keep.",
	))
	e := waitForEvent(t, m.Events(), domain.EventKill)
	call := e.Data.(domain.AttendanceEvent).Call
	assert.Equal(t, "Aradune", call.Speaker)
	assert.Equal(t, []string{"Aradune", "Brell"}, call.Names())

	appendTo(t, path, stamped(now.Add(2*time.Second),
		"Aradune tells the raid,  '::: Cloak ::: Aradune 30 BID'",
		"Officer tells the raid,  '::: Cloak ::: BIDS CLOSED'",
		"Officer tells the raid,  '::: Cloak ::: Aradune 30 DKPSPENT'",
		"Brell tells the raid,  ':::AFK END:::'",
	))
	waitForEvent(t, m.Events(), domain.EventAfkEnd)

	summary, err := m.CurrentRaid()
	require.NoError(t, err)
	assert.Equal(t, "Permafrost Keep "+now.Format("2006-01-02"), summary.Name)
	assert.Equal(t, 1, summary.CallCount)
	assert.Equal(t, 1, summary.SpendCount)
	assert.Equal(t, 30, summary.TotalDkp)

	store.mu.Lock()
	require.Len(t, store.spends, 1)
	assert.Same(t, store.raids[0].Calls[0], store.spends[0].Call)
	store.mu.Unlock()

	assert.Empty(t, m.Afk())
	assert.Empty(t, m.OpenAuctions())
	auctions := m.Auctions()
	require.Len(t, auctions, 1)
	assert.Equal(t, "Aradune", auctions[0].Winners[0].Character)

	pub.mu.Lock()
	assert.Contains(t, pub.events, domain.EventKill)
	assert.Contains(t, pub.events, domain.EventDkpSpent)
	assert.NotContains(t, pub.events, domain.EventAttendance)
	pub.mu.Unlock()
}

func TestLiveManager_ResumeDoesNotResaveCalls(t *testing.T) {
	defer goleak.VerifyNone(t)

	now := time.Now().Truncate(time.Second)
	callAt := now.Add(-10 * time.Minute)
	path := filepath.Join(t.TempDir(), "eqlog_Aradune_teek.txt")
	history := stamped(callAt, "Officer tells the raid,  ':::Raid Attendance Taken:::Attendance:::Vox:::'") +
		stamped(callAt.Add(time.Second),
			"Players on EverQuest:",
			"[60 Warrior] Aradune (Human) <Legends>",
			"There is 1 player in Plane of Fear.",
		)
	require.NoError(t, os.WriteFile(path, []byte(history), 0644))

	stored := &domain.AttendanceEntry{ID: 7, Name: "Vox", Timestamp: callAt}
	resumed := &domain.Raid{ID: 3, Name: "Plane of Fear", StartedAt: callAt, EndedAt: callAt,
		Calls: []*domain.AttendanceEntry{stored}}
	store := &fakeRaidStore{nextID: 100}
	pub := &fakePublisher{}
	m := NewLiveManager(LiveOptions{PollInterval: 10 * time.Millisecond, Resume: resumed}, NewLogWatcher("", path, nil), store, nil)
	m.AddPublisher(pub)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Len(t, m.RecentCalls(), 1)
	assert.Equal(t, "Vox", m.RecentCalls()[0].Name)

	appendTo(t, path, stamped(now,
		"Officer tells the raid,  ':::Raid Attendance Taken:::Attendance:::Later:::'",
		"Players on EverQuest:",
		"[60 Warrior] Aradune (Human) <Legends>",
		"There is 1 player in Plane of Fear.",
	))
	waitForEvent(t, m.Events(), domain.EventAttendance)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, resumed.Calls, 2)
	assert.Equal(t, int64(7), resumed.Calls[0].ID)
	assert.Equal(t, "Later", resumed.Calls[1].Name)

	pub.mu.Lock()
	assert.Equal(t, []string{domain.EventAttendance}, pub.events)
	pub.mu.Unlock()
}

func TestLiveManager_NewRaidAfterGap(t *testing.T) {
	defer goleak.VerifyNone(t)

	now := time.Now().Truncate(time.Second)
	path := filepath.Join(t.TempDir(), "eqlog_Aradune_teek.txt")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	resumed := &domain.Raid{ID: 99, Name: "Plane of Fear", StartedAt: now.Add(-10 * time.Hour), EndedAt: now.Add(-9 * time.Hour)}
	m := NewLiveManager(LiveOptions{PollInterval: 10 * time.Millisecond, Resume: resumed}, NewLogWatcher("", path, nil), nil, nil)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	summary, err := m.CurrentRaid()
	require.NoError(t, err)
	assert.Equal(t, int64(99), summary.ID)

	appendTo(t, path, stamped(now, "Officer tells the raid,  '::: Cloak ::: Brell 30 DKPSPENT'"))
	waitForEvent(t, m.Events(), domain.EventDkpSpent)

	summary, err = m.CurrentRaid()
	require.NoError(t, err)
	assert.Equal(t, "Raid "+now.Format("2006-01-02"), summary.Name)
	assert.Equal(t, 1, summary.SpendCount)
}

func TestLiveManager_StartFails(t *testing.T) {
	m := NewLiveManager(LiveOptions{}, NewLogWatcher(t.TempDir(), "", nil), nil, nil)
	assert.ErrorIs(t, m.Start(context.Background()), ErrNoLogs)
}
