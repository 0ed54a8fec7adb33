package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/raidkeeper/internal/auth"
	"github.com/ernie/raidkeeper/internal/collector"
	"github.com/ernie/raidkeeper/internal/domain"
	"github.com/ernie/raidkeeper/internal/storage"
	"github.com/ernie/raidkeeper/internal/upload"
)

var raidStart = time.Date(2024, 3, 5, 21, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu        sync.Mutex
	officer   *storage.Officer
	lastLogin time.Time
}

func (s *fakeStore) GetRaids(_ context.Context, limit int) ([]domain.RaidSummary, error) {
	raids := []domain.RaidSummary{
		{ID: 2, Name: "Plane of Fear 2024-03-05", StartedAt: raidStart},
		{ID: 1, Name: "Plane of Hate 2024-03-04", StartedAt: raidStart.Add(-24 * time.Hour)},
	}
	if limit < len(raids) {
		raids = raids[:limit]
	}
	return raids, nil
}

func (s *fakeStore) GetRaid(_ context.Context, id int64) (*domain.Raid, error) {
	if id != 2 {
		return nil, storage.ErrNotFound
	}
	return &domain.Raid{ID: 2, Name: "Plane of Fear 2024-03-05", StartedAt: raidStart}, nil
}

func (s *fakeStore) ListCharacters(context.Context) ([]domain.Character, error) {
	return []domain.Character{
		{Name: "Aradune", Class: "Warrior", Account: "Aradune"},
		{Name: "Brell", Class: "Cleric", Account: "Brell"},
		{Name: "Brellalt", Class: "Rogue", Account: "Brell", IsAlt: true},
	}, nil
}

func (s *fakeStore) GetOfficer(_ context.Context, name string) (*storage.Officer, error) {
	if s.officer == nil || !strings.EqualFold(name, s.officer.Name) {
		return nil, storage.ErrNotFound
	}
	return s.officer, nil
}

func (s *fakeStore) UpdateOfficerLastLogin(_ context.Context, _ int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLogin = at
	return nil
}

type fakeLive struct {
	events chan domain.Event
	log    string
	raid   *domain.RaidSummary
}

func (l *fakeLive) Events() <-chan domain.Event { return l.events }
func (l *fakeLive) CurrentLog() string          { return l.log }
func (l *fakeLive) Auctions() []domain.Auction {
	return []domain.Auction{{Item: "Cloak", Quantity: 1}, {Item: "Gloves", Quantity: 1}}
}
func (l *fakeLive) OpenAuctions() []domain.Auction {
	return []domain.Auction{{Item: "Gloves", Quantity: 1}}
}
func (l *fakeLive) RecentCalls() []domain.AttendanceEntry {
	return []domain.AttendanceEntry{
		{CallType: domain.CallKill, Name: "Vox", Timestamp: raidStart.Add(time.Hour)},
		{CallType: domain.CallTime, Name: "Start", Timestamp: raidStart},
	}
}
func (l *fakeLive) Afk() []domain.AfkEntry {
	return []domain.AfkEntry{{Character: "Brell", Start: raidStart}}
}
func (l *fakeLive) CurrentRaid() (domain.RaidSummary, error) {
	if l.raid == nil {
		return domain.RaidSummary{}, collector.ErrNoLiveRaid
	}
	return *l.raid, nil
}

type fakeUploader struct {
	err error
}

func (u *fakeUploader) Upload(_ context.Context, raidID int64, force bool) (*upload.Result, error) {
	if u.err != nil {
		return nil, u.err
	}
	if raidID != 2 {
		return nil, storage.ErrNotFound
	}
	return &upload.Result{RemoteID: "remote-9", Info: &upload.Info{Items: make([]upload.Item, 3)}}, nil
}

type testEnv struct {
	router *Router
	server *httptest.Server
	store  *fakeStore
	live   *fakeLive
	auth   *auth.Service
}

func newTestEnv(t *testing.T, uploader Uploader) *testEnv {
	t.Helper()
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)

	env := &testEnv{
		store: &fakeStore{officer: &storage.Officer{ID: 1, Name: "Tunare", PasswordHash: hash}},
		live:  &fakeLive{events: make(chan domain.Event, 8)},
		auth:  auth.NewService("test-secret", time.Hour),
	}
	env.router = NewRouter(env.store, env.live, uploader, env.auth, nil)
	env.router.Start()
	env.server = httptest.NewServer(env.router)
	t.Cleanup(func() {
		env.server.Close()
		close(env.live.events)
		env.router.Stop()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	} else {
		out = map[string]any{"list": raw}
	}
	return resp, out
}

func decodeList[T any](t *testing.T, body map[string]any) []T {
	t.Helper()
	var items []T
	require.NoError(t, json.Unmarshal(body["list"].(json.RawMessage), &items))
	return items
}

func TestRouter_Raids(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/raids?limit=1", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raids := decodeList[domain.RaidSummary](t, body)
	require.Len(t, raids, 1)
	assert.Equal(t, int64(2), raids[0].ID)

	resp, body = env.do(t, http.MethodGet, "/api/raids/2", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Plane of Fear 2024-03-05", body["name"])

	resp, _ = env.do(t, http.MethodGet, "/api/raids/5", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/raids/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_Characters(t *testing.T) {
	env := newTestEnv(t, nil)

	_, body := env.do(t, http.MethodGet, "/api/characters", "", "")
	assert.Len(t, decodeList[domain.Character](t, body), 3)

	_, body = env.do(t, http.MethodGet, "/api/characters?account=brell", "", "")
	chars := decodeList[domain.Character](t, body)
	require.Len(t, chars, 2)
	assert.Equal(t, "Brellalt", chars[1].Name)

	resp, _ := env.do(t, http.MethodGet, "/api/characters?account=x1", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_Live(t *testing.T) {
	env := newTestEnv(t, nil)

	_, body := env.do(t, http.MethodGet, "/api/live/auctions", "", "")
	assert.Len(t, decodeList[domain.Auction](t, body), 1)
	_, body = env.do(t, http.MethodGet, "/api/live/auctions?all=true", "", "")
	assert.Len(t, decodeList[domain.Auction](t, body), 2)

	_, body = env.do(t, http.MethodGet, "/api/live/calls?limit=1", "", "")
	calls := decodeList[domain.AttendanceEntry](t, body)
	require.Len(t, calls, 1)
	assert.Equal(t, "Vox", calls[0].Name)

	_, body = env.do(t, http.MethodGet, "/api/live/afk", "", "")
	assert.Equal(t, "Brell", decodeList[domain.AfkEntry](t, body)[0].Character)

	resp, _ := env.do(t, http.MethodGet, "/api/live/raid", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.live.raid = &domain.RaidSummary{ID: 3, Name: "Raid 2024-03-05"}
	resp, body = env.do(t, http.MethodGet, "/api/live/raid", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Raid 2024-03-05", body["name"])
}

func TestRouter_NoLiveCollector(t *testing.T) {
	r := NewRouter(&fakeStore{}, nil, nil, auth.NewService("s", time.Hour), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/live/calls", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_LoginAndUpload(t *testing.T) {
	env := newTestEnv(t, &fakeUploader{})

	resp, _ := env.do(t, http.MethodPost, "/api/raids/2/upload", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/auth/login", "", `{"officer":"tunare","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/auth/login", "", `{"officer":"tunare"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/auth/login", "", `{"officer":"tunare","password":"hunter2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Tunare", body["officer"])
	token := body["token"].(string)
	env.store.mu.Lock()
	assert.False(t, env.store.lastLogin.IsZero())
	env.store.mu.Unlock()

	_, body = env.do(t, http.MethodGet, "/api/auth/check", token, "")
	assert.Equal(t, true, body["authenticated"])
	_, body = env.do(t, http.MethodGet, "/api/auth/check", "", "")
	assert.Equal(t, false, body["authenticated"])

	resp, body = env.do(t, http.MethodPost, "/api/raids/2/upload", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "remote-9", body["remote_id"])
	assert.Equal(t, float64(3), body["items"])

	resp, _ = env.do(t, http.MethodPost, "/api/raids/4/upload", token, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_UploadErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"already uploaded", upload.ErrAlreadyUploaded, http.StatusConflict},
		{"rejected", &upload.StatusError{StatusCode: 422, Body: "bad tick"}, http.StatusBadGateway},
		{"network", errors.New("connection refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeUploader{err: tt.err})
			token, err := env.auth.GenerateToken("Tunare")
			require.NoError(t, err)
			resp, _ := env.do(t, http.MethodPost, "/api/raids/2/upload", token, "")
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t, nil)
	env.live.log = "/eq/Logs/eqlog_Aradune_teek.txt"
	resp, body := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, env.live.log, body["log_file"])
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func TestRouter_WebSocketEvents(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server, "/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.router.wsHub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.live.events <- domain.Event{
		Type:      domain.EventDkpSpent,
		Timestamp: raidStart,
		Data:      domain.DkpSpentEvent{Character: "Brell", Item: "Cloak", Amount: 30},
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var got struct {
		Event string               `json:"event"`
		Data  domain.DkpSpentEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, domain.EventDkpSpent, got.Event)
	assert.Equal(t, 30, got.Data.Amount)
}

func TestRouter_WebSocketTypeFilter(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server, "/ws?types="+domain.EventAuctionBid), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.router.wsHub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	readType := func() string {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var got struct {
			Event string `json:"event"`
		}
		require.NoError(t, json.Unmarshal(msg, &got))
		return got.Event
	}

	env.live.events <- domain.Event{Type: domain.EventDkpSpent, Timestamp: raidStart, Data: domain.DkpSpentEvent{Character: "Brell", Item: "Cloak", Amount: 30}}
	env.live.events <- domain.Event{Type: domain.EventAuctionBid, Timestamp: raidStart, Data: domain.AuctionEvent{}}
	assert.Equal(t, domain.EventAuctionBid, readType())

	require.NoError(t, conn.WriteJSON(map[string][]string{"types": {domain.EventDkpSpent}}))
	require.Eventually(t, func() bool {
		hub := env.router.wsHub
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return c.wants(domain.EventDkpSpent) && !c.wants(domain.EventAuctionBid)
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	env.live.events <- domain.Event{Type: domain.EventAuctionBid, Timestamp: raidStart, Data: domain.AuctionEvent{}}
	env.live.events <- domain.Event{Type: domain.EventDkpSpent, Timestamp: raidStart, Data: domain.DkpSpentEvent{Character: "Brell", Item: "Cloak", Amount: 30}}
	assert.Equal(t, domain.EventDkpSpent, readType())
}

func TestRouter_LogWebSocket(t *testing.T) {
	env := newTestEnv(t, nil)

	path := filepath.Join(t.TempDir(), "eqlog_Aradune_teek.txt")
	var initial strings.Builder
	for i := 0; i < 250; i++ {
		initial.WriteString("[Tue Mar 05 21:00:00 2024] line\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(initial.String()), 0644))
	env.live.log = path

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(env.server, "/ws/logs"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := env.auth.GenerateToken("Tunare")
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server, "/ws/logs?token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg LogMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "initial", msg.Type)
	assert.Equal(t, path, msg.Path)
	assert.Len(t, msg.Lines, initialLogLines)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("[Tue Mar 05 21:00:05 2024] fresh\n")
	require.NoError(t, err)
	f.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "lines", msg.Type)
	assert.Equal(t, []string{"[Tue Mar 05 21:00:05 2024] fresh"}, msg.Lines)
}
