// Package api serves raid history and the live collector over HTTP and WebSocket.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/raidkeeper/internal/auth"
	"github.com/ernie/raidkeeper/internal/domain"
	"github.com/ernie/raidkeeper/internal/storage"
	"github.com/ernie/raidkeeper/internal/upload"
)

// Store is the persistence the API reads from
type Store interface {
	GetRaids(ctx context.Context, limit int) ([]domain.RaidSummary, error)
	GetRaid(ctx context.Context, id int64) (*domain.Raid, error)
	ListCharacters(ctx context.Context) ([]domain.Character, error)
	GetOfficer(ctx context.Context, name string) (*storage.Officer, error)
	UpdateOfficerLastLogin(ctx context.Context, id int64, at time.Time) error
}

// Live is the running log collector
type Live interface {
	Events() <-chan domain.Event
	CurrentLog() string
	Auctions() []domain.Auction
	OpenAuctions() []domain.Auction
	RecentCalls() []domain.AttendanceEntry
	Afk() []domain.AfkEntry
	CurrentRaid() (domain.RaidSummary, error)
}

// Uploader sends stored raids to the DKP server
type Uploader interface {
	Upload(ctx context.Context, raidID int64, force bool) (*upload.Result, error)
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux       *http.ServeMux
	store     Store
	live      Live
	uploader  Uploader
	wsHub     *WebSocketHub
	logStream *LogStreamManager
	auth      *auth.Service
	logger    *zap.Logger
	started   time.Time
	wg        sync.WaitGroup
}

// NewRouter creates a new HTTP router. live and uploader may be nil.
func NewRouter(store Store, live Live, uploader Uploader, authService *auth.Service, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		mux:      http.NewServeMux(),
		store:    store,
		live:     live,
		uploader: uploader,
		wsHub:    NewWebSocketHub(logger),
		auth:     authService,
		logger:   logger,
		started:  time.Now(),
	}
	var source func() string
	if live != nil {
		source = live.CurrentLog
	}
	r.logStream = NewLogStreamManager(source, 0, logger)

	r.mux.HandleFunc("GET /api/raids", r.handleGetRaids)
	r.mux.HandleFunc("GET /api/raids/{id}", r.handleGetRaid)
	r.mux.HandleFunc("POST /api/raids/{id}/upload", r.requireAuth(r.handleUploadRaid))

	r.mux.HandleFunc("GET /api/characters", r.handleGetCharacters)

	r.mux.HandleFunc("GET /api/live/auctions", r.handleLiveAuctions)
	r.mux.HandleFunc("GET /api/live/calls", r.handleLiveCalls)
	r.mux.HandleFunc("GET /api/live/afk", r.handleLiveAfk)
	r.mux.HandleFunc("GET /api/live/raid", r.handleLiveRaid)

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("POST /api/auth/logout", r.handleLogout)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)

	// WebSocket endpoints
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)
	r.mux.HandleFunc("GET /ws/logs", r.handleLogWebSocket)

	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for overlays served from other origins
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// Start runs the WebSocket hub and forwards live events to it
func (r *Router) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.wsHub.Run()
	}()

	if r.live == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for event := range r.live.Events() {
			if event.Type == domain.EventLogSwitched {
				if data, ok := event.Data.(domain.LogSwitchedEvent); ok {
					r.logStream.Switch(data.Path)
				}
			}
			r.wsHub.Broadcast(event)
		}
	}()
}

// Stop closes WebSocket clients and log tailers. The live collector must be
// stopped first so its event channel is closed.
func (r *Router) Stop() {
	r.wsHub.Stop()
	r.logStream.Close()
	r.wg.Wait()
}
