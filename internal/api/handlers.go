package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/raidkeeper/internal/auth"
	"github.com/ernie/raidkeeper/internal/collector"
	"github.com/ernie/raidkeeper/internal/domain"
	"github.com/ernie/raidkeeper/internal/storage"
	"github.com/ernie/raidkeeper/internal/upload"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleGetRaids returns recent raids, newest first
func (r *Router) handleGetRaids(w http.ResponseWriter, req *http.Request) {
	raids, err := r.store.GetRaids(req.Context(), parseLimit(req, 20, 200))
	if err != nil {
		r.logger.Error("Listing raids failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list raids")
		return
	}
	if raids == nil {
		raids = []domain.RaidSummary{}
	}
	writeJSON(w, http.StatusOK, raids)
}

// handleGetRaid returns one raid with its calls, spends and anomalies
func (r *Router) handleGetRaid(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid raid id")
		return
	}

	raid, err := r.store.GetRaid(req.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "raid not found")
		return
	}
	if err != nil {
		r.logger.Error("Loading raid failed", zap.Int64("raid", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load raid")
		return
	}
	writeJSON(w, http.StatusOK, raid)
}

// handleUploadRaid sends a stored raid to the DKP server
func (r *Router) handleUploadRaid(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid raid id")
		return
	}
	if r.uploader == nil {
		writeError(w, http.StatusServiceUnavailable, "uploading is not configured")
		return
	}

	claims := officerClaims(req.Context())
	res, err := r.uploader.Upload(req.Context(), id, parseBool(req, "force"))
	var statusErr *upload.StatusError
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "raid not found")
		return
	case errors.Is(err, upload.ErrAlreadyUploaded):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.As(err, &statusErr):
		r.logger.Warn("DKP server rejected upload", zap.Int64("raid", id),
			zap.Int("status", statusErr.StatusCode), zap.String("body", statusErr.Body))
		writeError(w, http.StatusBadGateway, statusErr.Error())
		return
	default:
		r.logger.Error("Upload failed", zap.Int64("raid", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	r.logger.Info("Raid uploaded",
		zap.Int64("raid", id),
		zap.String("remote_id", res.RemoteID),
		zap.String("officer", officerName(claims)))
	r.wsHub.Broadcast(domain.Event{
		Type:      domain.EventRaidUploaded,
		Timestamp: time.Now(),
		Data:      domain.RaidUploadedEvent{RaidID: id, RemoteID: res.RemoteID},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"raid_id":   id,
		"remote_id": res.RemoteID,
		"items":     len(res.Info.Items),
		"ticks":     len(res.Info.Ticks),
	})
}

// handleGetCharacters returns the roster, optionally filtered by account
func (r *Router) handleGetCharacters(w http.ResponseWriter, req *http.Request) {
	chars, err := r.store.ListCharacters(req.Context())
	if err != nil {
		r.logger.Error("Listing characters failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list characters")
		return
	}

	account := req.URL.Query().Get("account")
	if account != "" {
		if !validateCharacterName(account) {
			writeError(w, http.StatusBadRequest, "invalid account name")
			return
		}
		filtered := chars[:0]
		for _, c := range chars {
			if strings.EqualFold(c.Account, account) {
				filtered = append(filtered, c)
			}
		}
		chars = filtered
	}
	if chars == nil {
		chars = []domain.Character{}
	}
	writeJSON(w, http.StatusOK, chars)
}

// handleLiveAuctions returns open auctions, or all tracked ones with ?all=true
func (r *Router) handleLiveAuctions(w http.ResponseWriter, req *http.Request) {
	if !r.requireLive(w) {
		return
	}
	if parseBool(req, "all") {
		writeJSON(w, http.StatusOK, r.live.Auctions())
		return
	}
	writeJSON(w, http.StatusOK, r.live.OpenAuctions())
}

// handleLiveCalls returns the most recent attendance and kill calls
func (r *Router) handleLiveCalls(w http.ResponseWriter, req *http.Request) {
	if !r.requireLive(w) {
		return
	}
	calls := r.live.RecentCalls()
	if limit := parseLimit(req, len(calls), len(calls)); limit < len(calls) {
		calls = calls[:limit]
	}
	writeJSON(w, http.StatusOK, calls)
}

// handleLiveAfk returns characters currently flagged AFK
func (r *Router) handleLiveAfk(w http.ResponseWriter, req *http.Request) {
	if !r.requireLive(w) {
		return
	}
	writeJSON(w, http.StatusOK, r.live.Afk())
}

// handleLiveRaid returns the raid the collector is currently recording
func (r *Router) handleLiveRaid(w http.ResponseWriter, req *http.Request) {
	if !r.requireLive(w) {
		return
	}
	summary, err := r.live.CurrentRaid()
	if errors.Is(err, collector.ErrNoLiveRaid) {
		writeError(w, http.StatusNotFound, "no raid in progress")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (r *Router) requireLive(w http.ResponseWriter) bool {
	if r.live == nil {
		writeError(w, http.StatusServiceUnavailable, "live collector is not running")
		return false
	}
	return true
}

// handleHealth returns server health status
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	resp := map[string]any{
		"status":     "ok",
		"uptime":     time.Since(r.started).Round(time.Second).String(),
		"ws_clients": r.wsHub.ClientCount(),
	}
	if r.live != nil {
		resp["log_file"] = r.live.CurrentLog()
	}
	writeJSON(w, http.StatusOK, resp)
}

func officerName(claims *auth.Claims) string {
	if claims == nil {
		return ""
	}
	return claims.Officer
}
