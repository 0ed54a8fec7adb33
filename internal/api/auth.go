package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/raidkeeper/internal/auth"
	"github.com/ernie/raidkeeper/internal/storage"
)

type claimsKey struct{}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Officer  string `json:"officer"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	Officer   string    `json:"officer"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Officer == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "officer and password are required")
		return
	}

	officer, err := r.store.GetOfficer(req.Context(), body.Officer)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		officer = nil
	case err != nil:
		r.logger.Error("Officer lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if officer == nil || !auth.CheckPassword(body.Password, officer.PasswordHash) {
		r.logger.Warn("Failed officer login", zap.String("officer", body.Officer), zap.String("ip", getClientIP(req)))
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
		return
	}

	token, err := r.auth.GenerateToken(officer.Name)
	if err != nil {
		r.logger.Error("Signing officer token failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	claims, err := r.auth.ValidateToken(token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	if err := r.store.UpdateOfficerLastLogin(req.Context(), officer.ID, time.Now()); err != nil {
		r.logger.Warn("Recording last login failed", zap.String("officer", officer.Name), zap.Error(err))
	}
	r.logger.Info("Officer logged in", zap.String("officer", officer.Name))

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		Officer:   officer.Name,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

// handleLogout exists for clients that expect it; tokens are stateless and
// simply discarded
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleAuthCheck(w http.ResponseWriter, req *http.Request) {
	claims, ok := r.bearerClaims(req)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"officer":       claims.Officer,
		"expires_at":    claims.ExpiresAt.Time,
	})
}

// requireAuth rejects requests without a valid officer token and passes the
// claims on in the request context
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		claims, ok := r.bearerClaims(req)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="raidkeeper"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, req.WithContext(context.WithValue(req.Context(), claimsKey{}, claims)))
	}
}

// officerClaims returns the claims stored by requireAuth
func officerClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims
}

func (r *Router) bearerClaims(req *http.Request) (*auth.Claims, bool) {
	scheme, token, found := strings.Cut(req.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, false
	}
	claims, err := r.auth.ValidateToken(strings.TrimSpace(token))
	if err != nil {
		return nil, false
	}
	return claims, true
}
