package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ernie/raidkeeper/internal/config"
)

const (
	tokenTTL     = 5 * time.Minute
	maxErrorBody = 4096
)

// ErrNoSecret is returned when the client has no API secret to sign with
var ErrNoSecret = errors.New("upload.api_secret is not configured")

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dkp server returned status %d: %s", e.StatusCode, e.Body)
}

// Client posts raids to the DKP server
type Client struct {
	baseURL    string
	secret     []byte
	guild      string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a client from the upload settings. secret overrides
// cfg.APISecret when non-empty.
func NewClient(cfg config.UploadConfig, secret string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if secret == "" {
		secret = cfg.APISecret
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secret:     []byte(secret),
		guild:      cfg.Guild,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// token signs a short-lived bearer token identifying the guild
func (c *Client) token(uploadID string) (string, error) {
	if len(c.secret) == 0 {
		return "", ErrNoSecret
	}
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   c.guild,
		ID:        uploadID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Upload posts the raid and returns the server's id for it
func (c *Client) Upload(ctx context.Context, info *Info) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("upload.base_url is not configured")
	}
	token, err := c.token(info.UploadID)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encoding raid: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/raids", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "raidkeeper")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", info.RaidID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting raid: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("dkp server response has no raid id")
	}

	c.logger.Info("Uploaded raid",
		zap.String("raid", info.Name),
		zap.String("remote_id", result.ID),
		zap.Int("ticks", len(info.Ticks)),
		zap.Int("items", len(info.Items)),
		zap.Duration("duration", time.Since(start)))
	return result.ID, nil
}
