// Package fitness talks to the third-party fitness provider's API.
package fitness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client is a fitness provider API client
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	logger       *slog.Logger
}

// Options configure a Client
type Options struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// NewClient creates a new provider API client
func NewClient(opts Options) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      opts.BaseURL,
		tokenURL:     opts.TokenURL,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		logger:       slog.Default(),
	}
}

// TokenResponse represents the response from a token exchange or refresh
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	Athlete      struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
}

// Activity is a provider activity record
type Activity struct {
	ID             int64     `json:"id"`
	AthleteID      int64     `json:"athlete_id"`
	Name           string    `json:"name"`
	SportType      string    `json:"sport_type"`
	StartAt        time.Time `json:"start_date"`
	DistanceMeters float64   `json:"distance"`
	ElapsedSec     int64     `json:"elapsed_time"`
	URL            string    `json:"url"`

	// Raw is the verbatim provider payload, cached for later display
	Raw json.RawMessage `json:"-"`
}

// DistanceKm returns the activity distance in kilometers, nil when the
// provider reported none
func (a *Activity) DistanceKm() *float64 {
	if a.DistanceMeters <= 0 {
		return nil
	}
	km := a.DistanceMeters / 1000
	return &km
}

// ExchangeCode exchanges an authorization code for access and refresh tokens
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	return c.tokenRequest(ctx, map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"code":          code,
		"grant_type":    "authorization_code",
	}, "token_exchange")
}

// RefreshToken refreshes an access token using a refresh token
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.tokenRequest(ctx, map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	}, "token_refresh")
}

func (c *Client) tokenRequest(ctx context.Context, data map[string]string, op string) (*TokenResponse, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error(op+" failed", "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	defer resp.Body.Close()

	c.logger.Info(op, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &tokenResp, nil
}

// GetActivity fetches a single activity by id using a valid access token
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (*Activity, error) {
	url := fmt.Sprintf("%s/activities/%d", c.baseURL, activityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("get_activity failed", "error", err, "activity_id", activityID)
		return nil, fmt.Errorf("get activity failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("provider_api_request",
		"method", http.MethodGet,
		"path", fmt.Sprintf("/activities/%d", activityID),
		"status", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var activity Activity
	if err := json.Unmarshal(bodyBytes, &activity); err != nil {
		return nil, fmt.Errorf("failed to decode activity: %w", err)
	}
	activity.Raw = json.RawMessage(bodyBytes)
	return &activity, nil
}
