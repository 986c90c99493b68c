package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	relay_errors "relay-chat/pkg/errors"
)

// Profile is the user profile returned by the auth provider.
type Profile struct {
	ID                   int64   `json:"id"`
	Username             string  `json:"username"`
	Email                string  `json:"email"`
	ProfileImage         string  `json:"profileImage"`
	AudioCallPricePerMin float64 `json:"audioCallPricePerMin"`
	VideoCallPricePerMin float64 `json:"videoCallPricePerMin"`
}

// Provider resolves tokens and user ids to profiles. Lookups that fail for
// any reason return an error wrapping ErrNotFound; failures to reach the
// provider additionally wrap ErrUpstreamUnavailable.
type Provider interface {
	FetchProfile(ctx context.Context, token string) (Profile, error)
	FetchUserByID(ctx context.Context, token string, userID int64) (Profile, error)
}

// Client talks to the auth service over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a client for baseURL, e.g. "http://auth:8081/api/v1/auth/".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

func (c *Client) FetchProfile(ctx context.Context, token string) (Profile, error) {
	return c.getProfile(ctx, token, "fetchProfile")
}

func (c *Client) FetchUserByID(ctx context.Context, token string, userID int64) (Profile, error) {
	q := url.Values{"id": []string{strconv.FormatInt(userID, 10)}}
	p, err := c.getProfile(ctx, token, "getUserByIdWallet?"+q.Encode())
	if err != nil {
		return Profile{}, fmt.Errorf("user %d: %w", userID, err)
	}
	return p, nil
}

func (c *Client) getProfile(ctx context.Context, token, path string) (Profile, error) {
	if strings.TrimSpace(token) == "" {
		return Profile{}, fmt.Errorf("missing token: %w", relay_errors.ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("auth provider: %w: %w: %v",
			relay_errors.ErrNotFound, relay_errors.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Profile{}, fmt.Errorf("auth provider status %d: %w: %w",
			resp.StatusCode, relay_errors.ErrNotFound, relay_errors.ErrUpstreamUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Profile{}, fmt.Errorf("auth provider status %d (%s): %w",
			resp.StatusCode, strings.TrimSpace(string(body)), relay_errors.ErrNotFound)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w: %v", relay_errors.ErrNotFound, err)
	}
	if p.ID <= 0 {
		return Profile{}, fmt.Errorf("profile without id: %w", relay_errors.ErrNotFound)
	}
	return p, nil
}
