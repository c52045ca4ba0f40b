// Package vrcapi is the outbound web API client. It backs the identity
// resolver's profile lookups and the portal short-name resolution; the
// engine core only sees the interfaces, never this package.
package vrcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/graaaaa/instancewatch/internal/config"
	"github.com/graaaaa/instancewatch/internal/identity"
)

const (
	defaultBaseURL = "https://api.vrchat.cloud/api/1"
	defaultTimeout = 10 * time.Second

	// maxResponseSize caps response bodies; profile and instance
	// payloads are small.
	maxResponseSize = 1 << 20
)

// Client calls the public web API. Lookups run off the engine loop; the
// resolver and dispatcher post results back themselves.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authCookie config.Secret
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAuthCookie sets the auth cookie sent with every request. Without
// it most endpoints return 401 and lookups fall back to inline data.
func WithAuthCookie(cookie config.Secret) Option {
	return func(c *Client) { c.authCookie = cookie }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  "instancewatch",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// userResponse is the subset of the user payload the resolver needs.
type userResponse struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	IsFriend          bool   `json:"isFriend"`
	Status            string `json:"status"`
	StatusDescription string `json:"statusDescription"`
	AvatarID          string `json:"currentAvatar"`
}

// GetUser fetches a user profile. Implements identity.Client.
func (c *Client) GetUser(ctx context.Context, userID string) (*identity.User, error) {
	var res userResponse
	if err := c.get(ctx, "/users/"+url.PathEscape(userID), &res); err != nil {
		return nil, err
	}
	return &identity.User{
		ID:                res.ID,
		DisplayName:       res.DisplayName,
		IsFriend:          res.IsFriend,
		Status:            res.Status,
		StatusDescription: res.StatusDescription,
		AvatarID:          res.AvatarID,
		FetchedAt:         time.Now(),
	}, nil
}

// instanceResponse is the subset of the short-name lookup payload used
// for portal announcements.
type instanceResponse struct {
	WorldID string `json:"worldId"`
	World   struct {
		Name string `json:"name"`
	} `json:"world"`
}

// ResolveShortName resolves a portal short name to its target world.
// Implements the dispatcher's world resolver.
func (c *Client) ResolveShortName(ctx context.Context, shortName string) (worldID, worldName string, err error) {
	var res instanceResponse
	if err := c.get(ctx, "/instances/s/"+url.PathEscape(shortName), &res); err != nil {
		return "", "", err
	}
	return res.WorldID, res.World.Name, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if !c.authCookie.IsEmpty() {
		req.AddCookie(&http.Cookie{Name: "auth", Value: c.authCookie.Value()})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
