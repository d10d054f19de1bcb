// Package client is a Go client for the portal's HTTP API. It mirrors the
// signed-in account locally and notifies subscribers whenever that view changes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pysugar/app-portal/internal/account"
	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/logging"
)

const (
	// DefaultCookieName must match the server's session cookie.
	DefaultCookieName = "auth-token"

	networkError     = "Network error"
	notAuthenticated = "Not authenticated"
)

// Phase is the coarse authentication state.
type Phase int

const (
	Initializing Phase = iota
	Authenticated
	Anonymous
)

func (p Phase) String() string {
	switch p {
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "initializing"
	}
}

// State is a snapshot handed to subscribers. Account is nil unless Phase is Authenticated.
type State struct {
	Phase   Phase
	Account *account.Account
	Loading bool
	Error   string
}

// Client holds the local session view. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	cookieName string

	group     singleflight.Group
	startOnce sync.Once

	mu      sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. A cookie jar is added if missing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		c.httpClient = &cp
	}
}

// WithCookieName overrides the session cookie name.
func WithCookieName(name string) Option {
	return func(c *Client) { c.cookieName = name }
}

// New creates a client for the portal at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cookieName: DefaultCookieName,
		state:      State{Phase: Initializing, Loading: true},
		subs:       make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		c.httpClient.Jar = jar
	}
	return c, nil
}

// State returns a copy of the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Client) snapshotLocked() State {
	s := c.state
	if s.Account != nil {
		cp := s.Account.Clone()
		s.Account = &cp
	}
	return s
}

// Subscribe registers fn for state changes and returns a function that removes it.
func (c *Client) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// update applies mutate under the lock and then notifies subscribers.
func (c *Client) update(mutate func(*State)) {
	c.mu.Lock()
	mutate(&c.state)
	snap := c.snapshotLocked()
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (c *Client) begin() {
	c.update(func(s *State) {
		s.Loading = true
		s.Error = ""
	})
}

func (c *Client) finish() {
	c.update(func(s *State) { s.Loading = false })
}

func (c *Client) fail(msg string) {
	c.update(func(s *State) { s.Error = msg })
}

// Start runs the initial session check. Later calls are no-ops.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() { c.Refresh(ctx) })
}

// Refresh re-reads the signed-in account. Concurrent calls share one request.
func (c *Client) Refresh(ctx context.Context) {
	c.update(func(s *State) { s.Loading = true })
	defer c.finish()
	c.refresh(ctx)
}

type meResult struct {
	status int
	env    envelope
}

func (c *Client) refresh(ctx context.Context) {
	v, err, _ := c.group.Do("me", func() (interface{}, error) {
		status, env, err := c.call(ctx, http.MethodGet, "/api/auth/me", nil)
		return meResult{status: status, env: env}, err
	})
	if err != nil {
		logging.FromContext(ctx, "Client").WithError(err).Warn("session check failed")
		c.update(func(s *State) {
			if s.Account == nil {
				s.Phase = Anonymous
			}
			s.Error = networkError
		})
		return
	}

	res := v.(meResult)
	switch {
	case res.env.Success && res.env.Account != nil:
		acct := *res.env.Account
		c.update(func(s *State) {
			s.Phase = Authenticated
			s.Account = &acct
			s.Error = ""
		})
	case res.status == http.StatusUnauthorized:
		c.update(func(s *State) {
			s.Phase = Anonymous
			s.Account = nil
			if res.env.Error != notAuthenticated {
				s.Error = res.env.errorOr("Authentication failed")
			}
		})
	default:
		c.update(func(s *State) {
			if s.Account == nil {
				s.Phase = Anonymous
			}
			s.Error = res.env.errorOr("Authentication failed")
		})
	}
}

// Login signs in with email and password.
func (c *Client) Login(ctx context.Context, email, password string) bool {
	return c.signIn(ctx, "/api/auth/login", map[string]string{"email": email, "password": password}, "Login failed")
}

// Register creates an account and signs in with it.
func (c *Client) Register(ctx context.Context, in auth.RegisterInput) bool {
	return c.signIn(ctx, "/api/auth/register", in, "Registration failed")
}

func (c *Client) signIn(ctx context.Context, path string, body interface{}, fallback string) bool {
	c.begin()
	defer c.finish()

	_, env, err := c.call(ctx, http.MethodPost, path, body)
	if err != nil {
		c.fail(networkError)
		return false
	}
	if !env.Success || env.Account == nil {
		c.fail(env.errorOr(fallback))
		return false
	}

	acct := *env.Account
	c.update(func(s *State) {
		s.Phase = Authenticated
		s.Account = &acct
	})
	return true
}

// LoginWithSSO returns the URL that starts the Microsoft sign-in. Loading stays set
// until the next Refresh, which runs once the browser comes back from the callback.
func (c *Client) LoginWithSSO() string {
	c.begin()
	return c.endpoint("/api/auth/sso/login")
}

// Logout ends the session. Local state and the cookie are cleared even if the
// server cannot be reached.
func (c *Client) Logout(ctx context.Context) {
	if _, _, err := c.call(ctx, http.MethodPost, "/api/auth/logout", nil); err != nil {
		logging.FromContext(ctx, "Client").WithError(err).Debug("logout request failed")
	}

	c.httpClient.Jar.SetCookies(c.baseURL, []*http.Cookie{{
		Name:   c.cookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
	c.update(func(s *State) {
		s.Phase = Anonymous
		s.Account = nil
		s.Error = ""
		s.Loading = false
	})
}

// AddAPIKey stores a new key and refreshes the account.
func (c *Client) AddAPIKey(ctx context.Context, in auth.APIKeyInput) bool {
	return c.mutate(ctx, http.MethodPost, "/api/account/api-keys", in, "Failed to add API key")
}

// RemoveAPIKey deletes a key by id and refreshes the account.
func (c *Client) RemoveAPIKey(ctx context.Context, keyID string) bool {
	return c.mutate(ctx, http.MethodDelete, "/api/account/api-keys/"+url.PathEscape(keyID), nil, "Failed to remove API key")
}

// UpdatePreferences merges patch into the account preferences and refreshes the account.
func (c *Client) UpdatePreferences(ctx context.Context, patch account.PreferencesPatch) bool {
	return c.mutate(ctx, http.MethodPut, "/api/account/preferences", patch, "Failed to update preferences")
}

func (c *Client) mutate(ctx context.Context, method, path string, body interface{}, fallback string) bool {
	c.begin()
	defer c.finish()

	status, env, err := c.call(ctx, method, path, body)
	if err != nil {
		c.fail(networkError)
		return false
	}
	if status == http.StatusUnauthorized || env.Error == auth.ErrInvalidToken.Message {
		// the session is gone server-side
		c.update(func(s *State) {
			s.Phase = Anonymous
			s.Account = nil
			s.Error = env.errorOr(fallback)
		})
		return false
	}
	if !env.Success {
		c.fail(env.errorOr(fallback))
		return false
	}
	c.refresh(ctx)
	return true
}

type envelope struct {
	Success bool             `json:"success"`
	Error   string           `json:"error"`
	Account *account.Account `json:"account"`
}

func (e envelope) errorOr(fallback string) string {
	if e.Error != "" {
		return e.Error
	}
	return fallback
}

var errNotJSON = errors.New("response is not JSON")

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// call performs one request. A transport failure or a body that is not the JSON
// envelope is returned as an error; HTTP error statuses are not.
func (c *Client) call(ctx context.Context, method, path string, body interface{}) (int, envelope, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, envelope{}, fmt.Errorf("encode %s body: %w", path, err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), rdr)
	if err != nil {
		return 0, envelope{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if id := logging.GetRequestID(ctx); id != "" {
		req.Header.Set(logging.RequestIDHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, envelope{}, fmt.Errorf("%s %s: %w", method, path, errNotJSON)
	}
	return resp.StatusCode, env, nil
}
