package microsoft

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/pysugar/app-portal/internal/account"
	"github.com/pysugar/app-portal/internal/logging"
)

// StateTTL bounds how long a login started with BeginLogin may take.
const StateTTL = 10 * time.Minute

// MaxCachedAccounts bounds the signed-in identities kept for silent token
// reacquisition. The oldest is evicted first.
const MaxCachedAccounts = 64

var (
	ErrNotConfigured  = errors.New("microsoft sso: client id not configured")
	ErrNotInitialized = errors.New("microsoft sso: adapter not initialized")
	ErrInvalidState   = errors.New("microsoft sso: unknown or expired state")
	ErrNoIdentity     = errors.New("microsoft sso: token response carries no usable identity")
)

// State is the adapter lifecycle.
type State int

const (
	Uninitialized State = iota
	Initialized
	AccountPresent
	NoAccount
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case AccountPresent:
		return "account_present"
	case NoAccount:
		return "no_account"
	default:
		return "uninitialized"
	}
}

// Identity is the signed-in broker account.
type Identity struct {
	// HomeAccountID is "<oid>.<tid>", stable across sign-ins.
	HomeAccountID string
	Username      string
	Name          string
	ObjectID      string
	TenantID      string
}

// Result is a completed interactive login.
type Result struct {
	Identity    Identity
	AccessToken string
	ExpiresAt   time.Time
}

type pendingLogin struct {
	verifier  string
	expiresAt time.Time
}

type cachedAccount struct {
	identity Identity
	token    *oauth2.Token
}

// Adapter wraps one app registration. Construct it with New and pass it to the
// HTTP layer.
type Adapter struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	oauth       *oauth2.Config
	initialized bool
	pending     map[string]pendingLogin
	accounts    []cachedAccount
	// attempted is set once a login completes or fails, or after Logout.
	attempted bool
}

// New creates an uninitialized adapter.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:     cfg,
		now:     time.Now,
		pending: make(map[string]pendingLogin),
	}
}

// Initialize prepares the OAuth2 client. Calling it again is a no-op.
func (a *Adapter) Initialize(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}
	if !a.cfg.Configured() {
		return ErrNotConfigured
	}
	a.oauth = a.cfg.oauthConfig()
	a.initialized = true
	logging.For("SSO").WithField("auth_url", a.oauth.Endpoint.AuthURL).Info("microsoft sso initialized")
	return nil
}

// State reports the adapter lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case !a.initialized:
		return Uninitialized
	case len(a.accounts) > 0:
		return AccountPresent
	case a.attempted:
		return NoAccount
	default:
		return Initialized
	}
}

// BeginLogin returns the broker URL that starts an interactive sign-in.
func (a *Adapter) BeginLogin() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return "", ErrNotInitialized
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	state := hex.EncodeToString(b)
	verifier := oauth2.GenerateVerifier()

	a.pruneLocked()
	a.pending[state] = pendingLogin{verifier: verifier, expiresAt: a.now().Add(StateTTL)}

	return a.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	), nil
}

func (a *Adapter) pruneLocked() {
	now := a.now()
	for s, p := range a.pending {
		if now.After(p.expiresAt) {
			delete(a.pending, s)
		}
	}
}

// CompleteLogin validates the one-shot state, exchanges code for tokens and
// caches the identity found in the id_token.
func (a *Adapter) CompleteLogin(ctx context.Context, state, code string) (*Result, error) {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return nil, ErrNotInitialized
	}
	p, ok := a.pending[state]
	delete(a.pending, state)
	a.attempted = true
	cfg := a.oauth
	now := a.now()
	a.mu.Unlock()

	if !ok || now.After(p.expiresAt) {
		return nil, ErrInvalidState
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(p.verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	rawID, _ := tok.Extra("id_token").(string)
	ident, err := parseIdentity(rawID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cacheLocked(ident, tok)
	a.mu.Unlock()

	logging.FromContext(ctx, "SSO").WithField("home_account_id", ident.HomeAccountID).Info("microsoft sign-in completed")
	return &Result{Identity: ident, AccessToken: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}

// cacheLocked stores ident as the most recent entry, evicting the oldest
// entries beyond MaxCachedAccounts.
func (a *Adapter) cacheLocked(ident Identity, tok *oauth2.Token) {
	for i := range a.accounts {
		if a.accounts[i].identity.HomeAccountID == ident.HomeAccountID {
			a.accounts = append(a.accounts[:i], a.accounts[i+1:]...)
			break
		}
	}
	a.accounts = append(a.accounts, cachedAccount{identity: ident, token: tok})
	if over := len(a.accounts) - MaxCachedAccounts; over > 0 {
		a.accounts = append([]cachedAccount(nil), a.accounts[over:]...)
	}
}

func (a *Adapter) lookupLocked(homeAccountID string) (cachedAccount, bool) {
	for _, c := range a.accounts {
		if c.identity.HomeAccountID == homeAccountID {
			return c, true
		}
	}
	return cachedAccount{}, false
}

// idClaims are the id_token claims the portal reads.
type idClaims struct {
	ObjectID          string `json:"oid"`
	TenantID          string `json:"tid"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	UPN               string `json:"upn"`
	Name              string `json:"name"`
	jwt.RegisteredClaims
}

// parseIdentity reads id_token claims without signature verification. The token
// comes directly from the token endpoint over TLS, never from the browser.
func parseIdentity(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrNoIdentity
	}
	var claims idClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}

	username := firstNonEmpty(claims.PreferredUsername, claims.Email, claims.UPN)
	oid := firstNonEmpty(claims.ObjectID, claims.Subject)
	if username == "" || oid == "" {
		return Identity{}, ErrNoIdentity
	}

	home := oid
	if claims.TenantID != "" {
		home = oid + "." + claims.TenantID
	}
	return Identity{
		HomeAccountID: home,
		Username:      username,
		Name:          claims.Name,
		ObjectID:      oid,
		TenantID:      claims.TenantID,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// CurrentAccount returns the oldest cached identity.
func (a *Adapter) CurrentAccount() (Identity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.accounts) == 0 {
		return Identity{}, false
	}
	return a.accounts[0].identity, true
}

// AccessToken silently returns a valid access token for CurrentAccount.
func (a *Adapter) AccessToken(ctx context.Context) string {
	ident, ok := a.CurrentAccount()
	if !ok {
		return ""
	}
	return a.AccessTokenFor(ctx, ident.HomeAccountID)
}

// AccessTokenFor silently returns a valid access token for the cached account
// homeAccountID, refreshing it when needed. It returns "" when that is not
// possible and the user has to sign in interactively again.
func (a *Adapter) AccessTokenFor(ctx context.Context, homeAccountID string) string {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return ""
	}
	cached, ok := a.lookupLocked(homeAccountID)
	cfg := a.oauth
	a.mu.Unlock()
	if !ok {
		return ""
	}

	tok, err := cfg.TokenSource(ctx, cached.token).Token()
	if err != nil {
		logging.FromContext(ctx, "SSO").WithError(err).Warn("silent token acquisition failed")
		return ""
	}

	if tok.AccessToken != cached.token.AccessToken {
		a.mu.Lock()
		if _, still := a.lookupLocked(homeAccountID); still {
			a.cacheLocked(cached.identity, tok)
		}
		a.mu.Unlock()
	}
	return tok.AccessToken
}

// Logout forgets every cached identity.
func (a *Adapter) Logout() {
	a.mu.Lock()
	a.accounts = nil
	a.attempted = true
	a.mu.Unlock()
}

// ConvertToAccount maps a broker identity onto a new portal account. The name
// falls back to the username. Company stays empty and the role is user.
func ConvertToAccount(ident Identity, now time.Time) account.Account {
	name := ident.Name
	if name == "" {
		name = ident.Username
	}
	return account.Account{
		ID:          ident.HomeAccountID,
		Email:       ident.Username,
		Name:        name,
		Role:        account.RoleUser,
		APIKeys:     []account.APIKey{},
		Preferences: account.DefaultPreferences(),
		CreatedAt:   now,
		LastLogin:   &now,
		IsActive:    true,
		Source:      account.SourceMicrosoft,
	}
}
