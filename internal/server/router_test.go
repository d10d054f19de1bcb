package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pysugar/app-portal/internal/account"
	"github.com/pysugar/app-portal/internal/account/memory"
	"github.com/pysugar/app-portal/internal/audit"
	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/auth/microsoft"
	"github.com/pysugar/app-portal/internal/auth/session"
	"github.com/pysugar/app-portal/internal/db"
	"github.com/pysugar/app-portal/internal/embed"
	"github.com/pysugar/app-portal/internal/server/handlers"
)

type stubSSO struct {
	initErr     error
	completeErr error
	ident       microsoft.Identity
	token       string
}

func (s *stubSSO) Initialize(context.Context) error { return s.initErr }
func (s *stubSSO) BeginLogin() (string, error) {
	return "https://login.example.com/authorize?state=xyz", nil
}
func (s *stubSSO) CompleteLogin(_ context.Context, state, code string) (*microsoft.Result, error) {
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	return &microsoft.Result{Identity: s.ident, AccessToken: s.token}, nil
}
func (s *stubSSO) AccessTokenFor(_ context.Context, homeAccountID string) string {
	if homeAccountID != s.ident.HomeAccountID {
		return ""
	}
	return s.token
}

type brokenRepo struct{ account.Repository }

func (brokenRepo) GetByEmail(context.Context, string) (account.Account, error) {
	return account.Account{}, errors.New("disk on fire")
}
func (brokenRepo) GetByID(context.Context, string) (account.Account, error) {
	return account.Account{}, errors.New("disk on fire")
}

type testServer struct {
	handler http.Handler
	svc     *auth.Service
}

func newTestServer(t *testing.T, sso handlers.SSOProvider, repo account.Repository, secure bool) testServer {
	t.Helper()
	if repo == nil {
		mem := memory.New()
		_, err := db.SeedDemoAccount(context.Background(), mem)
		require.NoError(t, err)
		repo = mem
	}
	rec := audit.NewRecorder(nil)
	svc := auth.NewService(repo, session.NewMemoryStore(), rec, auth.Options{BcryptCost: bcrypt.MinCost})
	h := NewRouter(Deps{
		Auth:  svc,
		SSO:   sso,
		Audit: rec,
		Apps: embed.NewRegistry(
			embed.TTS("https://tts.example.com/?mode=suite", "https://tts.example.com"),
			embed.Lexicon("https://lex.example.com/?mode=suite", "https://lex.example.com"),
		),
		Cookies: handlers.Cookies{Secure: secure},
	})
	return testServer{handler: h, svc: svc}
}

func (ts testServer) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: handlers.DefaultCookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == handlers.DefaultCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", handlers.DefaultCookieName)
	return nil
}

func (ts testServer) login(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"`+db.DemoEmail+`","password":"demo123"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec).Value
}

func TestMe_Unauthenticated(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)

	rec := ts.do(t, http.MethodGet, "/api/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, map[string]interface{}{"success": false, "error": "Not authenticated"}, decode(t, rec))

	rec = ts.do(t, http.MethodGet, "/api/auth/me", "", "stale-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authenticated", decode(t, rec)["error"])
}

func TestLogin_SetsCookieAndResolves(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)

	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"`+db.DemoEmail+`","password":"demo123"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	acct := body["account"].(map[string]interface{})
	assert.Equal(t, db.DemoEmail, acct["email"])
	assert.NotContains(t, acct, "passwordHash")

	c := sessionCookie(t, rec)
	assert.True(t, c.HttpOnly)
	assert.False(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 7*24*60*60, c.MaxAge)
	assert.Equal(t, "/", c.Path)

	me := ts.do(t, http.MethodGet, "/api/auth/me", "", c.Value)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, db.DemoEmail, decode(t, me)["account"].(map[string]interface{})["email"])
}

func TestLogin_SecureCookieInProduction(t *testing.T) {
	ts := newTestServer(t, nil, nil, true)
	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"`+db.DemoEmail+`","password":"demo123"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sessionCookie(t, rec).Secure)
}

func TestLogin_Failures(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)

	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"`+db.DemoEmail+`","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decode(t, rec)["error"])
	assert.Empty(t, rec.Result().Cookies())

	rec = ts.do(t, http.MethodPost, "/api/auth/login", `{not json`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request", decode(t, rec)["error"])
}

func TestRegister(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)

	rec := ts.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@b.com","password":"x","name":"A"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	acct := decode(t, rec)["account"].(map[string]interface{})
	assert.Equal(t, "user", acct["role"])
	assert.Equal(t, []interface{}{}, acct["apiKeys"])
	sessionCookie(t, rec)

	rec = ts.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@b.com","password":"x","name":"A"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email already registered", decode(t, rec)["error"])

	rec = ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"x"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeys(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)
	tok := ts.login(t)

	rec := ts.do(t, http.MethodGet, "/api/account/api-keys", "", "bogus")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid token", decode(t, rec)["error"])

	rec = ts.do(t, http.MethodPost, "/api/account/api-keys", `{"name":"Azure","key":"azure-secret-1234","service":"azure"}`, tok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	keyID := decode(t, rec)["apiKey"].(map[string]interface{})["id"].(string)

	rec = ts.do(t, http.MethodGet, "/api/account/api-keys", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["apiKeys"], 3)

	rec = ts.do(t, http.MethodDelete, "/api/account/api-keys/"+keyID, "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"success": true}, decode(t, rec))

	rec = ts.do(t, http.MethodDelete, "/api/account/api-keys/"+keyID, "", tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]interface{}{"success": false, "error": "API key not found"}, decode(t, rec))

	rec = ts.do(t, http.MethodPost, "/api/account/api-keys", `{"name":"x","key":"y","service":"speech"}`, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/account/api-keys/key-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPreferences(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)
	tok := ts.login(t)

	rec := ts.do(t, http.MethodPut, "/api/account/preferences", `{"theme":"dark"}`, tok)
	require.Equal(t, http.StatusOK, rec.Code)

	me := decode(t, ts.do(t, http.MethodGet, "/api/auth/me", "", tok))
	prefs := me["account"].(map[string]interface{})["preferences"].(map[string]interface{})
	assert.Equal(t, "dark", prefs["theme"])
	assert.Equal(t, true, prefs["notifications"])

	rec = ts.do(t, http.MethodPut, "/api/account/preferences", `{"theme":"dark"}`, "bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid token", decode(t, rec)["error"])
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)
	tok := ts.login(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/logout", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1, sessionCookie(t, rec).MaxAge)

	rec = ts.do(t, http.MethodGet, "/api/auth/me", "", tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)
	admin := ts.login(t)

	rec := ts.do(t, http.MethodGet, "/api/admin/accounts", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
	keys := body["accounts"].([]interface{})[0].(map[string]interface{})["apiKeys"].([]interface{})
	assert.Contains(t, keys[0].(map[string]interface{})["key"], "••••••••")

	rec = ts.do(t, http.MethodGet, "/api/admin/audit?limit=5", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["events"])

	reg := ts.do(t, http.MethodPost, "/api/auth/register", `{"email":"u@b.com","password":"x","name":"U"}`, "")
	user := sessionCookie(t, reg).Value
	rec = ts.do(t, http.MethodGet, "/api/admin/accounts", "", user)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/admin/audit", "", user)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEmbedPlan(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)
	tok := ts.login(t)

	rec := ts.do(t, http.MethodGet, "/api/portal/embed/lexicon", "", tok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	plan := decode(t, rec)["plan"].(map[string]interface{})
	assert.Equal(t, "https://lex.example.com", plan["targetOrigin"])
	msgs := plan["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "SET_TTS_KEY", msgs[0].(map[string]interface{})["type"])
	assert.Equal(t, "azure", msgs[0].(map[string]interface{})["provider"])
	assert.Equal(t, "tts", msgs[1].(map[string]interface{})["provider"])

	rec = ts.do(t, http.MethodGet, "/api/portal/embed/paint", "", tok)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	reg := ts.do(t, http.MethodPost, "/api/auth/register", `{"email":"u@b.com","password":"x","name":"U"}`, "")
	rec = ts.do(t, http.MethodGet, "/api/portal/embed/tts", "", sessionCookie(t, reg).Value)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "API key not configured", decode(t, rec)["error"])
}

func TestEmbedPlan_RetryReloadsFrame(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)
	tok := ts.login(t)

	rec := ts.do(t, http.MethodGet, "/api/portal/embed/lexicon", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	plan := decode(t, rec)["plan"].(map[string]interface{})
	assert.Equal(t, "https://lex.example.com/?mode=suite", plan["url"])
	assert.EqualValues(t, 0, plan["reload"])
	assert.Equal(t, "Failed to load Lexicon Editor application", plan["failureText"])

	rec = ts.do(t, http.MethodGet, "/api/portal/embed/lexicon?reload=2", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	plan = decode(t, rec)["plan"].(map[string]interface{})
	assert.Equal(t, "https://lex.example.com/?mode=suite&reload=2", plan["url"])
	assert.EqualValues(t, 2, plan["reload"])
	assert.Len(t, plan["messages"], 2)

	rec = ts.do(t, http.MethodGet, "/api/portal/embed/lexicon?reload=100000", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	plan = decode(t, rec)["plan"].(map[string]interface{})
	assert.EqualValues(t, embed.MaxReloads, plan["reload"])
}

func TestPortalPage_LayoutFromQuery(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)
	tok := ts.login(t)

	page := ts.do(t, http.MethodGet, "/", "", tok).Body.String()
	assert.Contains(t, page, `<nav id="sidebar" class="hidden">`)
	assert.Contains(t, page, `<div id="landing" class="overlay">`)
	assert.Contains(t, page, "const initialApp = '';")

	page = ts.do(t, http.MethodGet, "/?app=tts&collapsed=1", "", tok).Body.String()
	assert.Contains(t, page, `<nav id="sidebar" class=" collapsed">`)
	assert.Contains(t, page, `<div id="landing" class="overlay hidden">`)
	assert.Contains(t, page, "const initialApp = 'tts';")

	page = ts.do(t, http.MethodGet, "/?app=paint", "", tok).Body.String()
	assert.Contains(t, page, "const initialApp = '';")
}

func TestSSOLogin(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)
	rec := ts.do(t, http.MethodGet, "/api/auth/sso/login", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to initiate SSO login", decode(t, rec)["error"])

	ts = newTestServer(t, &stubSSO{}, nil, false)
	rec = ts.do(t, http.MethodGet, "/api/auth/sso/login", "", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://login.example.com/authorize?state=xyz", rec.Header().Get("Location"))
}

func TestSSOCallback(t *testing.T) {
	ident := microsoft.Identity{HomeAccountID: "oid.tid", Username: "sso@contoso.com", Name: "SSO"}

	t.Run("broker error", func(t *testing.T) {
		ts := newTestServer(t, &stubSSO{}, nil, false)
		rec := ts.do(t, http.MethodGet, "/api/auth/sso/callback?error=access_denied", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing code", func(t *testing.T) {
		ts := newTestServer(t, &stubSSO{}, nil, false)
		rec := ts.do(t, http.MethodGet, "/api/auth/sso/callback", "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Authorization code not found", decode(t, rec)["error"])
	})

	t.Run("exchange fails", func(t *testing.T) {
		ts := newTestServer(t, &stubSSO{completeErr: microsoft.ErrInvalidState}, nil, false)
		rec := ts.do(t, http.MethodGet, "/api/auth/sso/callback?code=c&state=s", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "No authenticated account found", decode(t, rec)["error"])
	})

	t.Run("no silent token", func(t *testing.T) {
		ts := newTestServer(t, &stubSSO{ident: ident}, nil, false)
		rec := ts.do(t, http.MethodGet, "/api/auth/sso/callback?code=c&state=s", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Failed to acquire access token", decode(t, rec)["error"])
	})

	t.Run("init fails", func(t *testing.T) {
		ts := newTestServer(t, &stubSSO{initErr: microsoft.ErrNotConfigured}, nil, false)
		rec := ts.do(t, http.MethodGet, "/api/auth/sso/callback?code=c&state=s", "", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "SSO authentication failed", decode(t, rec)["error"])
	})

	t.Run("success", func(t *testing.T) {
		ts := newTestServer(t, &stubSSO{ident: ident, token: "ms-access"}, nil, false)
		rec := ts.do(t, http.MethodGet, "/api/auth/sso/callback?code=c&state=s", "", "")
		require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
		assert.Equal(t, "/", rec.Header().Get("Location"))

		c := sessionCookie(t, rec)
		assert.NotEqual(t, "ms-access", c.Value, "the portal issues its own session token")

		me := ts.do(t, http.MethodGet, "/api/auth/me", "", c.Value)
		require.Equal(t, http.StatusOK, me.Code)
		acct := decode(t, me)["account"].(map[string]interface{})
		assert.Equal(t, "sso@contoso.com", acct["email"])
		assert.Equal(t, "oid.tid", acct["id"])
	})
}

func TestUnexpectedErrorsAreGeneric(t *testing.T) {
	ts := newTestServer(t, nil, brokenRepo{Repository: memory.New()}, false)

	rec := ts.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"demo123"}`, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Login failed", decode(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestPortalPageAndMisc(t *testing.T) {
	ts := newTestServer(t, nil, nil, false)

	rec := ts.do(t, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign in")
	assert.Contains(t, rec.Body.String(), "Demo password: demo123")

	tok := ts.login(t)
	rec = ts.do(t, http.MethodGet, "/", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	page := rec.Body.String()
	assert.Contains(t, page, "Welcome, Demo User")
	assert.Contains(t, page, "Lexicon Editor")
	assert.NotContains(t, page, "demo-tts-0000000000000000000000000000")

	rec = ts.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/version", "", "")
	assert.Equal(t, "dev", decode(t, rec)["version"])

	rec = ts.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portal_auth_events_total")

	rec = ts.do(t, http.MethodGet, "/api/auth/me", "", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
