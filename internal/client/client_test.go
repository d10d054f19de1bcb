package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pysugar/app-portal/internal/account"
	"github.com/pysugar/app-portal/internal/account/memory"
	"github.com/pysugar/app-portal/internal/audit"
	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/auth/session"
	"github.com/pysugar/app-portal/internal/db"
	"github.com/pysugar/app-portal/internal/embed"
	"github.com/pysugar/app-portal/internal/server"
)

type portal struct {
	srv     *httptest.Server
	meCalls atomic.Int32
	// meHook, when set, runs before /api/auth/me and may answer the request itself.
	meHook func(w http.ResponseWriter) bool
	mu     sync.Mutex
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	repo := memory.New()
	_, err := db.SeedDemoAccount(context.Background(), repo)
	require.NoError(t, err)

	rec := audit.NewRecorder(nil)
	svc := auth.NewService(repo, session.NewMemoryStore(), rec, auth.Options{BcryptCost: bcrypt.MinCost})
	router := server.NewRouter(server.Deps{
		Auth:  svc,
		Audit: rec,
		Apps: embed.NewRegistry(
			embed.TTS("https://tts.example.com/", "https://tts.example.com"),
			embed.Lexicon("https://lex.example.com/", "https://lex.example.com"),
		),
	})

	p := &portal{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/me" {
			p.meCalls.Add(1)
			p.mu.Lock()
			hook := p.meHook
			p.mu.Unlock()
			if hook != nil && hook(w) {
				return
			}
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *portal) setMeHook(fn func(w http.ResponseWriter) bool) {
	p.mu.Lock()
	p.meHook = fn
	p.mu.Unlock()
}

func newClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(baseURL)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New("/api")
	assert.Error(t, err)
}

func TestStart_AnonymousWithoutError(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	ctx := context.Background()

	assert.Equal(t, Initializing, c.State().Phase)
	assert.True(t, c.State().Loading)

	c.Start(ctx)
	c.Start(ctx)

	st := c.State()
	assert.Equal(t, Anonymous, st.Phase)
	assert.Nil(t, st.Account)
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)
	assert.Equal(t, int32(1), p.meCalls.Load())
}

func TestLogin(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	ctx := context.Background()

	assert.False(t, c.Login(ctx, db.DemoEmail, "wrong"))
	st := c.State()
	assert.Equal(t, "Invalid credentials", st.Error)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Account)

	require.True(t, c.Login(ctx, db.DemoEmail, "demo123"))
	st = c.State()
	assert.Equal(t, Authenticated, st.Phase)
	assert.Empty(t, st.Error)
	require.NotNil(t, st.Account)
	assert.Equal(t, "Demo User", st.Account.Name)

	// the cookie jar carries the session into later calls
	c.Refresh(ctx)
	assert.Equal(t, Authenticated, c.State().Phase)
}

func TestRegister_ThenManageKeysAndPreferences(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	ctx := context.Background()

	require.True(t, c.Register(ctx, auth.RegisterInput{Email: "a@b.com", Password: "x", Name: "A"}))
	st := c.State()
	require.NotNil(t, st.Account)
	assert.Equal(t, account.RoleUser, st.Account.Role)
	assert.Empty(t, st.Account.APIKeys)

	assert.False(t, c.Register(ctx, auth.RegisterInput{Email: "a@b.com", Password: "x", Name: "A"}))
	assert.Equal(t, "Email already registered", c.State().Error)

	require.True(t, c.AddAPIKey(ctx, auth.APIKeyInput{Name: "Azure", Key: "azure-secret-1234", Service: account.ServiceAzure}))
	st = c.State()
	assert.Empty(t, st.Error)
	require.Len(t, st.Account.APIKeys, 1)
	keyID := st.Account.APIKeys[0].ID

	require.True(t, c.RemoveAPIKey(ctx, keyID))
	assert.Empty(t, c.State().Account.APIKeys)

	assert.False(t, c.RemoveAPIKey(ctx, keyID))
	assert.Equal(t, "API key not found", c.State().Error)

	dark := account.ThemeDark
	require.True(t, c.UpdatePreferences(ctx, account.PreferencesPatch{Theme: &dark}))
	prefs := c.State().Account.Preferences
	assert.Equal(t, account.ThemeDark, prefs.Theme)
	assert.True(t, prefs.Notifications)
	assert.False(t, c.State().Loading)
}

func TestLogout_ClearsStateAndCookie(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	ctx := context.Background()

	require.True(t, c.Login(ctx, db.DemoEmail, "demo123"))
	u, _ := url.Parse(p.srv.URL)
	require.NotEmpty(t, c.httpClient.Jar.Cookies(u))

	c.Logout(ctx)
	st := c.State()
	assert.Equal(t, Anonymous, st.Phase)
	assert.Nil(t, st.Account)
	assert.Empty(t, c.httpClient.Jar.Cookies(u))

	c.Refresh(ctx)
	assert.Equal(t, Anonymous, c.State().Phase)
	assert.Empty(t, c.State().Error)
}

func TestLogout_ServerUnreachable(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	ctx := context.Background()

	require.True(t, c.Login(ctx, db.DemoEmail, "demo123"))
	p.srv.Close()

	c.Logout(ctx)
	st := c.State()
	assert.Equal(t, Anonymous, st.Phase)
	assert.Nil(t, st.Account)
	assert.Empty(t, st.Error)
	u, _ := url.Parse(p.srv.URL)
	assert.Empty(t, c.httpClient.Jar.Cookies(u))
}

func TestNetworkError(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	p.srv.Close()

	assert.False(t, c.Login(context.Background(), db.DemoEmail, "demo123"))
	st := c.State()
	assert.Equal(t, "Network error", st.Error)
	assert.False(t, st.Loading)
}

func TestStart_ServerUnreachableSettlesAnonymous(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	p.srv.Close()

	c.Start(context.Background())
	st := c.State()
	assert.Equal(t, Anonymous, st.Phase)
	assert.Nil(t, st.Account)
	assert.Equal(t, "Network error", st.Error)
	assert.False(t, st.Loading)
}

func TestStart_NonJSONGatewayErrorSettlesAnonymous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))
	t.Cleanup(srv.Close)
	c := newClient(t, srv.URL)

	c.Start(context.Background())
	st := c.State()
	assert.Equal(t, Anonymous, st.Phase)
	assert.Equal(t, "Network error", st.Error)
	assert.False(t, st.Loading)
}

func TestRefresh_NetworkErrorKeepsAccount(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	ctx := context.Background()
	require.True(t, c.Login(ctx, db.DemoEmail, "demo123"))
	p.srv.Close()

	c.Refresh(ctx)
	st := c.State()
	assert.Equal(t, Authenticated, st.Phase)
	require.NotNil(t, st.Account)
	assert.Equal(t, "Network error", st.Error)
}

func TestMutate_RevokedSessionSignsOut(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	ctx := context.Background()
	require.True(t, c.Login(ctx, db.DemoEmail, "demo123"))

	// revoke the session from elsewhere using the same cookie
	u, _ := url.Parse(p.srv.URL)
	req, err := http.NewRequest(http.MethodPost, p.srv.URL+"/api/auth/logout", nil)
	require.NoError(t, err)
	for _, ck := range c.httpClient.Jar.Cookies(u) {
		req.AddCookie(ck)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	calls := p.meCalls.Load()
	assert.False(t, c.AddAPIKey(ctx, auth.APIKeyInput{Name: "Late", Key: "sk-late-1234", Service: account.ServiceAzure}))
	st := c.State()
	assert.Equal(t, Anonymous, st.Phase)
	assert.Nil(t, st.Account)
	assert.Equal(t, "Invalid token", st.Error)
	assert.False(t, st.Loading)
	assert.Equal(t, calls, p.meCalls.Load())
}

func TestMutate_MissingCookieSignsOut(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	ctx := context.Background()
	require.True(t, c.Login(ctx, db.DemoEmail, "demo123"))

	u, _ := url.Parse(p.srv.URL)
	c.httpClient.Jar.SetCookies(u, []*http.Cookie{{Name: c.cookieName, Value: "", Path: "/", MaxAge: -1}})

	assert.False(t, c.UpdatePreferences(ctx, account.PreferencesPatch{}))
	st := c.State()
	assert.Equal(t, Anonymous, st.Phase)
	assert.Nil(t, st.Account)
	assert.Equal(t, "Not authenticated", st.Error)
}

func TestRefresh_ServerFailureKeepsAccount(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	ctx := context.Background()
	require.True(t, c.Login(ctx, db.DemoEmail, "demo123"))

	p.setMeHook(func(w http.ResponseWriter) bool {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error":"Authentication check failed"}`))
		return true
	})

	c.Refresh(ctx)
	st := c.State()
	assert.Equal(t, "Authentication check failed", st.Error)
	assert.Equal(t, Authenticated, st.Phase)
	require.NotNil(t, st.Account)
	assert.Equal(t, db.DemoEmail, st.Account.Email)
}

func TestRefresh_CoalescesConcurrentCalls(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	p.setMeHook(func(w http.ResponseWriter) bool {
		once.Do(func() { close(entered) })
		<-release
		return false
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Refresh(ctx)
	}()
	<-entered

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Refresh(ctx)
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), p.meCalls.Load())
	assert.Equal(t, Anonymous, c.State().Phase)
}

func TestLoginWithSSO_SetsLoadingUntilRefresh(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)

	assert.Equal(t, p.srv.URL+"/api/auth/sso/login", c.LoginWithSSO())
	assert.True(t, c.State().Loading)

	c.Refresh(context.Background())
	assert.False(t, c.State().Loading)
}

func TestSubscribe(t *testing.T) {
	p := newPortal(t)
	c := newClient(t, p.srv.URL)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []State
	unsubscribe := c.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.True(t, c.Login(ctx, db.DemoEmail, "demo123"))

	mu.Lock()
	require.NotEmpty(t, seen)
	assert.True(t, seen[0].Loading)
	last := seen[len(seen)-1]
	n := len(seen)
	mu.Unlock()
	assert.False(t, last.Loading)
	assert.Equal(t, Authenticated, last.Phase)

	unsubscribe()
	c.Logout(ctx)

	mu.Lock()
	assert.Len(t, seen, n)
	mu.Unlock()
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "initializing", Initializing.String())
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "anonymous", Anonymous.String())
}
