package handlers

import (
	"html/template"
	"net/http"

	"github.com/pysugar/app-portal/internal/account"
	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/embed"
	"github.com/pysugar/app-portal/internal/logging"
)

type portalView struct {
	Account    *account.Account
	Apps       []embed.App
	DemoHint   string
	SSOEnabled bool
	Layout     *embed.Layout
}

var portalTemplate = template.Must(template.New("portal").Parse(portalPageHTML))

// PortalPageHandler serves GET /: the sign-in form, or the app launcher for a
// signed-in account. Keys are shown masked. ?app= opens a panel directly and
// ?collapsed=1 starts with the sidebar collapsed.
func PortalPageHandler(svc *auth.Service, apps embed.Registry, cookies Cookies, ssoEnabled bool) http.HandlerFunc {
	ordered := make([]embed.App, 0, 2)
	for _, id := range []embed.AppID{embed.AppTTS, embed.AppLexicon} {
		if app, ok := apps.Get(id); ok {
			ordered = append(ordered, app)
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		view := portalView{
			Apps:       ordered,
			DemoHint:   svc.DemoPasswordHint(),
			SSOEnabled: ssoEnabled,
			Layout:     layoutFromQuery(r, apps),
		}
		if tok := cookies.token(r); tok != "" {
			if acct, ok, err := svc.AccountByToken(r.Context(), tok); err == nil && ok {
				masked := acct.Masked()
				view.Account = &masked
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := portalTemplate.Execute(w, view); err != nil {
			logging.FromContext(r.Context(), "HTTP").WithError(err).Error("render portal page")
		}
	}
}

func layoutFromQuery(r *http.Request, apps embed.Registry) *embed.Layout {
	q := r.URL.Query()
	layout := embed.NewLayout()
	if id, err := embed.ParseAppID(q.Get("app")); err == nil {
		if _, ok := apps.Get(id); ok {
			layout.Launch(id)
		}
	}
	if q.Get("collapsed") == "1" {
		layout.ToggleCollapse()
	}
	return layout
}

var portalPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>App Portal</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #f3f4f6; color: #111827; min-height: 100vh; }
        .center { display: flex; align-items: center; justify-content: center; min-height: 100vh; }
        .card { background: white; border-radius: 0.75rem; padding: 2rem; width: 24rem; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
        h1 { font-size: 1.5rem; margin-bottom: 1rem; }
        input { width: 100%; padding: 0.5rem; margin-bottom: 0.75rem; border: 1px solid #d1d5db; border-radius: 0.375rem; }
        .btn { padding: 0.5rem 1rem; border-radius: 0.375rem; border: none; cursor: pointer; background: #111827; color: white; }
        .btn-light { background: #e5e7eb; color: #111827; }
        .hint { font-size: 0.75rem; color: #6b7280; margin-top: 0.75rem; }
        .error { color: #dc2626; font-size: 0.875rem; margin-bottom: 0.75rem; min-height: 1rem; }
        .shell { display: flex; height: 100vh; }
        nav { width: 14rem; background: #111827; color: white; padding: 1rem; display: flex; flex-direction: column; gap: 0.5rem; }
        nav.collapsed { width: 4rem; }
        nav.collapsed .label { display: none; }
        nav button { background: none; border: none; color: inherit; text-align: left; cursor: pointer; padding: 0.5rem; border-radius: 0.375rem; }
        nav button:hover { background: #374151; }
        main { flex: 1; position: relative; }
        iframe { width: 100%; height: 100%; border: 0; }
        .overlay { position: absolute; inset: 0; display: flex; align-items: center; justify-content: center; background: white; flex-direction: column; gap: 0.5rem; }
        .keys { font-family: monospace; font-size: 0.8rem; color: #374151; }
        .hidden { display: none; }
    </style>
</head>
<body>
{{if .Account}}
<div class="shell">
    <nav id="sidebar" class="{{if not .Layout.SidebarVisible}}hidden{{end}}{{if .Layout.Collapsed}} collapsed{{end}}">
        <button onclick="toggleCollapse()">&#9776;</button>
        <button onclick="navigate('home')"><span class="label">Home</span></button>
        {{range .Apps}}<button onclick="launch('{{.ID}}')"><span class="label">{{.Name}}</span></button>
        {{end}}
        <div style="flex:1"></div>
        <div class="label">{{.Account.Name}}<br><small>{{.Account.Email}}</small></div>
        <button onclick="logout()"><span class="label">Sign out</span></button>
    </nav>
    <main>
        <div id="landing" class="overlay{{if not .Layout.LandingVisible}} hidden{{end}}">
            <h1>Welcome, {{.Account.Name}}</h1>
            {{range .Apps}}<button class="btn" onclick="launch('{{.ID}}')">Launch {{.Name}}</button>
            {{end}}
            <div class="keys">
            {{range .Account.APIKeys}}<div>{{.Name}} ({{.Service}}): {{.Key}}</div>
            {{else}}<div>No API keys configured.</div>
            {{end}}
            </div>
        </div>
        <div id="status" class="overlay hidden"></div>
        <iframe id="frame" class="hidden" title="Embedded application"></iframe>
    </main>
</div>
<script>
    let plan = null;
    const initialApp = '{{.Layout.Active}}';
    const frame = document.getElementById('frame');
    const status = document.getElementById('status');

    const sidebar = document.getElementById('sidebar');

    function show(el, on) { el.classList.toggle('hidden', !on); }

    function remember(app) {
        const q = new URLSearchParams();
        if (app) q.set('app', app);
        if (sidebar.classList.contains('collapsed')) q.set('collapsed', '1');
        history.replaceState(null, '', q.toString() ? '/?' + q.toString() : '/');
    }

    function toggleCollapse() {
        sidebar.classList.toggle('collapsed');
        remember(plan ? plan.app : '');
    }

    function navigate(dest) {
        if (dest === 'home') {
            plan = null;
            show(frame, false); show(status, false); show(sidebar, false);
            show(document.getElementById('landing'), true);
            frame.removeAttribute('src');
            remember('');
            return;
        }
        launch(dest);
    }

    function launch(app) {
        show(document.getElementById('landing'), false);
        show(sidebar, true);
        remember(app);
        fetchPlan(app, 0);
    }

    async function fetchPlan(app, reload) {
        show(frame, false);
        status.textContent = 'Loading...';
        show(status, true);
        const res = await fetch('/api/portal/embed/' + app + '?reload=' + reload);
        const body = await res.json();
        if (!body.success) {
            status.textContent = body.error;
            return;
        }
        plan = body.plan;
        frame.setAttribute('sandbox', plan.sandbox);
        frame.src = plan.url;
    }

    frame.addEventListener('load', () => {
        if (!plan || !frame.getAttribute('src')) return;
        show(status, false);
        show(frame, true);
        for (const msg of plan.messages) {
            frame.contentWindow.postMessage(msg, plan.targetOrigin);
        }
    });
    frame.addEventListener('error', () => {
        status.innerHTML = '';
        const p = document.createElement('p');
        p.textContent = plan.failureText;
        const retry = document.createElement('button');
        retry.className = 'btn';
        retry.textContent = 'Retry';
        retry.onclick = () => fetchPlan(plan.app, plan.reload + 1);
        status.append(p, retry);
        show(status, true);
    });

    if (initialApp) fetchPlan(initialApp, 0);

    async function logout() {
        try { await fetch('/api/auth/logout', { method: 'POST' }); } catch (e) {}
        location.href = '/';
    }
</script>
{{else}}
<div class="center">
    <div class="card">
        <h1>Sign in</h1>
        <div id="error" class="error"></div>
        <input id="name" placeholder="Name (registration only)">
        <input id="email" type="email" placeholder="Email">
        <input id="password" type="password" placeholder="Password">
        <button class="btn" onclick="submitAuth('login')">Sign in</button>
        <button class="btn btn-light" onclick="submitAuth('register')">Register</button>
        {{if .SSOEnabled}}<p class="hint"><a href="/api/auth/sso/login">Sign in with Microsoft</a></p>{{end}}
        {{if .DemoHint}}<p class="hint">Demo password: {{.DemoHint}}</p>{{end}}
    </div>
</div>
<script>
    async function submitAuth(kind) {
        const payload = {
            email: document.getElementById('email').value,
            password: document.getElementById('password').value,
        };
        if (kind === 'register') payload.name = document.getElementById('name').value;
        try {
            const res = await fetch('/api/auth/' + kind, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify(payload),
            });
            const body = await res.json();
            if (body.success) { location.reload(); return; }
            document.getElementById('error').textContent = body.error;
        } catch (e) {
            document.getElementById('error').textContent = 'Network error';
        }
    }
</script>
{{end}}
</body>
</html>
`
