// Package server assembles the portal's HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pysugar/app-portal/internal/audit"
	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/auth/microsoft"
	"github.com/pysugar/app-portal/internal/embed"
	"github.com/pysugar/app-portal/internal/logging"
	"github.com/pysugar/app-portal/internal/metrics"
	"github.com/pysugar/app-portal/internal/server/handlers"
	"github.com/pysugar/app-portal/internal/server/middleware"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Auth    *auth.Service
	SSO     handlers.SSOProvider
	Audit   *audit.Recorder
	Apps    embed.Registry
	Cookies handlers.Cookies
}

// NewRouter builds the portal's route table.
func NewRouter(d Deps) http.Handler {
	ssoEnabled := d.SSO != nil
	if d.SSO == nil {
		d.SSO = microsoft.New(microsoft.Config{})
	}
	if d.Cookies.Name == "" {
		d.Cookies.Name = handlers.DefaultCookieName
	}
	if d.Audit == nil {
		d.Audit = audit.NewRecorder(nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/", handlers.PortalPageHandler(d.Auth, d.Apps, d.Cookies, ssoEnabled))
	r.Get("/healthz", handlers.HealthHandler())
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", handlers.VersionHandler())

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", handlers.LoginHandler(d.Auth, d.Cookies))
			r.Post("/register", handlers.RegisterHandler(d.Auth, d.Cookies))
			r.Get("/sso/login", handlers.SSOLoginHandler(d.SSO))
			r.Get("/sso/callback", handlers.SSOCallbackHandler(d.SSO, d.Auth, d.Cookies))

			r.Group(func(r chi.Router) {
				r.Use(middleware.SessionCookie(d.Cookies.Name))
				r.Get("/me", handlers.MeHandler(d.Auth))
				r.Post("/logout", handlers.LogoutHandler(d.Auth, d.Cookies))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionCookie(d.Cookies.Name))

			r.Get("/account/api-keys", handlers.ListAPIKeysHandler(d.Auth))
			r.Post("/account/api-keys", handlers.AddAPIKeyHandler(d.Auth))
			r.Delete("/account/api-keys/{keyId}", handlers.RemoveAPIKeyHandler(d.Auth))
			r.Put("/account/preferences", handlers.UpdatePreferencesHandler(d.Auth))

			r.Get("/portal/embed/{app}", handlers.EmbedPlanHandler(d.Auth, d.Apps))

			r.Get("/admin/accounts", handlers.AdminAccountsHandler(d.Auth))
			r.Get("/admin/audit", handlers.AdminAuditHandler(d.Auth, d.Audit))
		})
	})

	return r
}

// Run serves h on addr until ctx is cancelled, then drains in-flight requests
// for up to shutdownTimeout.
func Run(ctx context.Context, addr string, h http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.For("HTTP").Infof("portal listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.For("HTTP").Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
