package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/auth/microsoft"
	"github.com/pysugar/app-portal/internal/logging"
)

// SSOProvider is the part of the Microsoft adapter the HTTP layer drives.
type SSOProvider interface {
	Initialize(ctx context.Context) error
	BeginLogin() (string, error)
	CompleteLogin(ctx context.Context, state, code string) (*microsoft.Result, error)
	AccessTokenFor(ctx context.Context, homeAccountID string) string
}

// SSOLoginHandler handles GET /api/auth/sso/login by redirecting to the broker.
func SSOLoginHandler(sso SSOProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context(), "SSO")

		if err := sso.Initialize(r.Context()); err != nil {
			log.WithError(err).Error("sso initialization failed")
			writeError(w, http.StatusInternalServerError, "Failed to initiate SSO login")
			return
		}
		authURL, err := sso.BeginLogin()
		if err != nil || authURL == "" {
			log.WithError(err).Error("sso login could not start")
			writeError(w, http.StatusInternalServerError, "Failed to initiate SSO login")
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// SSOCallbackHandler handles GET /api/auth/sso/callback: it completes the code
// exchange, reconciles the identity with the account store and opens a local session.
func SSOCallbackHandler(sso SSOProvider, svc *auth.Service, cookies Cookies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logging.FromContext(ctx, "SSO")
		q := r.URL.Query()

		if brokerErr := q.Get("error"); brokerErr != "" {
			log.WithFields(logrus.Fields{
				"error":       brokerErr,
				"description": q.Get("error_description"),
			}).Warn("broker returned an error")
			writeError(w, http.StatusUnauthorized, "SSO login was cancelled or denied")
			return
		}

		code := q.Get("code")
		if code == "" {
			writeError(w, http.StatusBadRequest, "Authorization code not found")
			return
		}

		if err := sso.Initialize(ctx); err != nil {
			log.WithError(err).Error("sso initialization failed")
			writeError(w, http.StatusInternalServerError, "SSO authentication failed")
			return
		}

		result, err := sso.CompleteLogin(ctx, q.Get("state"), code)
		if err != nil {
			log.WithError(err).Warn("sso code exchange failed")
			cookies.clear(w)
			writeError(w, http.StatusUnauthorized, "No authenticated account found")
			return
		}

		// Only the identity this callback just authenticated may be used.
		ident := result.Identity
		if ident.HomeAccountID == "" {
			writeError(w, http.StatusUnauthorized, "No authenticated account found")
			return
		}
		if sso.AccessTokenFor(ctx, ident.HomeAccountID) == "" {
			writeError(w, http.StatusUnauthorized, "Failed to acquire access token")
			return
		}

		res, err := svc.LoginWithIdentity(ctx, microsoft.ConvertToAccount(ident, time.Now().UTC()))
		if err != nil {
			cookies.clear(w)
			writeFailure(w, r, err, http.StatusUnauthorized, "SSO authentication failed")
			return
		}

		cookies.set(w, res.Token)
		http.Redirect(w, r, "/", http.StatusFound)
	}
}
