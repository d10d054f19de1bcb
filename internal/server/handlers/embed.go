package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/embed"
	"github.com/pysugar/app-portal/internal/logging"
	"github.com/pysugar/app-portal/internal/server/middleware"
)

// EmbedPlanHandler handles GET /api/portal/embed/{app}?reload=N: the frame URL,
// target origin and key messages the host page posts after the frame loads.
// reload is the number of retries the page has already made for this panel.
func EmbedPlanHandler(svc *auth.Service, apps embed.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := embed.ParseAppID(chi.URLParam(r, "app"))
		if err != nil {
			writeError(w, http.StatusNotFound, "Unknown application")
			return
		}
		app, ok := apps.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "Unknown application")
			return
		}

		acct, ok, err := svc.AccountByToken(r.Context(), middleware.SessionToken(r.Context()))
		if err != nil {
			writeFailure(w, r, err, http.StatusUnauthorized, "Failed to prepare application")
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, auth.ErrInvalidToken.Message)
			return
		}

		reloads, _ := strconv.Atoi(r.URL.Query().Get("reload"))
		plan, err := embed.ResumeFrame(app, &acct, reloads).Loaded(&acct)
		if errors.Is(err, embed.ErrMissingKey) {
			writeError(w, http.StatusBadRequest, embed.ErrMissingKey.Error())
			return
		}
		if err != nil {
			writeFailure(w, r, err, http.StatusBadRequest, "Failed to prepare application")
			return
		}

		if err := svc.TouchAPIKeys(r.Context(), acct.ID, plan.KeyIDs); err != nil {
			logging.FromContext(r.Context(), "Embed").WithError(err).Warn("failed to record key usage")
		}
		writeOK(w, map[string]interface{}{"plan": plan})
	}
}
