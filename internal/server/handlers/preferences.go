package handlers

import (
	"net/http"

	"github.com/pysugar/app-portal/internal/account"
	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/server/middleware"
)

// UpdatePreferencesHandler handles PUT /api/account/preferences
func UpdatePreferencesHandler(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch account.PreferencesPatch
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}

		prefs, err := svc.UpdatePreferences(r.Context(), middleware.SessionToken(r.Context()), patch)
		if err != nil {
			writeFailure(w, r, err, http.StatusBadRequest, "Failed to update preferences")
			return
		}
		writeOK(w, map[string]interface{}{"preferences": prefs})
	}
}
