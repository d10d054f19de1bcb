package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/server/middleware"
)

// ListAPIKeysHandler handles GET /api/account/api-keys
func ListAPIKeysHandler(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, ok, err := svc.AccountByToken(r.Context(), middleware.SessionToken(r.Context()))
		if err != nil {
			writeFailure(w, r, err, http.StatusUnauthorized, "Failed to fetch API keys")
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, auth.ErrInvalidToken.Message)
			return
		}
		writeOK(w, map[string]interface{}{"apiKeys": acct.APIKeys})
	}
}

// AddAPIKeyHandler handles POST /api/account/api-keys
func AddAPIKeyHandler(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.APIKeyInput
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}

		key, err := svc.AddAPIKey(r.Context(), middleware.SessionToken(r.Context()), req)
		if err != nil {
			writeFailure(w, r, err, http.StatusBadRequest, "Failed to add API key")
			return
		}
		writeOK(w, map[string]interface{}{"apiKey": key})
	}
}

// RemoveAPIKeyHandler handles DELETE /api/account/api-keys/{keyId}
func RemoveAPIKeyHandler(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID := chi.URLParam(r, "keyId")

		if err := svc.RemoveAPIKey(r.Context(), middleware.SessionToken(r.Context()), keyID); err != nil {
			writeFailure(w, r, err, http.StatusBadRequest, "Failed to remove API key")
			return
		}
		writeOK(w, nil)
	}
}
