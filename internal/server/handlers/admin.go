package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/pysugar/app-portal/internal/account"
	"github.com/pysugar/app-portal/internal/audit"
	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/server/middleware"
)

// AdminAccountsHandler handles GET /api/admin/accounts. Key material is masked.
func AdminAccountsHandler(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := svc.ListAccounts(r.Context(), middleware.SessionToken(r.Context()))
		if errors.Is(err, auth.ErrForbidden) {
			writeError(w, http.StatusForbidden, auth.ErrForbidden.Message)
			return
		}
		if err != nil {
			writeFailure(w, r, err, http.StatusBadRequest, "Failed to list accounts")
			return
		}

		views := make([]account.Account, 0, len(all))
		for _, a := range all {
			views = append(views, a.Masked())
		}
		writeOK(w, map[string]interface{}{
			"accounts": views,
			"count":    len(views),
		})
	}
}

// AdminAuditHandler handles GET /api/admin/audit?limit=N
func AdminAuditHandler(svc *auth.Service, rec *audit.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, err := svc.IsAdmin(r.Context(), middleware.SessionToken(r.Context()))
		if err != nil {
			writeFailure(w, r, err, http.StatusBadRequest, "Failed to load audit events")
			return
		}
		if !admin {
			writeError(w, http.StatusForbidden, auth.ErrForbidden.Message)
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events := rec.Recent(limit)
		writeOK(w, map[string]interface{}{
			"events": events,
			"count":  len(events),
		})
	}
}
