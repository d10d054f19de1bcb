package handlers

import (
	"net/http"

	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/server/middleware"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler handles POST /api/auth/login
func LoginHandler(svc *auth.Service, cookies Cookies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}

		res, err := svc.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			writeFailure(w, r, err, http.StatusUnauthorized, "Login failed")
			return
		}

		cookies.set(w, res.Token)
		writeOK(w, map[string]interface{}{"account": res.Account})
	}
}

// RegisterHandler handles POST /api/auth/register
func RegisterHandler(svc *auth.Service, cookies Cookies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.RegisterInput
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}

		res, err := svc.Register(r.Context(), req)
		if err != nil {
			writeFailure(w, r, err, http.StatusBadRequest, "Registration failed")
			return
		}

		cookies.set(w, res.Token)
		writeOK(w, map[string]interface{}{"account": res.Account})
	}
}

// MeHandler handles GET /api/auth/me
func MeHandler(svc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, ok, err := svc.AccountByToken(r.Context(), middleware.SessionToken(r.Context()))
		if err != nil {
			writeFailure(w, r, err, http.StatusUnauthorized, "Authentication check failed")
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		writeOK(w, map[string]interface{}{"account": acct})
	}
}

// LogoutHandler handles POST /api/auth/logout. The cookie is cleared even when
// the token was already unknown.
func LogoutHandler(svc *auth.Service, cookies Cookies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookies.clear(w)

		revoked, err := svc.Logout(r.Context(), middleware.SessionToken(r.Context()))
		if err != nil {
			writeFailure(w, r, err, http.StatusBadRequest, "Logout failed")
			return
		}
		writeOK(w, map[string]interface{}{"revoked": revoked})
	}
}
