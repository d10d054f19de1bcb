// Package middleware holds the portal's HTTP middleware: session cookie
// extraction, request IDs and request logging.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

type ctxKey int

const sessionTokenKey ctxKey = iota

// SessionCookie rejects requests without the named cookie with
// 401 {"success":false,"error":"Not authenticated"} before any handler runs.
// Otherwise the cookie value is available through SessionToken.
func SessionCookie(name string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(name)
			if err != nil || c.Value == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"success": false,
					"error":   "Not authenticated",
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSessionToken(r.Context(), c.Value)))
		})
	}
}

// WithSessionToken stores the session token in ctx.
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionTokenKey, token)
}

// SessionToken returns the token placed by SessionCookie, or "".
func SessionToken(ctx context.Context) string {
	tok, _ := ctx.Value(sessionTokenKey).(string)
	return tok
}
