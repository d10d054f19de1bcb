package handlers

import (
	"net/http"

	"github.com/pysugar/app-portal/internal/version"
)

// VersionHandler handles GET /api/version
func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, map[string]interface{}{
			"version":   version.Version,
			"commit":    version.Commit,
			"buildTime": version.BuildTime,
		})
	}
}

// HealthHandler handles GET /healthz
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, map[string]interface{}{"status": "ok"})
	}
}
