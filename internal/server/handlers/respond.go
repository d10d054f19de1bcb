// Package handlers holds the portal's HTTP handlers. Every JSON response carries
// a "success" flag. Failures add an "error" message that is safe to display.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, body map[string]interface{}) {
	if body == nil {
		body = map[string]interface{}{}
	}
	body["success"] = true
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

// writeFailure maps err to a response: domain errors get domainStatus and their
// own message, anything else is logged and answered with 500 and fallback.
func writeFailure(w http.ResponseWriter, r *http.Request, err error, domainStatus int, fallback string) {
	if e, ok := auth.AsError(err); ok {
		writeError(w, domainStatus, e.Message)
		return
	}
	logging.FromContext(r.Context(), "HTTP").WithFields(logrus.Fields{
		"path": r.URL.Path,
	}).WithError(err).Error(fallback)
	writeError(w, http.StatusInternalServerError, fallback)
}

// decodeJSON reads a JSON body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
