// Package logging configures the process logger and carries request IDs through
// contexts so log lines from one request can be correlated.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

// Init sets the global level ("debug", "info", "warn", "error") and format ("text" or "json").
// Unknown levels fall back to info.
func Init(level, format string, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	base.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Logger returns the process-wide logger.
func Logger() *logrus.Logger {
	return base
}

// For returns an entry tagged with a component name, e.g. "Auth" or "SSO".
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// FromContext returns a component entry carrying the context's request ID, if any.
func FromContext(ctx context.Context, component string) *logrus.Entry {
	entry := For(component)
	if id := GetRequestID(ctx); id != "" {
		entry = entry.WithField("request_id", id)
	}
	return entry
}

// MaskToken keeps only the tail of a session token for log correlation.
func MaskToken(t string) string {
	if len(t) < 16 {
		return "..."
	}
	return "..." + t[len(t)-8:]
}
