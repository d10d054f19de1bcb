// Package audit records account events (logins, registrations, key changes) in a
// bounded in-memory list and, when a database is attached, persists them asynchronously.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pysugar/app-portal/internal/db/models"
	"github.com/pysugar/app-portal/internal/logging"
)

// MaxMemoryEvents limits the in-memory event cache.
const MaxMemoryEvents = 200

// MaxDetailLen caps the free-text detail stored with an event.
const MaxDetailLen = 256

// Event names.
const (
	EventLogin          = "login"
	EventRegister       = "register"
	EventLogout         = "logout"
	EventSSOLogin       = "sso_login"
	EventAPIKeyAdded    = "api_key_added"
	EventAPIKeyRemoved  = "api_key_removed"
	EventPrefsUpdated   = "preferences_updated"
	EventAccountListing = "account_listing"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder keeps recent events. A nil db means memory only.
type Recorder struct {
	db *gorm.DB

	mu     sync.RWMutex
	recent []models.AuditEvent

	wg sync.WaitGroup
}

// NewRecorder creates a recorder. Pass nil to keep events in memory only.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{
		db:     db,
		recent: make([]models.AuditEvent, 0, MaxMemoryEvents),
	}
}

// Record stores an event. Persistence runs in the background and never blocks the caller.
func (r *Recorder) Record(ctx context.Context, ev models.AuditEvent) {
	if r == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	if ev.RequestID == "" {
		ev.RequestID = logging.GetRequestID(ctx)
	}
	ev.Detail = truncate(ev.Detail, MaxDetailLen)

	r.mu.Lock()
	r.recent = append([]models.AuditEvent{ev}, r.recent...)
	if len(r.recent) > MaxMemoryEvents {
		r.recent = r.recent[:MaxMemoryEvents]
	}
	r.mu.Unlock()

	if r.db == nil {
		return
	}
	r.wg.Add(1)
	go func(entry models.AuditEvent) {
		defer r.wg.Done()
		if err := r.db.Create(&entry).Error; err != nil {
			logging.For("Audit").WithError(err).Warn("failed to persist audit event")
		}
	}(ev)
}

// Recent returns up to limit events, newest first. With a database attached it
// reads the persisted history and falls back to memory on error.
func (r *Recorder) Recent(limit int) []models.AuditEvent {
	if limit <= 0 || limit > MaxMemoryEvents {
		limit = MaxMemoryEvents
	}

	if r.db != nil {
		var events []models.AuditEvent
		err := r.db.Order("timestamp DESC").Limit(limit).Find(&events).Error
		if err == nil {
			return events
		}
		logging.For("Audit").WithError(err).Warn("failed to read audit events, using memory cache")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit > len(r.recent) {
		limit = len(r.recent)
	}
	out := make([]models.AuditEvent, limit)
	copy(out, r.recent[:limit])
	return out
}

// Flush waits for pending background writes.
func (r *Recorder) Flush() {
	r.wg.Wait()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}
