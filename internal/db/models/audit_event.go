package models

// AuditEvent is one recorded account event (login, key change, ...).
type AuditEvent struct {
	ID        string `gorm:"primaryKey" json:"id"`
	Timestamp int64  `gorm:"index" json:"timestamp"`
	Event     string `gorm:"index" json:"event"`
	Outcome   string `json:"outcome"`
	AccountID string `gorm:"index" json:"accountId,omitempty"`
	Email     string `json:"email,omitempty"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}
