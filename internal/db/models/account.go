package models

import "time"

// Account is the persisted form of a portal account.
// EmailKey is the lowercased email and carries the uniqueness constraint.
type Account struct {
	ID              string `gorm:"primaryKey"`
	Email           string
	EmailKey        string `gorm:"uniqueIndex"`
	Name            string
	Company         string
	Role            string
	Source          string
	PasswordHash    string
	Theme           string
	Notifications   bool
	DefaultTTSVoice string
	IsActive        bool
	LastLogin       *time.Time
	APIKeys         []APIKey `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// APIKey is a key row owned by one account. Position keeps insertion order.
type APIKey struct {
	ID        string `gorm:"primaryKey"`
	AccountID string `gorm:"index"`
	Position  int
	Name      string
	Key       string
	Service   string
	IsActive  bool
	LastUsed  *time.Time
	CreatedAt time.Time
}
