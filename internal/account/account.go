// Package account holds the portal's account model: identities, the API keys they own,
// and their display preferences.
package account

import (
	"fmt"
	"strings"
	"time"
)

// Role is the coarse permission level of an account.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// Service identifies which embedded application an API key is meant for.
type Service string

const (
	ServiceTTS     Service = "tts"
	ServiceLexicon Service = "lexicon"
	ServiceAzure   Service = "azure"
	ServiceOther   Service = "other"
)

// Theme is the UI color scheme preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// Source records how an account was first created.
type Source string

const (
	SourceLocal     Source = "local"
	SourceMicrosoft Source = "microsoft"
)

// APIKey is a credential for one external service, owned by exactly one account.
// Key is secret material: it is only ever shown masked and never logged.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	Service   Service    `json:"service"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
	IsActive  bool       `json:"isActive"`
}

// Preferences are user-tunable display settings.
type Preferences struct {
	Theme           Theme  `json:"theme"`
	Notifications   bool   `json:"notifications"`
	DefaultTTSVoice string `json:"defaultTtsVoice,omitempty"`
}

// PreferencesPatch is a partial preferences update. Nil fields are left untouched.
type PreferencesPatch struct {
	Theme           *Theme  `json:"theme,omitempty"`
	Notifications   *bool   `json:"notifications,omitempty"`
	DefaultTTSVoice *string `json:"defaultTtsVoice,omitempty"`
}

// Account is the portal identity record.
type Account struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	Name         string      `json:"name"`
	Company      string      `json:"company,omitempty"`
	Role         Role        `json:"role"`
	APIKeys      []APIKey    `json:"apiKeys"`
	Preferences  Preferences `json:"preferences"`
	CreatedAt    time.Time   `json:"createdAt"`
	LastLogin    *time.Time  `json:"lastLogin,omitempty"`
	IsActive     bool        `json:"isActive"`
	Source       Source      `json:"-"`
	PasswordHash string      `json:"-"`
}

// DefaultPreferences are applied to every newly created account.
func DefaultPreferences() Preferences {
	return Preferences{Theme: ThemeAuto, Notifications: true}
}

// Merge applies a shallow partial update.
func (p Preferences) Merge(patch PreferencesPatch) Preferences {
	if patch.Theme != nil {
		p.Theme = *patch.Theme
	}
	if patch.Notifications != nil {
		p.Notifications = *patch.Notifications
	}
	if patch.DefaultTTSVoice != nil {
		p.DefaultTTSVoice = *patch.DefaultTTSVoice
	}
	return p
}

// FirstActiveKey returns the first active key for service in insertion order.
func (a *Account) FirstActiveKey(service Service) (APIKey, bool) {
	if a == nil {
		return APIKey{}, false
	}
	for _, k := range a.APIKeys {
		if k.Service == service && k.IsActive {
			return k, true
		}
	}
	return APIKey{}, false
}

// KeyIndex returns the slice position of the key with the given id, or -1.
func (a *Account) KeyIndex(id string) int {
	for i, k := range a.APIKeys {
		if k.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate freely.
func (a Account) Clone() Account {
	out := a
	if a.APIKeys != nil {
		out.APIKeys = make([]APIKey, len(a.APIKeys))
		for i, k := range a.APIKeys {
			out.APIKeys[i] = k
			if k.LastUsed != nil {
				t := *k.LastUsed
				out.APIKeys[i].LastUsed = &t
			}
		}
	}
	if a.LastLogin != nil {
		t := *a.LastLogin
		out.LastLogin = &t
	}
	return out
}

// NormalizeEmail is the comparison form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ParseService validates a service name.
func ParseService(s string) (Service, error) {
	switch Service(s) {
	case ServiceTTS, ServiceLexicon, ServiceAzure, ServiceOther:
		return Service(s), nil
	}
	return "", fmt.Errorf("unknown service %q", s)
}

// ParseTheme validates a theme name.
func ParseTheme(s string) (Theme, error) {
	switch Theme(s) {
	case ThemeLight, ThemeDark, ThemeAuto:
		return Theme(s), nil
	}
	return "", fmt.Errorf("unknown theme %q", s)
}

// ServiceName is the human label shown next to a key.
func ServiceName(s Service) string {
	switch s {
	case ServiceAzure:
		return "Azure"
	case ServiceTTS:
		return "TTS Service"
	case ServiceLexicon:
		return "Lexicon Service"
	default:
		return "Other"
	}
}

const maskFill = "••••••••"

// MaskKey hides key material for display, keeping the first and last four characters.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return maskFill
	}
	return key[:4] + maskFill + key[len(key)-4:]
}

// Masked returns a copy of the account with every key's material masked.
func (a Account) Masked() Account {
	out := a.Clone()
	for i := range out.APIKeys {
		out.APIKeys[i].Key = MaskKey(out.APIKeys[i].Key)
	}
	return out
}
