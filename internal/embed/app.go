// Package embed decides what each embedded application receives: its frame URL,
// the exact origin messages are posted to, and the API keys forwarded after load.
package embed

import (
	"errors"
	"fmt"

	"github.com/pysugar/app-portal/internal/account"
)

// MessageType is the only message kind the embedded apps accept.
const MessageType = "SET_TTS_KEY"

// Sandbox is the iframe sandbox attribute for every embedded app.
const Sandbox = "allow-scripts allow-same-origin allow-forms allow-popups allow-popups-to-escape-sandbox allow-downloads"

// ErrMissingKey means the account has no active key for the app's required service.
var ErrMissingKey = errors.New("API key not configured")

// AppID names an embedded application.
type AppID string

const (
	AppNone    AppID = ""
	AppTTS     AppID = "tts"
	AppLexicon AppID = "lexicon"
)

// ParseAppID validates an application name.
func ParseAppID(s string) (AppID, error) {
	switch AppID(s) {
	case AppTTS, AppLexicon:
		return AppID(s), nil
	}
	return AppNone, fmt.Errorf("unknown app %q", s)
}

// Message is posted to the embedded window.
type Message struct {
	Type     string `json:"type"`
	Key      string `json:"key"`
	Provider string `json:"provider"`
}

// KeyBinding forwards the first active key of Service, labelled with Provider.
type KeyBinding struct {
	Service  account.Service
	Provider string
	Required bool
}

// App describes one embedded application.
type App struct {
	ID     AppID
	Name   string
	URL    string
	Origin string
	Keys   []KeyBinding
}

// TTS is the text-to-speech app. It needs a tts key.
func TTS(url, origin string) App {
	return App{
		ID:     AppTTS,
		Name:   "TTS",
		URL:    url,
		Origin: origin,
		Keys: []KeyBinding{
			{Service: account.ServiceTTS, Provider: "azure", Required: true},
		},
	}
}

// Lexicon is the lexicon editor. It needs a lexicon key and also takes a tts key.
func Lexicon(url, origin string) App {
	return App{
		ID:     AppLexicon,
		Name:   "Lexicon Editor",
		URL:    url,
		Origin: origin,
		Keys: []KeyBinding{
			{Service: account.ServiceLexicon, Provider: "azure", Required: true},
			{Service: account.ServiceTTS, Provider: "tts"},
		},
	}
}

// Plan is what a host page needs to embed an app for one account.
type Plan struct {
	App      AppID     `json:"app"`
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	Origin   string    `json:"targetOrigin"`
	Sandbox  string    `json:"sandbox"`
	Messages []Message `json:"messages"`
	// Reload is the retry counter already applied to URL.
	Reload      int    `json:"reload"`
	FailureText string `json:"failureText"`
	// KeyIDs are the ids of the forwarded keys, in message order.
	KeyIDs []string `json:"-"`
}

// Messages builds the key messages for acct, required keys first.
// It fails with ErrMissingKey when a required key is absent.
func (a App) Messages(acct *account.Account) ([]Message, []string, error) {
	var (
		msgs []Message
		ids  []string
	)
	for _, b := range a.Keys {
		key, ok := acct.FirstActiveKey(b.Service)
		if !ok {
			if b.Required {
				return nil, nil, ErrMissingKey
			}
			continue
		}
		msgs = append(msgs, Message{Type: MessageType, Key: key.Key, Provider: b.Provider})
		ids = append(ids, key.ID)
	}
	return msgs, ids, nil
}

// PlanFor returns the embed plan of a for acct.
func (a App) PlanFor(acct *account.Account) (Plan, error) {
	msgs, ids, err := a.Messages(acct)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		App:      a.ID,
		Name:     a.Name,
		URL:      a.URL,
		Origin:   a.Origin,
		Sandbox:  Sandbox,
		Messages: msgs,
		KeyIDs:   ids,
	}, nil
}

// Registry holds the configured apps.
type Registry map[AppID]App

// NewRegistry builds the registry from the two apps.
func NewRegistry(tts, lexicon App) Registry {
	return Registry{tts.ID: tts, lexicon.ID: lexicon}
}

// Get looks an app up by id.
func (r Registry) Get(id AppID) (App, bool) {
	app, ok := r[id]
	return app, ok
}
