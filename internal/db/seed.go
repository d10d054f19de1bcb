package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/app-portal/internal/account"
	"github.com/pysugar/app-portal/internal/logging"
)

// DemoEmail is the address of the seeded administrator account.
const DemoEmail = "demo@example.com"

// DemoAccount returns the seeded administrator with one TTS and one Lexicon key.
// The key material is placeholder text.
func DemoAccount(now time.Time) account.Account {
	day := func(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }
	ttsUsed, lexUsed := day(time.January, 20), day(time.January, 21)

	return account.Account{
		ID:      "1",
		Email:   DemoEmail,
		Name:    "Demo User",
		Company: "Example Corp",
		Role:    account.RoleAdmin,
		APIKeys: []account.APIKey{
			{
				ID:        "key-1",
				Name:      "Demo Web TTS",
				Key:       "demo-tts-0000000000000000000000000000",
				Service:   account.ServiceTTS,
				CreatedAt: day(time.January, 15),
				LastUsed:  &ttsUsed,
				IsActive:  true,
			},
			{
				ID:        "key-2",
				Name:      "Demo Lexicon Editor",
				Key:       "demo-lexicon-000000000000000000000000",
				Service:   account.ServiceLexicon,
				CreatedAt: day(time.January, 16),
				LastUsed:  &lexUsed,
				IsActive:  true,
			},
		},
		Preferences: account.Preferences{
			Theme:           account.ThemeAuto,
			Notifications:   true,
			DefaultTTSVoice: "en-US-AriaNeural",
		},
		CreatedAt: day(time.January, 1),
		LastLogin: &now,
		IsActive:  true,
		Source:    account.SourceLocal,
	}
}

// SeedDemoAccount inserts the demo account unless its email is already present.
// It reports whether a row was written.
func SeedDemoAccount(ctx context.Context, repo account.Repository) (bool, error) {
	_, err := repo.GetByEmail(ctx, DemoEmail)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, account.ErrNotFound) {
		return false, fmt.Errorf("seed demo account: %w", err)
	}

	if _, err := repo.Insert(ctx, DemoAccount(time.Now().UTC())); err != nil {
		if errors.Is(err, account.ErrDuplicateEmail) {
			return false, nil
		}
		return false, fmt.Errorf("seed demo account: %w", err)
	}
	logging.For("DB").WithField("email", DemoEmail).Info("seeded demo account")
	return true, nil
}
