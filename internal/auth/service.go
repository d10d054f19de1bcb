// Package auth implements the portal's account operations: password and SSO
// login, registration, session lookup, API key management and preferences.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/pysugar/app-portal/internal/account"
	"github.com/pysugar/app-portal/internal/audit"
	"github.com/pysugar/app-portal/internal/auth/session"
	"github.com/pysugar/app-portal/internal/db/models"
	"github.com/pysugar/app-portal/internal/logging"
	"github.com/pysugar/app-portal/internal/metrics"
)

// DefaultDemoPassword is the shared password accepted for every account unless
// stored-password verification is enabled.
const DefaultDemoPassword = "demo123"

// Options tune password handling.
type Options struct {
	// DemoPassword replaces the per-account password check. Empty means DefaultDemoPassword.
	DemoPassword string
	// VerifyStoredPassword checks the account's bcrypt hash instead of DemoPassword.
	VerifyStoredPassword bool
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Result is a successful authentication: the account and its fresh session token.
type Result struct {
	Account account.Account
	Token   string
}

// RegisterInput is the self-service sign-up payload.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Company  string `json:"company,omitempty"`
}

// APIKeyInput is the payload for adding a key.
type APIKeyInput struct {
	Name    string          `json:"name"`
	Key     string          `json:"key"`
	Service account.Service `json:"service"`
}

// Service coordinates the account repository and the session token backend.
// Account read-modify-write sequences are serialized by mu.
type Service struct {
	accounts account.Repository
	tokens   session.Tokens
	audit    *audit.Recorder
	opts     Options
	now      func() time.Time

	mu sync.Mutex
}

// NewService wires the service. rec may be nil.
func NewService(accounts account.Repository, tokens session.Tokens, rec *audit.Recorder, opts Options) *Service {
	if opts.DemoPassword == "" {
		opts.DemoPassword = DefaultDemoPassword
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		accounts: accounts,
		tokens:   tokens,
		audit:    rec,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DemoPasswordHint is the password shown on the login page when the shared
// demo password is in effect, or "" otherwise.
func (s *Service) DemoPasswordHint() string {
	if s.opts.VerifyStoredPassword {
		return ""
	}
	return s.opts.DemoPassword
}

// Login authenticates by email (exact match) and password. Any mismatch yields
// ErrInvalidCredentials and leaves the account untouched.
func (s *Service) Login(ctx context.Context, email, password string) (Result, error) {
	log := logging.FromContext(ctx, "Auth").WithField("email", email)

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, account.ErrNotFound) || (err == nil && (acct.Email != email || !acct.IsActive)) {
		s.record(ctx, audit.EventLogin, audit.OutcomeFailure, account.Account{Email: email}, "unknown or inactive account")
		log.Info("login rejected")
		return Result{}, ErrInvalidCredentials
	}
	if err != nil {
		return Result{}, fmt.Errorf("login lookup: %w", err)
	}

	if !s.passwordMatches(acct, password) {
		s.record(ctx, audit.EventLogin, audit.OutcomeFailure, acct, "password mismatch")
		log.Info("login rejected")
		return Result{}, ErrInvalidCredentials
	}

	res, err := s.startSessionLocked(ctx, acct)
	if err != nil {
		return Result{}, err
	}
	s.record(ctx, audit.EventLogin, audit.OutcomeSuccess, res.Account, "")
	log.WithField("token", logging.MaskToken(res.Token)).Info("login succeeded")
	return res, nil
}

func (s *Service) passwordMatches(acct account.Account, password string) bool {
	if !s.opts.VerifyStoredPassword {
		return password == s.opts.DemoPassword
	}
	if acct.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) == nil
}

// Register creates a user account with empty keys and default preferences and
// logs it in immediately.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Result, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.Company = strings.TrimSpace(in.Company)
	if in.Email == "" || in.Password == "" || in.Name == "" {
		return Result{}, invalidInput("Email, password and name are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.opts.BcryptCost)
	if err != nil {
		return Result{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.accounts.GetByEmail(ctx, in.Email); err == nil {
		s.record(ctx, audit.EventRegister, audit.OutcomeFailure, account.Account{Email: in.Email}, "email taken")
		return Result{}, ErrEmailTaken
	} else if !errors.Is(err, account.ErrNotFound) {
		return Result{}, fmt.Errorf("register lookup: %w", err)
	}

	acct := account.Account{
		ID:           "account-" + uuid.NewString(),
		Email:        in.Email,
		Name:         in.Name,
		Company:      in.Company,
		Role:         account.RoleUser,
		APIKeys:      []account.APIKey{},
		Preferences:  account.DefaultPreferences(),
		CreatedAt:    s.now(),
		IsActive:     true,
		Source:       account.SourceLocal,
		PasswordHash: string(hash),
	}
	created, err := s.accounts.Insert(ctx, acct)
	if errors.Is(err, account.ErrDuplicateEmail) {
		return Result{}, ErrEmailTaken
	}
	if err != nil {
		return Result{}, fmt.Errorf("register insert: %w", err)
	}

	tok, err := s.issue(ctx, created.ID)
	if err != nil {
		return Result{}, err
	}
	s.record(ctx, audit.EventRegister, audit.OutcomeSuccess, created, "")
	logging.FromContext(ctx, "Auth").WithFields(logrus.Fields{
		"account_id": created.ID,
		"token":      logging.MaskToken(tok),
	}).Info("account registered")
	return Result{Account: created, Token: tok}, nil
}

// LoginWithIdentity reconciles an externally authenticated identity with the
// account store and opens a local session. An existing account with the same
// email is reused. Otherwise ident is inserted as a new account.
func (s *Service) LoginWithIdentity(ctx context.Context, ident account.Account) (Result, error) {
	if strings.TrimSpace(ident.Email) == "" {
		return Result{}, invalidInput("Identity has no email")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.accounts.GetByEmail(ctx, ident.Email)
	switch {
	case errors.Is(err, account.ErrNotFound):
		if ident.ID == "" {
			ident.ID = "account-" + uuid.NewString()
		}
		if ident.Role == "" {
			ident.Role = account.RoleUser
		}
		if ident.Preferences.Theme == "" {
			ident.Preferences = account.DefaultPreferences()
		}
		if ident.APIKeys == nil {
			ident.APIKeys = []account.APIKey{}
		}
		if ident.CreatedAt.IsZero() {
			ident.CreatedAt = s.now()
		}
		ident.IsActive = true
		ident.Source = account.SourceMicrosoft
		acct, err = s.accounts.Insert(ctx, ident)
		if err != nil {
			return Result{}, fmt.Errorf("sso insert: %w", err)
		}
		logging.FromContext(ctx, "Auth").WithField("account_id", acct.ID).Info("created account from SSO identity")
	case err != nil:
		return Result{}, fmt.Errorf("sso lookup: %w", err)
	case !acct.IsActive:
		s.record(ctx, audit.EventSSOLogin, audit.OutcomeFailure, acct, "inactive account")
		return Result{}, ErrInvalidCredentials
	}

	res, err := s.startSessionLocked(ctx, acct)
	if err != nil {
		return Result{}, err
	}
	s.record(ctx, audit.EventSSOLogin, audit.OutcomeSuccess, res.Account, "")
	return res, nil
}

func (s *Service) startSessionLocked(ctx context.Context, acct account.Account) (Result, error) {
	tok, err := s.issue(ctx, acct.ID)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	acct.LastLogin = &now
	updated, err := s.accounts.Update(ctx, acct)
	if err != nil {
		s.revoke(ctx, tok)
		return Result{}, fmt.Errorf("record last login: %w", err)
	}
	return Result{Account: updated, Token: tok}, nil
}

func (s *Service) issue(ctx context.Context, accountID string) (string, error) {
	tok, err := s.tokens.Issue(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	metrics.SessionIssued()
	return tok, nil
}

func (s *Service) revoke(ctx context.Context, token string) (bool, error) {
	ok, err := s.tokens.Revoke(ctx, token)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	if ok {
		metrics.SessionRevoked()
	}
	return ok, nil
}

// AccountByToken resolves a session token. An unknown, expired or revoked token
// reports ok=false with a nil error. A non-nil error is an infrastructure failure.
func (s *Service) AccountByToken(ctx context.Context, token string) (account.Account, bool, error) {
	acct, err := s.resolve(ctx, token)
	if errors.Is(err, ErrInvalidToken) {
		return account.Account{}, false, nil
	}
	if err != nil {
		return account.Account{}, false, err
	}
	return acct, true, nil
}

func (s *Service) resolve(ctx context.Context, token string) (account.Account, error) {
	if token == "" {
		return account.Account{}, ErrInvalidToken
	}
	id, err := s.tokens.Validate(ctx, token)
	if errors.Is(err, session.ErrUnknownToken) {
		return account.Account{}, ErrInvalidToken
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("validate session: %w", err)
	}

	acct, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, account.ErrNotFound) {
		return account.Account{}, ErrInvalidToken
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}

// Logout revokes token and reports whether it was live.
func (s *Service) Logout(ctx context.Context, token string) (bool, error) {
	log := logging.FromContext(ctx, "Auth")
	acct, err := s.resolve(ctx, token)
	if err != nil && !errors.Is(err, ErrInvalidToken) {
		log.WithError(err).Warn("logout could not resolve account")
	}
	ok, err := s.revoke(ctx, token)
	if err != nil {
		return false, err
	}
	if ok {
		s.record(ctx, audit.EventLogout, audit.OutcomeSuccess, acct, "")
		log.WithField("token", logging.MaskToken(token)).Info("logged out")
	}
	return ok, nil
}

// AddAPIKey appends a new active key to the token's account and returns it.
func (s *Service) AddAPIKey(ctx context.Context, token string, in APIKeyInput) (account.APIKey, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Key = strings.TrimSpace(in.Key)
	if in.Name == "" || in.Key == "" {
		return account.APIKey{}, invalidInput("API key name and key are required")
	}
	svc, err := account.ParseService(string(in.Service))
	if err != nil {
		return account.APIKey{}, invalidInput("Invalid service")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.resolve(ctx, token)
	if err != nil {
		return account.APIKey{}, err
	}

	key := account.APIKey{
		ID:        "key-" + uuid.NewString(),
		Name:      in.Name,
		Key:       in.Key,
		Service:   svc,
		CreatedAt: s.now(),
		IsActive:  true,
	}
	acct.APIKeys = append(acct.APIKeys, key)
	if _, err := s.accounts.Update(ctx, acct); err != nil {
		return account.APIKey{}, fmt.Errorf("add api key: %w", err)
	}

	s.record(ctx, audit.EventAPIKeyAdded, audit.OutcomeSuccess, acct, string(svc)+" "+key.ID)
	logging.FromContext(ctx, "Auth").WithFields(logrus.Fields{
		"account_id": acct.ID,
		"key_id":     key.ID,
		"service":    svc,
	}).Info("api key added")
	return key, nil
}

// RemoveAPIKey deletes exactly one key by id. A missing id is ErrKeyNotFound.
func (s *Service) RemoveAPIKey(ctx context.Context, token, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}

	idx := acct.KeyIndex(keyID)
	if idx < 0 {
		s.record(ctx, audit.EventAPIKeyRemoved, audit.OutcomeFailure, acct, "not found "+keyID)
		return ErrKeyNotFound
	}
	acct.APIKeys = append(acct.APIKeys[:idx:idx], acct.APIKeys[idx+1:]...)
	if _, err := s.accounts.Update(ctx, acct); err != nil {
		return fmt.Errorf("remove api key: %w", err)
	}

	s.record(ctx, audit.EventAPIKeyRemoved, audit.OutcomeSuccess, acct, keyID)
	logging.FromContext(ctx, "Auth").WithFields(logrus.Fields{
		"account_id": acct.ID,
		"key_id":     keyID,
	}).Info("api key removed")
	return nil
}

// UpdatePreferences merges patch into the account's preferences.
func (s *Service) UpdatePreferences(ctx context.Context, token string, patch account.PreferencesPatch) (account.Preferences, error) {
	if patch.Theme != nil {
		if _, err := account.ParseTheme(string(*patch.Theme)); err != nil {
			return account.Preferences{}, invalidInput("Invalid theme")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.resolve(ctx, token)
	if err != nil {
		return account.Preferences{}, err
	}

	acct.Preferences = acct.Preferences.Merge(patch)
	updated, err := s.accounts.Update(ctx, acct)
	if err != nil {
		return account.Preferences{}, fmt.Errorf("update preferences: %w", err)
	}
	s.record(ctx, audit.EventPrefsUpdated, audit.OutcomeSuccess, acct, "")
	return updated.Preferences, nil
}

// ListAccounts returns every account, for administrators only.
func (s *Service) ListAccounts(ctx context.Context, token string) ([]account.Account, error) {
	acct, err := s.resolve(ctx, token)
	if errors.Is(err, ErrInvalidToken) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	if acct.Role != account.RoleAdmin {
		s.record(ctx, audit.EventAccountListing, audit.OutcomeFailure, acct, "not admin")
		return nil, ErrForbidden
	}

	all, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	s.record(ctx, audit.EventAccountListing, audit.OutcomeSuccess, acct, "")
	return all, nil
}

// IsAdmin reports whether token belongs to an administrator.
func (s *Service) IsAdmin(ctx context.Context, token string) (bool, error) {
	acct, err := s.resolve(ctx, token)
	if errors.Is(err, ErrInvalidToken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return acct.Role == account.RoleAdmin, nil
}

// TouchAPIKeys stamps lastUsed on the given keys of an account. Unknown ids are ignored.
func (s *Service) TouchAPIKeys(ctx context.Context, accountID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("touch api keys: %w", err)
	}

	now := s.now()
	changed := false
	for _, id := range ids {
		if i := acct.KeyIndex(id); i >= 0 {
			t := now
			acct.APIKeys[i].LastUsed = &t
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if _, err := s.accounts.Update(ctx, acct); err != nil {
		return fmt.Errorf("touch api keys: %w", err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, event, outcome string, acct account.Account, detail string) {
	metrics.RecordAuthEvent(event, outcome)
	s.audit.Record(ctx, models.AuditEvent{
		Event:     event,
		Outcome:   outcome,
		AccountID: acct.ID,
		Email:     acct.Email,
		Detail:    detail,
	})
}
