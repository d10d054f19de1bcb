package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/pysugar/app-portal/internal/account"
	"github.com/pysugar/app-portal/internal/account/memory"
	"github.com/pysugar/app-portal/internal/audit"
	"github.com/pysugar/app-portal/internal/auth"
	"github.com/pysugar/app-portal/internal/auth/microsoft"
	"github.com/pysugar/app-portal/internal/auth/session"
	"github.com/pysugar/app-portal/internal/config"
	"github.com/pysugar/app-portal/internal/db"
	"github.com/pysugar/app-portal/internal/embed"
	"github.com/pysugar/app-portal/internal/logging"
	"github.com/pysugar/app-portal/internal/server"
	"github.com/pysugar/app-portal/internal/server/handlers"
)

var serveFlags struct {
	host    string
	port    int
	store   string
	session string
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serveFlags.host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&serveFlags.port, "port", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&serveFlags.store, "store", "", "account store: memory or sqlite")
	cmd.Flags().StringVar(&serveFlags.session, "session", "", "session backend: memory, redis or jwt")
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the portal HTTP server",
		RunE:  runServe,
	}
	addServeFlags(cmd)
	return cmd
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = serveFlags.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = serveFlags.port
	}
	if flags.Changed("store") {
		cfg.Store.Backend = serveFlags.store
	}
	if flags.Changed("session") {
		cfg.Session.Backend = serveFlags.session
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, &cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	log := logging.For("Main")
	log.WithFields(logrus.Fields{
		"addr":    cfg.Addr(),
		"mode":    cfg.Server.Mode,
		"store":   cfg.Store.Backend,
		"session": cfg.Session.Backend,
		"sso":     st.sso != nil,
	}).Info("portal starting")

	deps := server.Deps{
		Auth:    st.svc,
		Audit:   st.audit,
		Apps:    st.apps,
		Cookies: handlers.Cookies{Name: handlers.DefaultCookieName, Secure: cfg.Production()},
	}
	if st.sso != nil {
		deps.SSO = st.sso
	}

	err = server.Run(ctx, cfg.Addr(), server.NewRouter(deps), cfg.Server.ShutdownTimeout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("portal stopped")
	return nil
}

// stack is the wired set of services behind the HTTP server.
type stack struct {
	accounts account.Repository
	database *gorm.DB
	tokens   session.Tokens
	audit    *audit.Recorder
	svc      *auth.Service
	sso      *microsoft.Adapter
	apps     embed.Registry
	closers  []func() error
}

func buildStack(ctx context.Context, cfg config.Config) (*stack, error) {
	st := &stack{}

	repo, database, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	st.accounts, st.database = repo, database

	st.tokens, err = openTokens(ctx, cfg, database, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	st.audit = audit.NewRecorder(database)
	st.closers = append(st.closers, func() error { st.audit.Flush(); return nil })

	st.svc = auth.NewService(st.accounts, st.tokens, st.audit, auth.Options{
		DemoPassword:         cfg.Auth.DemoPassword,
		VerifyStoredPassword: cfg.Auth.VerifyStoredPassword,
	})

	if ssoCfg := microsoftConfig(cfg); ssoCfg.Configured() {
		st.sso = microsoft.New(ssoCfg)
	}

	st.apps = embed.NewRegistry(
		embed.TTS(cfg.Apps.TTS.URL, cfg.Apps.TTS.Origin),
		embed.Lexicon(cfg.Apps.Lexicon.URL, cfg.Apps.Lexicon.Origin),
	)
	return st, nil
}

// Replaced in tests.
var (
	initDB          = db.InitDB
	seedDemoAccount = db.SeedDemoAccount
)

// openStore returns the account repository and, for sqlite, the database handle.
// The handle is closed again when seeding fails.
func openStore(ctx context.Context, cfg config.Config) (account.Repository, *gorm.DB, error) {
	var (
		repo     account.Repository
		database *gorm.DB
	)
	switch cfg.Store.Backend {
	case config.StoreSQLite:
		d, err := initDB(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		repo, database = db.NewAccountRepository(d), d
	default:
		repo = memory.New()
	}

	if cfg.Store.Seed {
		if _, err := seedDemoAccount(ctx, repo); err != nil {
			db.Close(database)
			return nil, nil, fmt.Errorf("seed demo account: %w", err)
		}
	}
	return repo, database, nil
}

func openTokens(ctx context.Context, cfg config.Config, database *gorm.DB, st *stack) (session.Tokens, error) {
	switch cfg.Session.Backend {
	case config.SessionRedis:
		r := cfg.Session.Redis
		store, err := session.DialRedis(ctx, r.Addr, r.Password, r.DB)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, store.Close)
		return store, nil
	case config.SessionJWT:
		secret, err := db.GetSessionSecret(database)
		if err != nil {
			return nil, err
		}
		return session.NewJWTTokens(secret)
	default:
		return session.NewMemoryStore(), nil
	}
}

func microsoftConfig(cfg config.Config) microsoft.Config {
	redirect := cfg.SSO.RedirectURL
	if redirect == "" {
		base := cfg.Server.BaseURL
		if base == "" {
			base = "http://" + cfg.Addr()
		}
		redirect = strings.TrimRight(base, "/") + "/api/auth/sso/callback"
	}
	return microsoft.Config{
		ClientID:     cfg.SSO.ClientID,
		ClientSecret: cfg.SSO.ClientSecret,
		Tenant:       cfg.SSO.Tenant,
		Authority:    cfg.SSO.Authority,
		RedirectURL:  redirect,
	}
}

// Close releases the stack's resources in reverse order.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logging.For("Main").WithError(err).Warn("shutdown step failed")
		}
	}
	s.closers = nil
	if err := db.Close(s.database); err != nil {
		logging.For("Main").WithError(err).Warn("close database failed")
	}
}
