// Package config loads portal settings. Sources are applied in order, later ones
// winning: built-in defaults, a YAML file, a .env file, PORTAL_* environment
// variables, then command-line flags (applied by the caller).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode values.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	SessionMemory = "memory"
	SessionRedis  = "redis"
	SessionJWT    = "jwt"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`
	Auth    AuthConfig    `yaml:"auth"`
	SSO     SSOConfig     `yaml:"sso"`
	Apps    AppsConfig    `yaml:"apps"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Mode "production" marks the session cookie Secure.
	Mode            string        `yaml:"mode"`
	BaseURL         string        `yaml:"base_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Seed    bool   `yaml:"seed"`
}

type SessionConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	DemoPassword         string `yaml:"demo_password"`
	VerifyStoredPassword bool   `yaml:"verify_stored_password"`
}

type SSOConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Tenant       string `yaml:"tenant"`
	Authority    string `yaml:"authority"`
	RedirectURL  string `yaml:"redirect_url"`
}

type AppsConfig struct {
	TTS     AppConfig `yaml:"tts"`
	Lexicon AppConfig `yaml:"lexicon"`
}

// AppConfig locates one embedded application. Origin defaults to the scheme and host of URL.
type AppConfig struct {
	URL    string `yaml:"url"`
	Origin string `yaml:"origin"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            3000,
			Mode:            ModeDevelopment,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Store:   StoreConfig{Backend: StoreMemory, Path: "portal.db", Seed: true},
		Session: SessionConfig{Backend: SessionMemory, Redis: RedisConfig{Addr: "127.0.0.1:6379"}},
		Auth:    AuthConfig{DemoPassword: "demo123"},
		SSO:     SSOConfig{Tenant: "common"},
		Apps: AppsConfig{
			TTS:     AppConfig{URL: "https://tts.example.com/?mode=suite"},
			Lexicon: AppConfig{URL: "https://lexicon.example.com/?mode=suite"},
		},
	}
}

// Load builds a Config. path may be empty, in which case PORTAL_CONFIG and the
// standard candidate locations are tried. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return cfg, err
	}
	if resolved != "" {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %q: %w", resolved, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %q: %w", resolved, err)
		}
	}

	if err := loadDotEnv(); err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	envFile := strings.TrimSpace(os.Getenv("PORTAL_ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit == "" {
		explicit = strings.TrimSpace(os.Getenv("PORTAL_CONFIG"))
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/portal.yaml",
		"/etc/portal/portal.yaml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "portal", "portal.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	str("PORTAL_HOST", &cfg.Server.Host)
	str("PORTAL_MODE", &cfg.Server.Mode)
	str("PORTAL_BASE_URL", &cfg.Server.BaseURL)
	str("PORTAL_LOG_LEVEL", &cfg.Log.Level)
	str("PORTAL_LOG_FORMAT", &cfg.Log.Format)
	str("PORTAL_STORE_BACKEND", &cfg.Store.Backend)
	str("PORTAL_DB_PATH", &cfg.Store.Path)
	str("PORTAL_SESSION_BACKEND", &cfg.Session.Backend)
	str("PORTAL_REDIS_ADDR", &cfg.Session.Redis.Addr)
	str("PORTAL_REDIS_PASSWORD", &cfg.Session.Redis.Password)
	str("PORTAL_DEMO_PASSWORD", &cfg.Auth.DemoPassword)
	str("PORTAL_AZURE_CLIENT_ID", &cfg.SSO.ClientID)
	str("PORTAL_AZURE_CLIENT_SECRET", &cfg.SSO.ClientSecret)
	str("PORTAL_AZURE_TENANT", &cfg.SSO.Tenant)
	str("PORTAL_AZURE_AUTHORITY", &cfg.SSO.Authority)
	str("PORTAL_REDIRECT_URI", &cfg.SSO.RedirectURL)
	str("PORTAL_TTS_URL", &cfg.Apps.TTS.URL)
	str("PORTAL_TTS_ORIGIN", &cfg.Apps.TTS.Origin)
	str("PORTAL_LEXICON_URL", &cfg.Apps.Lexicon.URL)
	str("PORTAL_LEXICON_ORIGIN", &cfg.Apps.Lexicon.Origin)

	ints := map[string]*int{
		"PORTAL_PORT":     &cfg.Server.Port,
		"PORTAL_REDIS_DB": &cfg.Session.Redis.DB,
	}
	for key, dst := range ints {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"PORTAL_SEED_DEMO":              &cfg.Store.Seed,
		"PORTAL_VERIFY_STORED_PASSWORD": &cfg.Auth.VerifyStoredPassword,
	}
	for key, dst := range bools {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks enum fields and fills derived values (app origins).
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("server.mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.Server.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Store.Backend {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("store.backend must be memory or sqlite, got %q", c.Store.Backend)
	}
	switch c.Session.Backend {
	case SessionMemory, SessionRedis, SessionJWT:
	default:
		return fmt.Errorf("session.backend must be memory, redis or jwt, got %q", c.Session.Backend)
	}
	if c.Session.Backend == SessionJWT && c.Store.Backend != StoreSQLite {
		return errors.New("session.backend jwt needs store.backend sqlite to persist its signing secret")
	}

	for name, app := range map[string]*AppConfig{"tts": &c.Apps.TTS, "lexicon": &c.Apps.Lexicon} {
		if app.Origin != "" {
			continue
		}
		origin, err := OriginOf(app.URL)
		if err != nil {
			return fmt.Errorf("apps.%s.url: %w", name, err)
		}
		app.Origin = origin
	}
	return nil
}

// Production reports whether the portal runs in production mode.
func (c Config) Production() bool {
	return c.Server.Mode == ModeProduction
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// OriginOf returns "scheme://host[:port]" for an absolute URL.
func OriginOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute URL", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
