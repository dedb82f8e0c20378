package session

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-auth-session/storage"
	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

// Config holds the settings needed to reach an identity backend.
type Config struct {
	BackendURL   string `yaml:"backend_url"`
	PublicKey    string `yaml:"public_key"`
	ServiceKey   string `yaml:"service_key"`
	SiteURL      string `yaml:"site_url"`
	CallbackPath string `yaml:"callback_path"`
	ResetPath    string `yaml:"reset_path"`
	JWKSURL      string `yaml:"jwks_url"`
	JWTSecret    string `yaml:"jwt_secret"`
	DatabaseDSN  string `yaml:"database_dsn"`

	// RequireEmailConfirmation keeps new identities of the SQL backend
	// signed out until their email is verified.
	RequireEmailConfirmation bool `yaml:"require_email_confirmation"`

	LogLevel       string         `yaml:"log_level"`
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	Storage        storage.Config `yaml:"storage"`
}

// DefaultConfig returns the defaults applied before file and environment.
func DefaultConfig() Config {
	return Config{
		SiteURL:        "http://localhost:3000",
		CallbackPath:   "/auth/callback",
		ResetPath:      "/auth/reset-password",
		LogLevel:       "info",
		RequestTimeout: 10 * time.Second,
		Storage:        storage.DefaultConfig(),
	}
}

// LoadConfig reads the optional YAML file at path and then applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read config file").
				WithMetadata(map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	cfg.applyEnv()

	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.BackendURL = getEnv("AUTH_BACKEND_URL", c.BackendURL)
	c.PublicKey = getEnv("AUTH_BACKEND_PUBLIC_KEY", c.PublicKey)
	c.ServiceKey = getEnv("AUTH_BACKEND_SERVICE_KEY", c.ServiceKey)
	c.SiteURL = getEnv("AUTH_SITE_URL", c.SiteURL)
	c.JWKSURL = getEnv("AUTH_JWKS_URL", c.JWKSURL)
	c.JWTSecret = getEnv("AUTH_JWT_SECRET", c.JWTSecret)
	c.DatabaseDSN = getEnv("AUTH_DATABASE_DSN", c.DatabaseDSN)
	c.RequireEmailConfirmation = getEnvBool("AUTH_REQUIRE_EMAIL_CONFIRMATION", c.RequireEmailConfirmation)
	c.LogLevel = getEnv("AUTH_LOG_LEVEL", c.LogLevel)
	c.RequestTimeout = getEnvDuration("AUTH_REQUEST_TIMEOUT", c.RequestTimeout)
	c.Storage.Type = getEnv("AUTH_STORAGE", c.Storage.Type)
	c.Storage.Path = getEnv("AUTH_STORAGE_PATH", c.Storage.Path)
	c.Storage.RedisURL = getEnv("AUTH_REDIS_URL", c.Storage.RedisURL)
	c.Storage.KeyPrefix = getEnv("AUTH_STORAGE_PREFIX", c.Storage.KeyPrefix)
}

// CanReachBackend reports whether the hosted backend settings are present.
func (c *Config) CanReachBackend() bool {
	return strings.TrimSpace(c.BackendURL) != "" && strings.TrimSpace(c.PublicKey) != ""
}

// Validate checks that some backend is configured and the storage settings
// are complete.
func (c *Config) Validate() error {
	if !c.CanReachBackend() && c.DatabaseDSN == "" {
		return ErrMissingBackendConfig.Clone()
	}
	if c.BackendURL != "" {
		if _, err := url.ParseRequestURI(c.BackendURL); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid backend url")
		}
	}
	if c.SiteURL != "" {
		if _, err := url.ParseRequestURI(c.SiteURL); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid site url")
		}
	}
	return c.Storage.Validate()
}

// PasswordResetRedirect is the link target sent with reset emails: the
// callback route, which forwards to the reset page once the code is
// exchanged.
func (c *Config) PasswordResetRedirect() string {
	site := strings.TrimRight(c.SiteURL, "/")
	q := url.Values{}
	q.Set("redirect_to", c.ResetPath)
	return site + c.CallbackPath + "?" + q.Encode()
}

// String renders the configuration with keys masked.
func (c Config) String() string {
	return fmt.Sprintf(
		"backend_url=%s public_key=%s service_key=%s site_url=%s storage=%s database=%t",
		c.BackendURL,
		mask(c.PublicKey),
		mask(c.ServiceKey),
		c.SiteURL,
		c.Storage.Type,
		c.DatabaseDSN != "",
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
