package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/storage"
	goerrors "github.com/goliatone/go-errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	authPath     = "/auth/v1"
	profilesPath = "/rest/v1/profiles"

	// DefaultExpiryMargin is how early a session is considered expired.
	DefaultExpiryMargin = 10 * time.Second
)

// Config describes the hosted service.
type Config struct {
	URL string
	// PublicKey is the anonymous API key sent with every request.
	PublicKey string
	// ServiceKey bypasses row level security. It is only used to insert
	// profiles and must never reach a browser.
	ServiceKey string
	// StorageKey prefixes the persisted items, "sb" by default.
	StorageKey string
	JWKSURL    string
	JWTSecret  string
	Timeout    time.Duration
}

// FromSessionConfig picks the hosted backend settings out of cfg.
func FromSessionConfig(cfg *session.Config) Config {
	return Config{
		URL:        cfg.BackendURL,
		PublicKey:  cfg.PublicKey,
		ServiceKey: cfg.ServiceKey,
		StorageKey: cfg.Storage.KeyPrefix,
		JWKSURL:    cfg.JWKSURL,
		JWTSecret:  cfg.JWTSecret,
		Timeout:    cfg.RequestTimeout,
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger session.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStorage sets where the session is persisted. Defaults to memory.
func WithStorage(store storage.Store) Option {
	return func(c *Client) {
		if store != nil {
			c.store = store
		}
	}
}

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithVerifier checks restored access tokens with v.
func WithVerifier(v *Verifier) Option {
	return func(c *Client) {
		c.verifier = v
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithExpiryMargin overrides DefaultExpiryMargin.
func WithExpiryMargin(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.margin = d
		}
	}
}

// Client is a session.IdentityBackend talking to GoTrue over HTTP.
type Client struct {
	authURL    string
	restURL    string
	publicKey  string
	serviceKey string

	sessionKey  string
	verifierKey string

	http     *http.Client
	store    storage.Store
	verifier *Verifier
	logger   session.Logger
	now      func() time.Time
	margin   time.Duration

	mu        sync.Mutex
	current   *session.AuthSession
	loaded    bool
	listeners map[uint64]session.AuthStateListener
	nextID    uint64
}

var (
	_ session.IdentityBackend  = (*Client)(nil)
	_ session.RecoveryVerifier = (*Client)(nil)
	_ session.OAuthBackend     = (*Client)(nil)
)

// New builds a client for cfg. When cfg names a JWKS url or a JWT secret
// and no verifier option is given, restored tokens are verified with it.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.PublicKey) == "" {
		return nil, session.ErrMissingBackendConfig.Clone()
	}
	base, err := url.ParseRequestURI(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid backend url")
	}

	prefix := cfg.StorageKey
	if prefix == "" {
		prefix = "sb"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		authURL:     base.String() + authPath,
		restURL:     base.String() + profilesPath,
		publicKey:   cfg.PublicKey,
		serviceKey:  cfg.ServiceKey,
		sessionKey:  prefix + "-auth-token",
		verifierKey: prefix + "-code-verifier",
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		store:     storage.NewMemoryStore(),
		logger:    session.NopLogger{},
		now:       time.Now,
		margin:    DefaultExpiryMargin,
		listeners: make(map[uint64]session.AuthStateListener),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.verifier == nil {
		switch {
		case cfg.JWKSURL != "":
			if c.verifier, err = NewJWKSVerifier(cfg.JWKSURL, c.http, c.logger); err != nil {
				return nil, err
			}
		case cfg.JWTSecret != "":
			if c.verifier, err = NewSecretVerifier(cfg.JWTSecret); err != nil {
				return nil, err
			}
		}
	}
	if c.verifier != nil {
		c.verifier.now = c.now
	}

	return c, nil
}

// Close stops background work owned by the client.
func (c *Client) Close() error {
	c.verifier.Close()
	return nil
}

type request struct {
	method string
	url    string
	query  url.Values
	body   any
	// bearer overrides the Authorization token, the public key otherwise.
	bearer string
	apiKey string
	header map[string]string
}

// do sends r and decodes a successful response into out. Failed responses
// are mapped to session errors.
func (c *Client) do(ctx context.Context, r request, out any) error {
	target := r.url
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request")
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}

	apiKey := firstNonEmpty(r.apiKey, c.publicKey)
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+firstNonEmpty(r.bearer, apiKey))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.header {
		req.Header.Set(k, v)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return session.WrapBackendError(err, "identity backend request failed")
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return session.WrapBackendError(err, "failed to read identity backend response")
	}

	if res.StatusCode >= http.StatusBadRequest {
		apiErr := decodeAPIError(res.StatusCode, payload)
		c.logger.Debug("%s %s failed: %s", r.method, r.url, apiErr)
		return mapError(apiErr)
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return session.WrapBackendError(err, "failed to decode identity backend response")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
