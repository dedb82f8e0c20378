package gotrue

import (
	"errors"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	session "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
)

// Claims are the access token claims issued by GoTrue.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Verifier checks access tokens restored from storage.
type Verifier struct {
	keyFunc jwt.Keyfunc
	methods []string
	jwks    *keyfunc.JWKS
	now     func() time.Time
}

// NewSecretVerifier verifies HS256 tokens signed with the project secret.
func NewSecretVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, goerrors.New("jwt secret is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}
	key := []byte(secret)
	return &Verifier{
		keyFunc: func(*jwt.Token) (any, error) { return key, nil },
		methods: []string{jwt.SigningMethodHS256.Alg()},
		now:     time.Now,
	}, nil
}

// NewJWKSVerifier fetches the key set at url and keeps it refreshed in the
// background until Close.
func NewJWKSVerifier(url string, client *http.Client, logger session.Logger) (*Verifier, error) {
	if logger == nil {
		logger = session.NopLogger{}
	}
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		Client: client,
		RefreshErrorHandler: func(err error) {
			logger.Warn("failed to do a background refresh of JWT set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to get JWK set").
			WithMetadata(map[string]any{"url": url})
	}
	return &Verifier{
		keyFunc: jwks.Keyfunc,
		methods: []string{"RS256", "ES256"},
		jwks:    jwks,
		now:     time.Now,
	}, nil
}

// Verify validates signature and expiry of token.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc,
		jwt.WithValidMethods(v.methods),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, session.NewError(session.ErrNotAuthenticated, "session has expired")
		}
		return nil, session.NewError(session.ErrNotAuthenticated, "session token is invalid")
	}
	if !parsed.Valid {
		return nil, session.NewError(session.ErrNotAuthenticated, "session token is invalid")
	}
	return claims, nil
}

// Close stops the background key refresh.
func (v *Verifier) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}
