package gotrue

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	session "github.com/goliatone/go-auth-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   string
	}{
		{"invalid credentials", 400, `{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`, session.TextCodeInvalidCredentials},
		{"unconfirmed email", 400, `{"code":400,"error_code":"email_not_confirmed","msg":"Email not confirmed"}`, session.TextCodeInvalidCredentials},
		{"legacy duplicate", 400, `{"msg":"User already registered"}`, session.TextCodeDuplicateIdentity},
		{"email exists", 422, `{"error_code":"email_exists","msg":"Email address already registered"}`, session.TextCodeDuplicateIdentity},
		{"expired otp", 403, `{"error_code":"otp_expired","msg":"Email link is invalid or has expired"}`, session.TextCodeInvalidToken},
		{"invalid grant", 400, `{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`, session.TextCodeInvalidToken},
		{"bad jwt", 401, `{"error_code":"bad_jwt","msg":"invalid JWT"}`, session.TextCodeNotAuthenticated},
		{"plain unauthorized", 401, `{}`, session.TextCodeNotAuthenticated},
		{"user not found", 404, `{"error_code":"user_not_found","msg":"User not found"}`, session.TextCodeNotFound},
		{"postgrest no rows", 406, `{"code":"PGRST116","message":"JSON object requested"}`, session.TextCodeNotFound},
		{"weak password", 422, `{"error_code":"weak_password","msg":"Password should be at least 6 characters"}`, session.TextCodeValidation},
		{"server error", 500, `upstream connect error`, session.TextCodeBackend},
		{"rate limited", 429, `{"error_code":"over_request_rate_limit","msg":"Too many requests"}`, session.TextCodeBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(decodeAPIError(tt.status, []byte(tt.body)))
			assert.Equal(t, tt.kind, session.Kind(err))
		})
	}
}

func TestMapErrorKeepsRemoteDetails(t *testing.T) {
	err := mapError(decodeAPIError(http.StatusBadGateway, []byte(`{"msg":"bad gateway"}`)))

	assert.Equal(t, "bad gateway", session.Message(err))
	apiErr, ok := asAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestWeakPasswordIsFieldScoped(t *testing.T) {
	err := mapError(decodeAPIError(422, []byte(`{"error_code":"weak_password","msg":"Password is too weak"}`)))
	assert.Equal(t, map[string]string{"password": "Password is too weak"}, session.FieldErrors(err))
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]any{
		"keys": []any{map[string]any{
			"kty": "RSA",
			"kid": "k1",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, jwks)
	}))
	defer srv.Close()

	verifier, err := NewJWKSVerifier(srv.URL, srv.Client(), nil)
	require.NoError(t, err)
	defer verifier.Close()

	sign := func(exp time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u1",
				ExpiresAt: jwt.NewNumericDate(exp),
			},
			Email: "jane@example.com",
		})
		token.Header["kid"] = "k1"
		signed, err := token.SignedString(key)
		require.NoError(t, err)
		return signed
	}

	claims, err := verifier.Verify(sign(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "jane@example.com", claims.Email)

	_, err = verifier.Verify(sign(time.Now().Add(-time.Hour)))
	assert.True(t, session.IsNotAuthenticated(err))
	assert.Equal(t, "session has expired", session.Message(err))

	_, err = verifier.Verify("garbage")
	assert.True(t, session.IsNotAuthenticated(err))
}

func TestNewSecretVerifierRequiresSecret(t *testing.T) {
	_, err := NewSecretVerifier("")
	assert.Error(t, err)
}
