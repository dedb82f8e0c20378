package gotrue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type recorded struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   map[string]any
}

type fakeServer struct {
	t   *testing.T
	mux *http.ServeMux
	srv *httptest.Server

	mu       sync.Mutex
	requests []recorded
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{t: t, mux: http.NewServeMux()}
	f.srv = httptest.NewServer(f.mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) handleFunc(pattern string, fn func(w http.ResponseWriter, r recorded)) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, req *http.Request) {
		rec := recorded{
			Method: req.Method,
			Path:   req.URL.Path,
			Query:  req.URL.Query(),
			Header: req.Header.Clone(),
		}
		if req.Body != nil {
			_ = json.NewDecoder(req.Body).Decode(&rec.Body)
		}
		f.mu.Lock()
		f.requests = append(f.requests, rec)
		f.mu.Unlock()
		fn(w, rec)
	})
}

func (f *fakeServer) handle(pattern string, status int, body any) {
	f.handleFunc(pattern, func(w http.ResponseWriter, _ recorded) {
		writeJSON(w, status, body)
	})
}

func (f *fakeServer) calls(path string) []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorded
	for _, r := range f.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeServer) last(path string) recorded {
	calls := f.calls(path)
	require.NotEmpty(f.t, calls, "no request to %s", path)
	return calls[len(calls)-1]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func userJSON(id, email string) map[string]any {
	return map[string]any{
		"id":                 id,
		"email":              email,
		"email_confirmed_at": testNow.Add(-time.Hour).Format(time.RFC3339),
		"user_metadata":      map[string]any{"name": "Jane Doe"},
		"identities":         []any{map[string]any{"provider": "email"}},
	}
}

func tokenJSON(access, refresh string, expiresAt time.Time, user map[string]any) map[string]any {
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    expiresAt.Unix(),
		"refresh_token": refresh,
		"user":          user,
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []session.AuthEvent
	last   *session.AuthSession
}

func (l *eventLog) listener(event session.AuthEvent, sess *session.AuthSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.last = sess
}

func (l *eventLog) Events() []session.AuthEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]session.AuthEvent(nil), l.events...)
}

func newClient(t *testing.T, f *fakeServer, store storage.Store, opts ...Option) *Client {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStore()
	}
	base := []Option{
		WithStorage(store),
		WithClock(func() time.Time { return testNow }),
		WithHTTPClient(f.srv.Client()),
	}
	c, err := New(Config{
		URL:        f.srv.URL,
		PublicKey:  "anon-key",
		ServiceKey: "service-key",
	}, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func storeSession(t *testing.T, store storage.Store, sess *session.AuthSession) {
	t.Helper()
	raw, err := json.Marshal(sess)
	require.NoError(t, err)
	require.NoError(t, store.SetItem(context.Background(), "sb-auth-token", string(raw)))
}

func TestNewRequiresURLAndKey(t *testing.T) {
	_, err := New(Config{URL: "http://localhost:54321"})
	require.Error(t, err)
	assert.Equal(t, session.TextCodeMissingConfig, session.Kind(err))

	_, err = New(Config{URL: "::bad", PublicKey: "k"})
	assert.Error(t, err)
}

func TestFromSessionConfig(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.BackendURL = "http://localhost:54321"
	cfg.PublicKey = "anon"
	cfg.Storage.KeyPrefix = "app"

	got := FromSessionConfig(&cfg)
	assert.Equal(t, "http://localhost:54321", got.URL)
	assert.Equal(t, "anon", got.PublicKey)
	assert.Equal(t, "app", got.StorageKey)
	assert.Equal(t, cfg.RequestTimeout, got.Timeout)
}

func TestSignUpWithSession(t *testing.T) {
	f := newFakeServer(t)
	f.handle("POST /auth/v1/signup", http.StatusOK,
		tokenJSON("access-1", "refresh-1", testNow.Add(time.Hour), userJSON("u1", "jane@example.com")))

	store := storage.NewMemoryStore()
	c := newClient(t, f, store)
	log := &eventLog{}
	c.OnAuthStateChange(log.listener)

	identity, sess, err := c.SignUp(context.Background(), session.SignUpRequest{
		Email:      " jane@example.com ",
		Password:   "longpassword1",
		Name:       "Jane Doe",
		RedirectTo: "http://localhost:3000/auth/callback",
	})
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "u1", identity.ID)
	assert.True(t, identity.EmailConfirmed)
	assert.Equal(t, "Jane Doe", identity.Profile.FullName)

	req := f.last("/auth/v1/signup")
	assert.Equal(t, "anon-key", req.Header.Get("apikey"))
	assert.Equal(t, "Bearer anon-key", req.Header.Get("Authorization"))
	assert.Equal(t, "jane@example.com", req.Body["email"])
	assert.Equal(t, map[string]any{"name": "Jane Doe"}, req.Body["data"])
	assert.Equal(t, "http://localhost:3000/auth/callback", req.Query.Get("redirect_to"))

	assert.Equal(t, []session.AuthEvent{session.EventInitialSession, session.EventSignedIn}, log.Events())

	raw, ok, err := store.GetItem(context.Background(), "sb-auth-token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, "access-1")
}

func TestSignUpPendingConfirmation(t *testing.T) {
	f := newFakeServer(t)
	user := userJSON("u2", "new@example.com")
	delete(user, "email_confirmed_at")
	f.handle("POST /auth/v1/signup", http.StatusOK, user)

	c := newClient(t, f, nil)
	identity, sess, err := c.SignUp(context.Background(), session.SignUpRequest{
		Email:    "new@example.com",
		Password: "longpassword1",
	})
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, "u2", identity.ID)
	assert.False(t, identity.EmailConfirmed)
}

func TestSignUpDuplicate(t *testing.T) {
	t.Run("obfuscated user", func(t *testing.T) {
		f := newFakeServer(t)
		user := userJSON("fake", "jane@example.com")
		user["identities"] = []any{}
		f.handle("POST /auth/v1/signup", http.StatusOK, user)

		_, _, err := newClient(t, f, nil).SignUp(context.Background(), session.SignUpRequest{
			Email: "jane@example.com", Password: "longpassword1",
		})
		assert.True(t, session.IsDuplicateIdentity(err))
	})

	t.Run("explicit error", func(t *testing.T) {
		f := newFakeServer(t)
		f.handle("POST /auth/v1/signup", http.StatusUnprocessableEntity, map[string]any{
			"code": 422, "error_code": "user_already_exists", "msg": "User already registered",
		})

		_, _, err := newClient(t, f, nil).SignUp(context.Background(), session.SignUpRequest{
			Email: "jane@example.com", Password: "longpassword1",
		})
		assert.True(t, session.IsDuplicateIdentity(err))
	})
}

func TestSignInWithPassword(t *testing.T) {
	f := newFakeServer(t)
	f.handle("POST /auth/v1/token", http.StatusOK,
		tokenJSON("access-1", "refresh-1", testNow.Add(time.Hour), userJSON("u1", "jane@example.com")))

	c := newClient(t, f, nil)
	sess, err := c.SignInWithPassword(context.Background(), "jane@example.com", "longpassword1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", sess.AccessToken)
	assert.Equal(t, testNow.Add(time.Hour).Unix(), sess.ExpiresAt.Unix())
	assert.Equal(t, "password", f.last("/auth/v1/token").Query.Get("grant_type"))

	current, err := c.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", current.User.ID)
}

func TestSignInInvalidCredentials(t *testing.T) {
	bodies := map[string]map[string]any{
		"error code": {"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"},
		"legacy":     {"error": "invalid_grant", "error_description": "Invalid login credentials"},
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			f := newFakeServer(t)
			f.handle("POST /auth/v1/token", http.StatusBadRequest, body)

			_, err := newClient(t, f, nil).SignInWithPassword(context.Background(), "jane@example.com", "wrong")
			assert.True(t, session.IsInvalidCredentials(err))
			assert.Equal(t, "Invalid email or password", session.Message(err))
		})
	}
}

func TestInitialSessionRestore(t *testing.T) {
	t.Run("valid session", func(t *testing.T) {
		f := newFakeServer(t)
		store := storage.NewMemoryStore()
		storeSession(t, store, &session.AuthSession{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    testNow.Add(time.Hour),
			User:         &session.Identity{ID: "u1", Email: "jane@example.com"},
		})

		c := newClient(t, f, store)
		log := &eventLog{}
		c.OnAuthStateChange(log.listener)

		assert.Equal(t, []session.AuthEvent{session.EventInitialSession}, log.Events())
		require.NotNil(t, log.last)
		assert.Equal(t, "u1", log.last.User.ID)
		assert.Empty(t, f.calls("/auth/v1/token"))
	})

	t.Run("expired session is refreshed", func(t *testing.T) {
		f := newFakeServer(t)
		f.handle("POST /auth/v1/token", http.StatusOK,
			tokenJSON("access-2", "refresh-2", testNow.Add(time.Hour), userJSON("u1", "jane@example.com")))

		store := storage.NewMemoryStore()
		storeSession(t, store, &session.AuthSession{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    testNow.Add(-time.Minute),
			User:         &session.Identity{ID: "u1"},
		})

		c := newClient(t, f, store)
		log := &eventLog{}
		c.OnAuthStateChange(log.listener)

		require.NotNil(t, log.last)
		assert.Equal(t, "access-2", log.last.AccessToken)

		req := f.last("/auth/v1/token")
		assert.Equal(t, "refresh_token", req.Query.Get("grant_type"))
		assert.Equal(t, "refresh-1", req.Body["refresh_token"])

		raw, _, _ := store.GetItem(context.Background(), "sb-auth-token")
		assert.Contains(t, raw, "access-2")
	})

	t.Run("expired session without refresh token is discarded", func(t *testing.T) {
		f := newFakeServer(t)
		store := storage.NewMemoryStore()
		storeSession(t, store, &session.AuthSession{
			AccessToken: "access-1",
			ExpiresAt:   testNow.Add(-time.Minute),
			User:        &session.Identity{ID: "u1"},
		})

		c := newClient(t, f, store)
		log := &eventLog{}
		c.OnAuthStateChange(log.listener)

		assert.Nil(t, log.last)
		_, ok, err := store.GetItem(context.Background(), "sb-auth-token")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unreadable session is discarded", func(t *testing.T) {
		f := newFakeServer(t)
		store := storage.NewMemoryStore()
		require.NoError(t, store.SetItem(context.Background(), "sb-auth-token", "{not json"))

		c := newClient(t, f, store)
		log := &eventLog{}
		c.OnAuthStateChange(log.listener)

		assert.Nil(t, log.last)
	})
}

func signHS256(t *testing.T, secret, sub string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(testNow.Add(-time.Minute)),
		},
		Email: "jane@example.com",
		Role:  "authenticated",
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestRestoreVerifiesTokens(t *testing.T) {
	secret := "super-secret-jwt-token-with-at-least-32-characters"

	t.Run("accepts tokens signed with the secret", func(t *testing.T) {
		f := newFakeServer(t)
		store := storage.NewMemoryStore()
		storeSession(t, store, &session.AuthSession{
			AccessToken: signHS256(t, secret, "u1", testNow.Add(time.Hour)),
			ExpiresAt:   testNow.Add(time.Hour),
			User:        &session.Identity{ID: "u1"},
		})

		verifier, err := NewSecretVerifier(secret)
		require.NoError(t, err)
		c := newClient(t, f, store, WithVerifier(verifier))

		sess, err := c.Session(context.Background())
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, "u1", sess.User.ID)
	})

	t.Run("discards tokens signed with another key", func(t *testing.T) {
		f := newFakeServer(t)
		store := storage.NewMemoryStore()
		storeSession(t, store, &session.AuthSession{
			AccessToken: signHS256(t, "another-secret", "u1", testNow.Add(time.Hour)),
			ExpiresAt:   testNow.Add(time.Hour),
			User:        &session.Identity{ID: "u1"},
		})

		verifier, err := NewSecretVerifier(secret)
		require.NoError(t, err)
		c := newClient(t, f, store, WithVerifier(verifier))

		sess, err := c.Session(context.Background())
		require.NoError(t, err)
		assert.Nil(t, sess)
	})
}

func TestSignOutClearsLocalSession(t *testing.T) {
	f := newFakeServer(t)
	f.handle("POST /auth/v1/token", http.StatusOK,
		tokenJSON("access-1", "refresh-1", testNow.Add(time.Hour), userJSON("u1", "jane@example.com")))
	f.handle("POST /auth/v1/logout", http.StatusInternalServerError, map[string]any{"msg": "boom"})

	store := storage.NewMemoryStore()
	c := newClient(t, f, store)
	log := &eventLog{}
	c.OnAuthStateChange(log.listener)

	_, err := c.SignInWithPassword(context.Background(), "jane@example.com", "longpassword1")
	require.NoError(t, err)

	err = c.SignOut(context.Background())
	assert.True(t, session.IsBackendError(err))
	assert.Equal(t, "Bearer access-1", f.last("/auth/v1/logout").Header.Get("Authorization"))

	sess, err := c.Session(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)

	_, ok, _ := store.GetItem(context.Background(), "sb-auth-token")
	assert.False(t, ok)

	assert.Equal(t, []session.AuthEvent{
		session.EventInitialSession,
		session.EventSignedIn,
		session.EventSignedOut,
	}, log.Events())

	// nothing to sign out from
	require.NoError(t, c.SignOut(context.Background()))
	assert.Len(t, f.calls("/auth/v1/logout"), 1)
}

func TestRecoveryCodeFlow(t *testing.T) {
	f := newFakeServer(t)

	var challenge string
	f.handleFunc("POST /auth/v1/recover", func(w http.ResponseWriter, r recorded) {
		challenge, _ = r.Body["code_challenge"].(string)
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	f.handleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r recorded) {
		verifier, _ := r.Body["code_verifier"].(string)
		if r.Query.Get("grant_type") != "pkce" || oauth2.S256ChallengeFromVerifier(verifier) != challenge {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error_code": "bad_code_verifier", "msg": "bad verifier"})
			return
		}
		writeJSON(w, http.StatusOK,
			tokenJSON("recovery-access", "recovery-refresh", testNow.Add(time.Hour), userJSON("u1", "jane@example.com")))
	})

	c := newClient(t, f, nil)
	log := &eventLog{}
	c.OnAuthStateChange(log.listener)

	redirect := "http://localhost:3000/auth/callback?redirect_to=%2Fauth%2Freset-password"
	require.NoError(t, c.ResetPasswordForEmail(context.Background(), "jane@example.com", redirect))

	req := f.last("/auth/v1/recover")
	assert.Equal(t, redirect, req.Query.Get("redirect_to"))
	assert.Equal(t, "s256", req.Body["code_challenge_method"])
	assert.NotEmpty(t, challenge)

	sess, err := c.ExchangeCodeForSession(context.Background(), "code-1")
	require.NoError(t, err)
	assert.True(t, sess.Recovery)
	assert.Equal(t, "code-1", f.last("/auth/v1/token").Body["auth_code"])
	assert.Equal(t, session.EventPasswordRecovery, log.Events()[len(log.Events())-1])

	// verifier is single use
	_, err = c.ExchangeCodeForSession(context.Background(), "code-1")
	assert.True(t, session.IsInvalidOrExpiredToken(err))
}

func TestAuthorizeURLAndExchange(t *testing.T) {
	f := newFakeServer(t)
	f.handle("POST /auth/v1/token", http.StatusOK,
		tokenJSON("access-1", "refresh-1", testNow.Add(time.Hour), userJSON("u1", "jane@example.com")))

	c := newClient(t, f, nil)
	log := &eventLog{}
	c.OnAuthStateChange(log.listener)

	raw, err := c.AuthorizeURL(context.Background(), "github", "http://localhost:3000/auth/callback")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/auth/v1/authorize", u.Path)
	assert.Equal(t, "github", u.Query().Get("provider"))
	assert.Equal(t, "s256", u.Query().Get("code_challenge_method"))
	assert.NotEmpty(t, u.Query().Get("code_challenge"))

	sess, err := c.ExchangeCodeForSession(context.Background(), "code-2")
	require.NoError(t, err)
	assert.False(t, sess.Recovery)

	verifier, _ := f.last("/auth/v1/token").Body["code_verifier"].(string)
	assert.Equal(t, u.Query().Get("code_challenge"), oauth2.S256ChallengeFromVerifier(verifier))
	assert.Equal(t, session.EventSignedIn, log.Events()[len(log.Events())-1])
}

func TestExchangeWithoutVerifier(t *testing.T) {
	f := newFakeServer(t)
	_, err := newClient(t, f, nil).ExchangeCodeForSession(context.Background(), "code")
	assert.True(t, session.IsInvalidOrExpiredToken(err))
}

func TestVerifyRecovery(t *testing.T) {
	f := newFakeServer(t)
	f.handleFunc("POST /auth/v1/verify", func(w http.ResponseWriter, r recorded) {
		if r.Body["token_hash"] != "good" {
			writeJSON(w, http.StatusForbidden, map[string]any{"error_code": "otp_expired", "msg": "Token has expired or is invalid"})
			return
		}
		writeJSON(w, http.StatusOK,
			tokenJSON("recovery-access", "", testNow.Add(time.Hour), userJSON("u1", "jane@example.com")))
	})

	c := newClient(t, f, nil)
	log := &eventLog{}
	c.OnAuthStateChange(log.listener)

	_, err := c.VerifyRecovery(context.Background(), "bad")
	assert.True(t, session.IsInvalidOrExpiredToken(err))

	sess, err := c.VerifyRecovery(context.Background(), "good")
	require.NoError(t, err)
	assert.True(t, sess.Recovery)
	assert.Equal(t, "recovery", f.last("/auth/v1/verify").Body["type"])
	assert.Equal(t, session.EventPasswordRecovery, log.Events()[len(log.Events())-1])
}

func TestUpdateUser(t *testing.T) {
	f := newFakeServer(t)
	f.handle("POST /auth/v1/token", http.StatusOK,
		tokenJSON("access-1", "refresh-1", testNow.Add(time.Hour), userJSON("u1", "jane@example.com")))
	f.handle("PUT /auth/v1/user", http.StatusOK, userJSON("u1", "jane@example.com"))

	c := newClient(t, f, nil)

	_, err := c.UpdateUser(context.Background(), session.UserAttributes{Password: "newpassword1"})
	assert.True(t, session.IsNotAuthenticated(err))

	log := &eventLog{}
	c.OnAuthStateChange(log.listener)
	_, err = c.SignInWithPassword(context.Background(), "jane@example.com", "longpassword1")
	require.NoError(t, err)

	identity, err := c.UpdateUser(context.Background(), session.UserAttributes{Password: "newpassword1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.ID)

	req := f.last("/auth/v1/user")
	assert.Equal(t, "Bearer access-1", req.Header.Get("Authorization"))
	assert.Equal(t, "newpassword1", req.Body["password"])
	assert.NotContains(t, req.Body, "email")
	assert.Equal(t, session.EventUserUpdated, log.Events()[len(log.Events())-1])
}

func TestGetUser(t *testing.T) {
	f := newFakeServer(t)
	f.handle("GET /auth/v1/user", http.StatusUnauthorized, map[string]any{
		"code": 401, "error_code": "bad_jwt", "msg": "invalid JWT",
	})

	store := storage.NewMemoryStore()
	c := newClient(t, f, store)

	identity, err := c.GetUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, identity)

	storeSession(t, store, &session.AuthSession{
		AccessToken: "access-1",
		ExpiresAt:   testNow.Add(time.Hour),
		User:        &session.Identity{ID: "u1"},
	})
	c = newClient(t, f, store)
	_, err = c.GetUser(context.Background())
	assert.True(t, session.IsNotAuthenticated(err))
}

func TestRefresh(t *testing.T) {
	t.Run("emits token refreshed", func(t *testing.T) {
		f := newFakeServer(t)
		f.handle("POST /auth/v1/token", http.StatusOK,
			tokenJSON("access-2", "refresh-2", testNow.Add(2*time.Hour), userJSON("u1", "jane@example.com")))

		store := storage.NewMemoryStore()
		storeSession(t, store, &session.AuthSession{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    testNow.Add(time.Hour),
			User:         &session.Identity{ID: "u1"},
		})
		c := newClient(t, f, store)
		log := &eventLog{}
		c.OnAuthStateChange(log.listener)

		require.NoError(t, c.Refresh(context.Background()))
		assert.Equal(t, []session.AuthEvent{session.EventInitialSession, session.EventTokenRefreshed}, log.Events())
		assert.Equal(t, "access-2", log.last.AccessToken)
	})

	t.Run("rejected refresh token signs out", func(t *testing.T) {
		f := newFakeServer(t)
		f.handle("POST /auth/v1/token", http.StatusBadRequest, map[string]any{
			"code": 400, "error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token: Refresh Token Not Found",
		})

		store := storage.NewMemoryStore()
		storeSession(t, store, &session.AuthSession{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    testNow.Add(time.Hour),
			User:         &session.Identity{ID: "u1"},
		})
		c := newClient(t, f, store)
		log := &eventLog{}
		c.OnAuthStateChange(log.listener)

		err := c.Refresh(context.Background())
		assert.True(t, session.IsNotAuthenticated(err))
		assert.Equal(t, session.EventSignedOut, log.Events()[len(log.Events())-1])
	})

	t.Run("requires a session", func(t *testing.T) {
		f := newFakeServer(t)
		err := newClient(t, f, nil).Refresh(context.Background())
		assert.True(t, session.IsNotAuthenticated(err))
	})
}

func TestRefreshIfDue(t *testing.T) {
	f := newFakeServer(t)
	f.handle("POST /auth/v1/token", http.StatusOK,
		tokenJSON("access-2", "refresh-2", testNow.Add(2*time.Hour), userJSON("u1", "jane@example.com")))

	store := storage.NewMemoryStore()
	storeSession(t, store, &session.AuthSession{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    testNow.Add(time.Minute),
		User:         &session.Identity{ID: "u1"},
	})
	c := newClient(t, f, store)

	c.refreshIfDue(context.Background(), 30*time.Second)
	assert.Empty(t, f.calls("/auth/v1/token"))

	c.refreshIfDue(context.Background(), 90*time.Second)
	assert.Len(t, f.calls("/auth/v1/token"), 1)
}

func TestRunAutoRefreshStopsWithContext(t *testing.T) {
	f := newFakeServer(t)
	c := newClient(t, f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.RunAutoRefresh(ctx, time.Millisecond), context.Canceled)
}
