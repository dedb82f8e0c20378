package local

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/storage"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultResetThreshold is how long a password reset link stays valid.
const DefaultResetThreshold = "24h"

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// MailerFunc adapts a function to a Mailer.
type MailerFunc func(ctx context.Context, email, link string) error

func (f MailerFunc) SendPasswordReset(ctx context.Context, email, link string) error {
	return f(ctx, email, link)
}

type logMailer struct {
	logger session.Logger
}

func (m logMailer) SendPasswordReset(_ context.Context, email, link string) error {
	m.logger.Info("password reset link for %s: %s", email, link)
	return nil
}

// Option customizes a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(logger session.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMailer sets the reset link delivery. By default links are logged.
func WithMailer(m Mailer) Option {
	return func(b *Backend) {
		if m != nil {
			b.mailer = m
		}
	}
}

// WithBcryptCost overrides DefaultPasswordCost.
func WithBcryptCost(cost int) Option {
	return func(b *Backend) {
		if cost > 0 {
			b.cost = cost
		}
	}
}

// WithHashid derives user ids from the email address.
func WithHashid(enabled bool) Option {
	return func(b *Backend) {
		b.useHashid = enabled
	}
}

// WithTokenTTL sets the access token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		b.tokenTTL = ttl
	}
}

// WithIssuer sets the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(b *Backend) {
		b.issuer = issuer
	}
}

// WithResetThreshold sets how long reset links stay valid, as a duration
// pattern like "24h".
func WithResetThreshold(pattern string) Option {
	return func(b *Backend) {
		if pattern != "" {
			b.resetThreshold = pattern
		}
	}
}

// WithRequireEmailConfirmation makes SignUp return an identity without a
// session until the email is verified.
func WithRequireEmailConfirmation(required bool) Option {
	return func(b *Backend) {
		b.requireConfirmation = required
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// WithSessionStore persists the held session under "<prefix>-auth-token" so a
// new process picks it up while its token is still valid.
func WithSessionStore(store storage.Store, prefix string) Option {
	return func(b *Backend) {
		if prefix == "" {
			prefix = "sb"
		}
		b.store = store
		b.storeKey = prefix + "-auth-token"
	}
}

// Backend is a self hosted session.IdentityBackend over a SQL database. It
// holds the session of a single client.
type Backend struct {
	db     *bun.DB
	repo   RepositoryManager
	tokens *TokenService
	mailer Mailer
	logger session.Logger

	cost                int
	useHashid           bool
	tokenTTL            time.Duration
	issuer              string
	resetThreshold      string
	requireConfirmation bool
	now                 func() time.Time

	store       storage.Store
	storeKey    string
	restoreOnce sync.Once

	mu        sync.Mutex
	current   *session.AuthSession
	resetID   uuid.UUID
	listeners map[uint64]session.AuthStateListener
	nextID    uint64
}

var (
	_ session.IdentityBackend  = (*Backend)(nil)
	_ session.PasswordVerifier = (*Backend)(nil)
	_ session.RecoveryVerifier = (*Backend)(nil)
)

// New creates a backend over db. Tables must exist, see Migrate.
func New(db *bun.DB, signingKey []byte, opts ...Option) (*Backend, error) {
	if db == nil {
		return nil, goerrors.New("database is required", goerrors.CategoryBadInput)
	}
	if len(signingKey) == 0 {
		return nil, goerrors.New("token signing key is required", goerrors.CategoryBadInput)
	}

	b := &Backend{
		db:             db,
		repo:           NewRepositoryManager(db),
		logger:         session.NopLogger{},
		cost:           DefaultPasswordCost,
		tokenTTL:       time.Hour,
		issuer:         "go-auth-session",
		resetThreshold: DefaultResetThreshold,
		now:            time.Now,
		listeners:      map[uint64]session.AuthStateListener{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	if err := b.repo.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid repository setup")
	}
	if _, err := time.ParseDuration(b.resetThreshold); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid reset threshold")
	}
	if b.mailer == nil {
		b.mailer = logMailer{logger: b.logger}
	}

	b.tokens = NewTokenService(signingKey, b.tokenTTL, b.issuer)
	b.tokens.now = b.now

	return b, nil
}

// OnAuthStateChange registers listener. It receives INITIAL_SESSION right
// away with the session held by the backend.
func (b *Backend) OnAuthStateChange(listener session.AuthStateListener) session.Subscription {
	if listener == nil {
		return session.SubscriptionFunc(nil)
	}

	b.restoreOnce.Do(func() { b.restore(context.Background()) })

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = listener
	current := cloneSession(b.current)
	b.mu.Unlock()

	listener(session.EventInitialSession, current)

	return session.SubscriptionFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	})
}

func (b *Backend) emit(event session.AuthEvent, sess *session.AuthSession) {
	b.mu.Lock()
	listeners := make([]session.AuthStateListener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(event, cloneSession(sess))
	}
}

func (b *Backend) SignUp(ctx context.Context, req session.SignUpRequest) (*session.Identity, *session.AuthSession, error) {
	email := strings.TrimSpace(req.Email)

	hash, err := HashPassword(req.Password, b.cost)
	if err != nil {
		return nil, nil, err
	}

	user := &User{
		Email:        email,
		PasswordHash: hash,
		Metadata:     req.Data,
	}
	if b.useHashid {
		if id, err := hashid.NewUUID(strings.ToLower(email)); err == nil {
			user.ID = id
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := b.now()
	user.CreatedAt = &now
	user.UpdatedAt = &now

	if _, err := b.repo.Users().GetByEmail(ctx, email); err == nil {
		return nil, nil, session.NewError(session.ErrDuplicateIdentity, "")
	} else if !repository.IsRecordNotFound(err) {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
	}

	if _, err := b.repo.Users().CreateTx(ctx, b.db, user); err != nil {
		if isUniqueViolation(err) {
			return nil, nil, session.NewError(session.ErrDuplicateIdentity, "")
		}
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
	}

	identity := toIdentity(user)
	if b.requireConfirmation {
		return identity, nil, nil
	}

	sess, err := b.startSession(ctx, user, false)
	if err != nil {
		return nil, nil, err
	}
	b.emit(session.EventSignedIn, sess)

	return identity, cloneSession(sess), nil
}

func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*session.AuthSession, error) {
	user, err := b.checkPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if b.requireConfirmation && !user.EmailVerified {
		return nil, session.NewError(session.ErrInvalidCredentials, "Email not confirmed")
	}

	if err := b.repo.Users().TrackSuccessfulLogin(ctx, user, b.now()); err != nil {
		b.logger.Warn("failed to track login for %s: %v", user.ID, err)
	}

	sess, err := b.startSession(ctx, user, false)
	if err != nil {
		return nil, err
	}
	b.emit(session.EventSignedIn, sess)

	return cloneSession(sess), nil
}

// VerifyPassword checks a password without touching the session.
func (b *Backend) VerifyPassword(ctx context.Context, email, password string) error {
	_, err := b.checkPassword(ctx, email, password)
	return err
}

func (b *Backend) checkPassword(ctx context.Context, email, password string) (*User, error) {
	user, err := b.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, session.NewError(session.ErrInvalidCredentials, "")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if session.IsInvalidCredentials(err) {
			if terr := b.repo.Users().TrackAttemptedLogin(ctx, user, b.now()); terr != nil {
				b.logger.Warn("failed to track login attempt for %s: %v", user.ID, terr)
			}
		}
		return nil, err
	}

	return user, nil
}

func (b *Backend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	had := b.current != nil
	b.current = nil
	b.resetID = uuid.Nil
	b.mu.Unlock()

	if had {
		b.save(ctx, nil)
		b.emit(session.EventSignedOut, nil)
	}
	return nil
}

// ResetPasswordForEmail creates a reset request and mails its link. Unknown
// emails succeed without sending anything.
func (b *Backend) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	user, err := b.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			b.logger.Debug("password reset requested for unknown email")
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
	}

	now := b.now()
	reset := &PasswordReset{
		ID:        uuid.New(),
		UserID:    user.ID,
		Email:     user.Email,
		Status:    ResetRequestedStatus,
		CreatedAt: &now,
		UpdatedAt: &now,
	}
	if _, err := b.repo.PasswordResets().CreateTx(ctx, b.db, reset); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create password reset record")
	}

	link, err := resetLink(redirectTo, reset.ID.String())
	if err != nil {
		return err
	}
	if err := b.mailer.SendPasswordReset(ctx, reset.Email, link); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to send password reset email")
	}
	return nil
}

// VerifyRecovery opens a recovery session from a reset token.
func (b *Backend) VerifyRecovery(ctx context.Context, token string) (*session.AuthSession, error) {
	id, err := uuid.Parse(strings.TrimSpace(token))
	if err != nil {
		return nil, session.NewError(session.ErrInvalidOrExpiredToken, "")
	}

	reset, err := b.findReset(ctx, id)
	if err != nil {
		return nil, err
	}

	if reset.Status != ResetRequestedStatus {
		return nil, session.NewError(session.ErrInvalidOrExpiredToken, "password reset token has already been used")
	}

	if reset.CreatedAt == nil {
		return nil, goerrors.New("password reset record is missing creation date", goerrors.CategoryInternal)
	}

	now := b.now()
	expired, err := IsOutsideThresholdPeriod(*reset.CreatedAt, now, b.resetThreshold)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token expiration period")
	}
	if expired {
		reset.MarkExpired(now)
		if _, err := b.repo.PasswordResets().UpdateTx(ctx, b.db, reset, repository.UpdateByID(reset.ID.String())); err != nil {
			b.logger.Warn("failed to expire password reset %s: %v", reset.ID, err)
		}
		return nil, session.NewError(session.ErrInvalidOrExpiredToken, "password reset token has expired")
	}

	user, err := b.findUser(ctx, reset.UserID.String())
	if err != nil {
		return nil, err
	}

	sess, err := b.startSession(ctx, user, true)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.resetID = id
	b.mu.Unlock()

	b.emit(session.EventPasswordRecovery, sess)
	return cloneSession(sess), nil
}

// UpdateUser changes attributes of the identity holding the session. A
// password change inside a recovery session consumes the reset token.
func (b *Backend) UpdateUser(ctx context.Context, attrs session.UserAttributes) (*session.Identity, error) {
	claims, err := b.currentClaims()
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, session.NewError(session.ErrNotAuthenticated, "session token is invalid")
	}

	b.mu.Lock()
	resetID := b.resetID
	b.mu.Unlock()

	user, err := b.findUser(ctx, userID.String())
	if err != nil {
		return nil, err
	}

	var reset *PasswordReset
	if attrs.Password != "" && claims.Recovery && resetID != uuid.Nil {
		if reset, err = b.findReset(ctx, resetID); err != nil {
			return nil, err
		}
		if reset.Status != ResetRequestedStatus {
			return nil, session.NewError(session.ErrInvalidOrExpiredToken, "password reset token has already been used")
		}
	}

	var hash string
	if attrs.Password != "" {
		if hash, err = HashPassword(attrs.Password, b.cost); err != nil {
			return nil, err
		}
	}

	changed := false
	if email := strings.TrimSpace(attrs.Email); email != "" && !strings.EqualFold(email, user.Email) {
		if _, err := b.repo.Users().GetByEmail(ctx, email); err == nil {
			return nil, session.NewError(session.ErrDuplicateIdentity, "")
		}
		user.Email = email
		user.EmailVerified = false
		changed = true
	}
	for k, v := range attrs.Data {
		user.AddMetadata(k, v)
		changed = true
	}

	now := b.now()
	err = b.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if hash != "" {
			if err := b.repo.Users().ResetPasswordTx(ctx, tx, user.ID, hash, now); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
			}
			user.PasswordHash = hash
		}

		if reset != nil {
			reset.MarkChanged(now)
			if _, err := b.repo.PasswordResets().UpdateTx(ctx, tx, reset, repository.UpdateByID(reset.ID.String())); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password reset status")
			}
		}

		if changed {
			user.UpdatedAt = &now
			if _, err := b.repo.Users().UpdateTx(ctx, tx, user, repository.UpdateByID(user.ID.String())); err != nil {
				if isUniqueViolation(err) {
					return session.NewError(session.ErrDuplicateIdentity, "")
				}
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if attrs.Password != "" && claims.Recovery {
		b.mu.Lock()
		b.resetID = uuid.Nil
		b.mu.Unlock()
	}

	identity := toIdentity(user)

	b.mu.Lock()
	if b.current != nil {
		b.current.User = identity.Clone()
	}
	current := cloneSession(b.current)
	b.mu.Unlock()

	if current != nil {
		b.save(ctx, current)
	}
	if current != nil && !current.Recovery {
		b.emit(session.EventUserUpdated, current)
	}

	return identity, nil
}

func (b *Backend) GetUser(ctx context.Context) (*session.Identity, error) {
	claims, err := b.currentClaims()
	if err != nil {
		return nil, err
	}

	user, err := b.findUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	return toIdentity(user), nil
}

// VerifyEmail marks the email of the identity as confirmed.
func (b *Backend) VerifyEmail(ctx context.Context, identityID string) error {
	id, err := uuid.Parse(identityID)
	if err != nil {
		return session.NewValidationError("id", "Invalid identity id")
	}
	if err := b.repo.Users().VerifyEmail(ctx, id); err != nil {
		if repository.IsRecordNotFound(err) {
			return session.NewError(session.ErrNotFound, "user not found")
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to verify email")
	}
	return nil
}

func (b *Backend) Profiles() session.ProfileStore {
	return &profileStore{db: b.db, repo: b.repo.Profiles(), now: b.now}
}

// Session returns a copy of the held session, if any.
func (b *Backend) Session() *session.AuthSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneSession(b.current)
}

func (b *Backend) startSession(ctx context.Context, user *User, recovery bool) (*session.AuthSession, error) {
	token, expiresAt, err := b.tokens.Generate(user, recovery)
	if err != nil {
		return nil, err
	}

	sess := &session.AuthSession{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		User:        toIdentity(user),
		Recovery:    recovery,
	}

	b.mu.Lock()
	b.current = sess
	b.mu.Unlock()

	b.save(ctx, sess)
	return sess, nil
}

// restore loads a persisted session whose token still validates.
func (b *Backend) restore(ctx context.Context) {
	if b.store == nil {
		return
	}
	raw, ok, err := b.store.GetItem(ctx, b.storeKey)
	if err != nil {
		b.logger.Warn("failed to read stored session: %v", err)
		return
	}
	if !ok {
		return
	}

	sess := &session.AuthSession{}
	if err := json.Unmarshal([]byte(raw), sess); err == nil {
		_, err = b.tokens.Validate(sess.AccessToken)
		if err == nil {
			b.mu.Lock()
			if b.current == nil {
				b.current = sess
			}
			b.mu.Unlock()
			return
		}
	}

	if err := b.store.RemoveItem(ctx, b.storeKey); err != nil {
		b.logger.Warn("failed to remove stored session: %v", err)
	}
}

func (b *Backend) save(ctx context.Context, sess *session.AuthSession) {
	if b.store == nil {
		return
	}
	var err error
	if sess == nil {
		err = b.store.RemoveItem(ctx, b.storeKey)
	} else {
		var raw []byte
		if raw, err = json.Marshal(sess); err == nil {
			err = b.store.SetItem(ctx, b.storeKey, string(raw))
		}
	}
	if err != nil {
		b.logger.Warn("failed to persist session: %v", err)
	}
}

func (b *Backend) findUser(ctx context.Context, id string) (*User, error) {
	user, err := b.repo.Users().GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
			return nil, session.NewError(session.ErrNotAuthenticated, "user no longer exists")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
	}
	return user, nil
}

func (b *Backend) findReset(ctx context.Context, id uuid.UUID) (*PasswordReset, error) {
	reset, err := b.repo.PasswordResets().GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
			return nil, session.NewError(session.ErrInvalidOrExpiredToken, "")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
	}
	return reset, nil
}

func (b *Backend) currentClaims() (*Claims, error) {
	b.mu.Lock()
	current := b.current
	b.mu.Unlock()

	if current == nil {
		return nil, session.ErrNotAuthenticated.Clone()
	}
	return b.tokens.Validate(current.AccessToken)
}

func toIdentity(u *User) *session.Identity {
	if u == nil {
		return nil
	}
	return &session.Identity{
		ID:             u.ID.String(),
		Email:          u.Email,
		EmailConfirmed: u.EmailVerified,
		CreatedAt:      u.CreatedAt,
		LastSignInAt:   u.LoggedInAt,
	}
}

func cloneSession(s *session.AuthSession) *session.AuthSession {
	if s == nil {
		return nil
	}
	out := *s
	out.User = s.User.Clone()
	return &out
}

func resetLink(redirectTo, token string) (string, error) {
	if redirectTo == "" {
		redirectTo = "/password-reset"
	}
	u, err := url.Parse(redirectTo)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid password reset redirect")
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("type", "recovery")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
