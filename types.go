package session

import (
	"context"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity is the signed-in principal as reported by the IdentityBackend.
type Identity struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	EmailConfirmed bool       `json:"email_confirmed"`
	Profile        Profile    `json:"profile"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	LastSignInAt   *time.Time `json:"last_sign_in_at,omitempty"`
}

// Clone returns a deep copy so observers never share mutable state
// with the coordinator.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.CreatedAt = cloneTime(i.CreatedAt)
	c.LastSignInAt = cloneTime(i.LastSignInAt)
	c.Profile.UpdatedAt = cloneTime(i.Profile.UpdatedAt)
	return &c
}

// Equal reports whether both identities describe the same principal with
// the same attributes.
func (i *Identity) Equal(o *Identity) bool {
	if i == nil || o == nil {
		return i == o
	}
	return i.ID == o.ID &&
		i.Email == o.Email &&
		i.EmailConfirmed == o.EmailConfirmed &&
		i.Profile.Equal(o.Profile) &&
		sameTime(i.CreatedAt, o.CreatedAt) &&
		sameTime(i.LastSignInAt, o.LastSignInAt)
}

// Profile holds the mutable user facing attributes of an identity.
// Adapters map their own column naming onto this struct.
type Profile struct {
	ID        string     `json:"id"`
	FullName  string     `json:"full_name,omitempty"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	Bio       string     `json:"bio,omitempty"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	Website   string     `json:"website,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (p Profile) Equal(o Profile) bool {
	return p.ID == o.ID &&
		p.FullName == o.FullName &&
		p.FirstName == o.FirstName &&
		p.LastName == o.LastName &&
		p.Bio == o.Bio &&
		p.AvatarURL == o.AvatarURL &&
		p.Website == o.Website &&
		sameTime(p.UpdatedAt, o.UpdatedAt)
}

// ProfileUpdate is a partial profile, nil fields are left untouched.
type ProfileUpdate struct {
	FullName  *string `json:"full_name,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Bio       *string `json:"bio,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Website   *string `json:"website,omitempty"`
}

// IsEmpty reports whether the update carries no fields.
func (u ProfileUpdate) IsEmpty() bool {
	return u.FullName == nil && u.FirstName == nil && u.LastName == nil &&
		u.Bio == nil && u.AvatarURL == nil && u.Website == nil
}

// Apply merges the update into p and returns the result.
func (u ProfileUpdate) Apply(p Profile) Profile {
	if u.FullName != nil {
		p.FullName = *u.FullName
	}
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	if u.Bio != nil {
		p.Bio = *u.Bio
	}
	if u.AvatarURL != nil {
		p.AvatarURL = *u.AvatarURL
	}
	if u.Website != nil {
		p.Website = *u.Website
	}
	return p
}

// String is a helper to build ProfileUpdate values.
func String(s string) *string {
	return &s
}

// AuthSession is the backend session. The coordinator only reads User.
type AuthSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *Identity `json:"user,omitempty"`
	// Recovery marks a session opened from a password recovery link.
	// It only grants a credential update.
	Recovery bool `json:"recovery,omitempty"`
}

// Expired reports whether the access token is no longer valid at now.
func (s *AuthSession) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// AuthEvent names the notifications pushed by an IdentityBackend.
type AuthEvent string

const (
	EventInitialSession   AuthEvent = "INITIAL_SESSION"
	EventSignedIn         AuthEvent = "SIGNED_IN"
	EventSignedOut        AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed   AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated      AuthEvent = "USER_UPDATED"
	EventPasswordRecovery AuthEvent = "PASSWORD_RECOVERY"
)

// AuthStateListener receives backend session notifications. session is nil
// when there is no session.
type AuthStateListener func(event AuthEvent, session *AuthSession)

// Subscription releases a listener or observer registration.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

// Unsubscribe implements Subscription.
func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// SignUpRequest is sent to the backend on registration.
type SignUpRequest struct {
	Email      string         `json:"email"`
	Password   string         `json:"password"`
	Name       string         `json:"name,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	RedirectTo string         `json:"redirect_to,omitempty"`
}

// UserAttributes is a credential or account update. Empty fields are not sent.
type UserAttributes struct {
	Email    string         `json:"email,omitempty"`
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// IdentityBackend is the remote identity service the coordinator drives.
type IdentityBackend interface {
	// SignUp creates a remote identity. The session is nil when the backend
	// requires email confirmation before issuing one.
	SignUp(ctx context.Context, req SignUpRequest) (*Identity, *AuthSession, error)
	SignInWithPassword(ctx context.Context, email, password string) (*AuthSession, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdateUser(ctx context.Context, attrs UserAttributes) (*Identity, error)
	// GetUser returns nil without error when there is no session.
	GetUser(ctx context.Context) (*Identity, error)
	OnAuthStateChange(listener AuthStateListener) Subscription
	Profiles() ProfileStore
}

// ProfileStore is the keyed profile table.
type ProfileStore interface {
	Select(ctx context.Context, id string) (*Profile, error)
	Insert(ctx context.Context, profile Profile) (*Profile, error)
	Update(ctx context.Context, id string, update ProfileUpdate) (*Profile, error)
}

// PasswordVerifier checks a password without changing the current session.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, email, password string) error
}

// EmailVerifier confirms the email address of an identity.
type EmailVerifier interface {
	VerifyEmail(ctx context.Context, identityID string) error
}

// RecoveryVerifier opens a recovery session from a one-time token.
type RecoveryVerifier interface {
	VerifyRecovery(ctx context.Context, token string) (*AuthSession, error)
}

// OAuthBackend supports redirect based flows: third party providers and
// one-time links that come back with a code.
type OAuthBackend interface {
	AuthorizeURL(ctx context.Context, provider, redirectTo string) (string, error)
	ExchangeCodeForSession(ctx context.Context, code string) (*AuthSession, error)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
