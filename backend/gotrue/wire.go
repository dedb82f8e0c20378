package gotrue

import (
	"encoding/json"
	"time"

	session "github.com/goliatone/go-auth-session"
)

type userResponse struct {
	ID               string            `json:"id"`
	Email            string            `json:"email"`
	EmailConfirmedAt *time.Time        `json:"email_confirmed_at,omitempty"`
	ConfirmedAt      *time.Time        `json:"confirmed_at,omitempty"`
	CreatedAt        *time.Time        `json:"created_at,omitempty"`
	LastSignInAt     *time.Time        `json:"last_sign_in_at,omitempty"`
	UserMetadata     map[string]any    `json:"user_metadata,omitempty"`
	Identities       []json.RawMessage `json:"identities"`
}

// obfuscated reports the fake user GoTrue returns when signing up an email
// that is already registered while confirmations are enabled.
func (u *userResponse) obfuscated() bool {
	return u.Identities != nil && len(u.Identities) == 0
}

func (u *userResponse) identity() *session.Identity {
	if u == nil || u.ID == "" {
		return nil
	}
	id := &session.Identity{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != nil || u.ConfirmedAt != nil,
		CreatedAt:      u.CreatedAt,
		LastSignInAt:   u.LastSignInAt,
	}
	id.Profile.ID = u.ID
	for _, key := range []string{"full_name", "name"} {
		if name, ok := u.UserMetadata[key].(string); ok && name != "" {
			id.Profile.FullName = name
			break
		}
	}
	if avatar, ok := u.UserMetadata["avatar_url"].(string); ok {
		id.Profile.AvatarURL = avatar
	}
	return id
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

func (t *tokenResponse) session(now time.Time) *session.AuthSession {
	if t == nil || t.AccessToken == "" {
		return nil
	}
	s := &session.AuthSession{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		User:         t.User.identity(),
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	}
	return s
}

// signUpResponse is either a session (auto confirm) or a bare user.
type signUpResponse struct {
	Session tokenResponse
	User    userResponse
}

func (r *signUpResponse) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &r.Session); err != nil {
		return err
	}
	if r.Session.AccessToken != "" {
		return nil
	}
	return json.Unmarshal(data, &r.User)
}

type credentialsBody struct {
	Email               string         `json:"email,omitempty"`
	Password            string         `json:"password,omitempty"`
	Data                map[string]any `json:"data,omitempty"`
	CodeChallenge       string         `json:"code_challenge,omitempty"`
	CodeChallengeMethod string         `json:"code_challenge_method,omitempty"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type pkceBody struct {
	AuthCode     string `json:"auth_code"`
	CodeVerifier string `json:"code_verifier"`
}

type verifyBody struct {
	Type      string `json:"type"`
	TokenHash string `json:"token_hash"`
}
