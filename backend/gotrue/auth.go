package gotrue

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	session "github.com/goliatone/go-auth-session"
	"golang.org/x/oauth2"
)

const recoverySuffix = "/PASSWORD_RECOVERY"

func (c *Client) SignUp(ctx context.Context, req session.SignUpRequest) (*session.Identity, *session.AuthSession, error) {
	data := make(map[string]any, len(req.Data)+1)
	for k, v := range req.Data {
		data[k] = v
	}
	if req.Name != "" {
		data["name"] = req.Name
	}

	q := url.Values{}
	if req.RedirectTo != "" {
		q.Set("redirect_to", req.RedirectTo)
	}

	var res signUpResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.authURL + "/signup",
		query:  q,
		body: credentialsBody{
			Email:    strings.TrimSpace(req.Email),
			Password: req.Password,
			Data:     data,
		},
	}, &res)
	if err != nil {
		return nil, nil, err
	}

	if sess := res.Session.session(c.now()); sess != nil {
		if sess.User == nil {
			return nil, nil, session.NewError(session.ErrBackend, "sign up returned a session without user")
		}
		c.setSession(ctx, sess)
		c.emit(session.EventSignedIn, sess)
		return sess.User.Clone(), cloneSession(sess), nil
	}

	if res.User.obfuscated() {
		return nil, nil, session.NewError(session.ErrDuplicateIdentity, "")
	}
	identity := res.User.identity()
	if identity == nil {
		return nil, nil, session.NewError(session.ErrBackend, "sign up returned no user")
	}
	return identity, nil, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.AuthSession, error) {
	sess, err := c.passwordGrant(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.setSession(ctx, sess)
	c.emit(session.EventSignedIn, sess)
	return cloneSession(sess), nil
}

// VerifyPassword checks the credentials without replacing the current
// session.
func (c *Client) VerifyPassword(ctx context.Context, email, password string) error {
	_, err := c.passwordGrant(ctx, email, password)
	return err
}

func (c *Client) passwordGrant(ctx context.Context, email, password string) (*session.AuthSession, error) {
	var res tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.authURL + "/token",
		query:  url.Values{"grant_type": {"password"}},
		body: credentialsBody{
			Email:    strings.TrimSpace(email),
			Password: password,
		},
	}, &res)
	if err != nil {
		return nil, err
	}
	sess := res.session(c.now())
	if sess == nil || sess.User == nil {
		return nil, session.NewError(session.ErrBackend, "sign in returned no session")
	}
	return sess, nil
}

// SignOut revokes the session remotely and always clears it locally.
func (c *Client) SignOut(ctx context.Context) error {
	sess, _ := c.loadSession(ctx)
	if sess == nil {
		return nil
	}

	err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.authURL + "/logout",
		bearer: sess.AccessToken,
	}, nil)
	if session.IsNotAuthenticated(err) || session.IsNotFound(err) {
		err = nil
	}

	c.setSession(ctx, nil)
	c.emit(session.EventSignedOut, nil)
	return err
}

// ResetPasswordForEmail asks the service to mail a recovery link. The link
// comes back with a code that ExchangeCodeForSession turns into a recovery
// session.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	verifier := oauth2.GenerateVerifier()
	if err := c.store.SetItem(ctx, c.verifierKey, verifier+recoverySuffix); err != nil {
		return session.WrapBackendError(err, "failed to store code verifier")
	}

	q := url.Values{}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.do(ctx, request{
		method: http.MethodPost,
		url:    c.authURL + "/recover",
		query:  q,
		body: credentialsBody{
			Email:               strings.TrimSpace(email),
			CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
			CodeChallengeMethod: "s256",
		},
	}, nil)
}

func (c *Client) UpdateUser(ctx context.Context, attrs session.UserAttributes) (*session.Identity, error) {
	sess, err := c.activeSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, session.ErrNotAuthenticated.Clone()
	}

	var res userResponse
	err = c.do(ctx, request{
		method: http.MethodPut,
		url:    c.authURL + "/user",
		bearer: sess.AccessToken,
		body: credentialsBody{
			Email:    attrs.Email,
			Password: attrs.Password,
			Data:     attrs.Data,
		},
	}, &res)
	if err != nil {
		return nil, err
	}

	identity := res.identity()
	if identity == nil {
		return nil, session.NewError(session.ErrBackend, "user update returned no user")
	}

	sess.User = identity
	c.setSession(ctx, sess)
	c.emit(session.EventUserUpdated, sess)

	return identity.Clone(), nil
}

func (c *Client) GetUser(ctx context.Context) (*session.Identity, error) {
	sess, err := c.activeSession(ctx)
	if err != nil || sess == nil {
		return nil, err
	}

	var res userResponse
	err = c.do(ctx, request{
		method: http.MethodGet,
		url:    c.authURL + "/user",
		bearer: sess.AccessToken,
	}, &res)
	if err != nil {
		return nil, err
	}
	return res.identity(), nil
}

// VerifyRecovery opens a recovery session from the token hash of a
// recovery email and emits PASSWORD_RECOVERY.
func (c *Client) VerifyRecovery(ctx context.Context, token string) (*session.AuthSession, error) {
	var res tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.authURL + "/verify",
		body:   verifyBody{Type: "recovery", TokenHash: token},
	}, &res)
	if err != nil {
		return nil, err
	}
	sess := res.session(c.now())
	if sess == nil || sess.User == nil {
		return nil, session.NewError(session.ErrInvalidOrExpiredToken, "")
	}
	sess.Recovery = true

	c.setSession(ctx, sess)
	c.emit(session.EventPasswordRecovery, sess)
	return cloneSession(sess), nil
}

// AuthorizeURL returns the provider sign in URL and stores the PKCE
// verifier for the code exchange.
func (c *Client) AuthorizeURL(ctx context.Context, provider, redirectTo string) (string, error) {
	verifier := oauth2.GenerateVerifier()
	if err := c.store.SetItem(ctx, c.verifierKey, verifier); err != nil {
		return "", session.WrapBackendError(err, "failed to store code verifier")
	}

	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
	q.Set("code_challenge_method", "s256")

	return c.authURL + "/authorize?" + q.Encode(), nil
}

// ExchangeCodeForSession completes a PKCE flow. Codes started by
// ResetPasswordForEmail yield a recovery session and PASSWORD_RECOVERY,
// everything else signs in.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*session.AuthSession, error) {
	stored, ok, err := c.store.GetItem(ctx, c.verifierKey)
	if err != nil {
		return nil, session.WrapBackendError(err, "failed to read code verifier")
	}
	if !ok || stored == "" {
		return nil, session.NewError(session.ErrInvalidOrExpiredToken, "")
	}

	verifier, recovery := strings.CutSuffix(stored, recoverySuffix)

	var res tokenResponse
	err = c.do(ctx, request{
		method: http.MethodPost,
		url:    c.authURL + "/token",
		query:  url.Values{"grant_type": {"pkce"}},
		body:   pkceBody{AuthCode: code, CodeVerifier: verifier},
	}, &res)
	if rmErr := c.store.RemoveItem(ctx, c.verifierKey); rmErr != nil {
		c.logger.Warn("failed to remove code verifier: %v", rmErr)
	}
	if err != nil {
		return nil, err
	}

	sess := res.session(c.now())
	if sess == nil || sess.User == nil {
		return nil, session.NewError(session.ErrBackend, "code exchange returned no session")
	}
	sess.Recovery = recovery

	c.setSession(ctx, sess)
	if recovery {
		c.emit(session.EventPasswordRecovery, sess)
	} else {
		c.emit(session.EventSignedIn, sess)
	}
	return cloneSession(sess), nil
}

func (c *Client) Profiles() session.ProfileStore {
	return &profileStore{client: c}
}
