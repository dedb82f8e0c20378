package session

import (
	"context"
)

// ResetEmailSentMessage is returned by RequestPasswordReset.
const ResetEmailSentMessage = "Password reset email sent"

// Register creates a remote identity and its profile record, then signs the
// identity in. The identity may still need to confirm its email address,
// see Identity.EmailConfirmed. When the profile record cannot be created the
// new backend session is signed out and the state is left as it was.
func (c *Coordinator) Register(ctx context.Context, in RegisterInput) (*Identity, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := c.begin(ctx, OpRegister); err != nil {
		return nil, err
	}

	identity, sess, err := c.backend.SignUp(ctx, SignUpRequest{
		Email:    in.Email,
		Password: in.Password,
		Name:     in.Name,
		Data:     map[string]any{"name": in.Name},
	})
	if err != nil {
		return nil, c.fail(ctx, OpRegister, WrapBackendError(err, "sign up failed"))
	}
	if identity == nil && sess != nil {
		identity = sess.User
	}
	if identity == nil {
		return nil, c.fail(ctx, OpRegister, NewError(ErrBackend, "sign up returned no identity"))
	}

	profile, err := c.backend.Profiles().Insert(ctx, Profile{
		ID:       identity.ID,
		FullName: in.Name,
	})
	if err != nil {
		if sess != nil {
			if serr := c.backend.SignOut(ctx); serr != nil {
				c.logger.Warn("failed to discard session after profile error: %v", serr)
			}
		}
		return nil, c.rollback(ctx, OpRegister, WrapBackendError(err, "failed to create profile"))
	}

	registered := identity.Clone()
	if profile != nil {
		registered.Profile = *profile
	}

	c.end(ctx, OpRegister, func(m *model) {
		c.transition(m, Authenticated(registered))
	})
	c.succeed(ctx, OpRegister, registered.ID, map[string]any{
		"email_confirmed": registered.EmailConfirmed,
	})

	return registered.Clone(), nil
}

// SignIn authenticates with email and password.
func (c *Coordinator) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := (SignInInput{Email: email, Password: password}).Validate(); err != nil {
		return nil, err
	}
	if err := c.begin(ctx, OpSignIn); err != nil {
		return nil, err
	}

	sess, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, c.fail(ctx, OpSignIn, WrapBackendError(err, "sign in failed"))
	}
	if sess == nil || sess.User == nil {
		return nil, c.fail(ctx, OpSignIn, NewError(ErrBackend, "sign in returned no session"))
	}

	identity := sess.User.Clone()
	c.attachProfile(ctx, identity)

	c.end(ctx, OpSignIn, func(m *model) {
		m.recovering = false
		c.transition(m, Authenticated(identity))
	})
	c.succeed(ctx, OpSignIn, identity.ID, nil)

	return identity.Clone(), nil
}

// SignOut discards the session. Backend failures are logged, the local state
// always ends Anonymous.
func (c *Coordinator) SignOut(ctx context.Context) {
	if err := c.begin(ctx, OpSignOut); err != nil {
		c.logger.Debug("sign out skipped: %v", err)
		return
	}

	userID := c.State().UserID()
	if err := c.backend.SignOut(ctx); err != nil {
		c.logger.Error("backend sign out failed: %v", err)
	}

	c.end(ctx, OpSignOut, func(m *model) {
		m.recovering = false
		c.transition(m, Anonymous())
	})
	c.succeed(ctx, OpSignOut, userID, nil)
}

// RequestPasswordReset asks the backend to send a reset link. Unknown emails
// are reported as sent.
func (c *Coordinator) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	if err := (PasswordResetRequest{Email: email}).Validate(); err != nil {
		return "", err
	}
	if err := c.begin(ctx, OpRequestPasswordReset); err != nil {
		return "", err
	}

	if err := c.backend.ResetPasswordForEmail(ctx, email, c.resetRedirect); err != nil {
		if !IsNotFound(err) {
			return "", c.fail(ctx, OpRequestPasswordReset, WrapBackendError(err, "failed to request password reset"))
		}
		c.logger.Debug("password reset requested for unknown email")
	}

	c.end(ctx, OpRequestPasswordReset, nil)
	c.succeed(ctx, OpRequestPasswordReset, "", nil)

	return ResetEmailSentMessage, nil
}

// ResetPassword sets a new password inside a recovery context. The context is
// opened from in.Token when given, otherwise it must have been reported by
// the backend (see Snapshot.Recovering). It never signs the identity in.
func (c *Coordinator) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := in.Validate(); err != nil {
		return err
	}
	if err := c.begin(ctx, OpResetPassword); err != nil {
		return err
	}

	before := c.Snapshot()
	wasAuthenticated := before.State.IsAuthenticated()

	if in.Token != "" {
		rv, ok := c.backend.(RecoveryVerifier)
		if !ok {
			return c.fail(ctx, OpResetPassword, ErrUnsupported.Clone())
		}
		if _, err := rv.VerifyRecovery(ctx, in.Token); err != nil {
			return c.fail(ctx, OpResetPassword, tokenError(err, "failed to verify recovery token"))
		}
	} else if !before.Recovering {
		return c.fail(ctx, OpResetPassword, ErrInvalidOrExpiredToken.Clone())
	}

	if _, err := c.backend.UpdateUser(ctx, UserAttributes{Password: in.Password}); err != nil {
		return c.fail(ctx, OpResetPassword, tokenError(err, "failed to update password"))
	}

	if !wasAuthenticated {
		if err := c.backend.SignOut(ctx); err != nil {
			c.logger.Warn("failed to discard recovery session: %v", err)
		}
	}

	c.end(ctx, OpResetPassword, func(m *model) {
		m.recovering = false
		if !wasAuthenticated {
			c.transition(m, Anonymous())
		}
	})
	c.succeed(ctx, OpResetPassword, before.State.UserID(), nil)

	return nil
}

// ChangePassword replaces the password of the signed in identity after
// checking the current one.
func (c *Coordinator) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	state := c.State()
	if !state.IsAuthenticated() {
		err := ErrNotAuthenticated.Clone()
		c.reportFailure(ctx, OpChangePassword, err)
		return err
	}
	if err := in.Validate(); err != nil {
		return err
	}
	if err := c.begin(ctx, OpChangePassword); err != nil {
		return err
	}

	if err := c.verifyPassword(ctx, state.Identity.Email, in.CurrentPassword); err != nil {
		if IsInvalidCredentials(err) {
			err = NewError(ErrInvalidCredentials, "Current password is incorrect")
		}
		return c.fail(ctx, OpChangePassword, WrapBackendError(err, "failed to verify current password"))
	}

	if _, err := c.backend.UpdateUser(ctx, UserAttributes{Password: in.NewPassword}); err != nil {
		return c.fail(ctx, OpChangePassword, WrapBackendError(err, "failed to update password"))
	}

	c.end(ctx, OpChangePassword, nil)
	c.succeed(ctx, OpChangePassword, state.Identity.ID, nil)

	return nil
}

// UpdateProfile merges update into the profile of the signed in identity.
// identityID must be the signed in identity.
func (c *Coordinator) UpdateProfile(ctx context.Context, identityID string, update ProfileUpdate) (*Profile, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	state := c.State()
	if !state.IsAuthenticated() || state.UserID() != identityID {
		err := ErrNotAuthenticated.Clone().WithMetadata(map[string]any{
			"identity_id": identityID,
		})
		c.reportFailure(ctx, OpUpdateProfile, err)
		return nil, err
	}
	if update.IsEmpty() {
		return nil, NewValidationError("profile", "No profile fields to update")
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}
	if err := c.begin(ctx, OpUpdateProfile); err != nil {
		return nil, err
	}

	profile, err := c.backend.Profiles().Update(ctx, identityID, update)
	if err != nil {
		return nil, c.fail(ctx, OpUpdateProfile, WrapBackendError(err, "failed to update profile"))
	}
	if profile == nil {
		merged := update.Apply(state.Identity.Profile)
		profile = &merged
	}
	result := *profile

	c.end(ctx, OpUpdateProfile, func(m *model) {
		if m.state.UserID() != identityID {
			return
		}
		updated := m.state.Identity.Clone()
		updated.Profile = result
		c.transition(m, Authenticated(updated))
	})
	c.succeed(ctx, OpUpdateProfile, identityID, nil)

	return &result, nil
}

// GetProfile reads a profile record from the backend. Results are never
// cached.
func (c *Coordinator) GetProfile(ctx context.Context, identityID string) (*Profile, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if identityID == "" {
		return nil, NewValidationError("id", "Identity id is required")
	}

	profile, err := c.backend.Profiles().Select(ctx, identityID)
	if err != nil {
		err = WrapBackendError(err, "failed to load profile")
		c.logger.Debug("get profile %s: %v", identityID, err)
		return nil, err
	}
	if profile == nil {
		return nil, ErrNotFound.Clone().WithMetadata(map[string]any{"identity_id": identityID})
	}

	out := *profile
	return &out, nil
}

// VerifyEmail confirms the email address of identityID. The signed in
// identity is marked confirmed when it is the one verified.
func (c *Coordinator) VerifyEmail(ctx context.Context, identityID string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if identityID == "" {
		return NewValidationError("id", "Identity id is required")
	}
	ev, ok := c.backend.(EmailVerifier)
	if !ok {
		return ErrUnsupported.Clone()
	}
	if err := c.begin(ctx, OpVerifyEmail); err != nil {
		return err
	}

	if err := ev.VerifyEmail(ctx, identityID); err != nil {
		return c.fail(ctx, OpVerifyEmail, WrapBackendError(err, "failed to verify email"))
	}

	c.end(ctx, OpVerifyEmail, func(m *model) {
		if m.state.UserID() != identityID {
			return
		}
		updated := m.state.Identity.Clone()
		updated.EmailConfirmed = true
		c.transition(m, Authenticated(updated))
	})
	c.succeed(ctx, OpVerifyEmail, identityID, nil)

	return nil
}

// OAuthURL returns the URL that starts a provider sign in.
func (c *Coordinator) OAuthURL(ctx context.Context, provider, redirectTo string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	if provider == "" {
		return "", NewValidationError("provider", "Provider is required")
	}
	ob, ok := c.backend.(OAuthBackend)
	if !ok {
		return "", ErrUnsupported.Clone()
	}
	url, err := ob.AuthorizeURL(ctx, provider, redirectTo)
	if err != nil {
		return "", WrapBackendError(err, "failed to build authorize url")
	}
	return url, nil
}

// ExchangeCode trades a one-time code from a link or provider redirect for a
// session. Recovery codes open a recovery context and leave the state as is.
func (c *Coordinator) ExchangeCode(ctx context.Context, code string) (*Identity, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, NewValidationError("code", "Authorization code is required")
	}
	ob, ok := c.backend.(OAuthBackend)
	if !ok {
		return nil, ErrUnsupported.Clone()
	}
	if err := c.begin(ctx, OpExchangeCode); err != nil {
		return nil, err
	}

	sess, err := ob.ExchangeCodeForSession(ctx, code)
	if err != nil {
		return nil, c.fail(ctx, OpExchangeCode, tokenError(err, "failed to exchange code"))
	}
	if sess == nil || sess.User == nil {
		return nil, c.fail(ctx, OpExchangeCode, NewError(ErrBackend, "code exchange returned no session"))
	}

	identity := sess.User.Clone()
	if sess.Recovery {
		c.end(ctx, OpExchangeCode, func(m *model) {
			m.recovering = true
		})
		c.succeed(ctx, OpExchangeCode, identity.ID, map[string]any{"recovery": true})
		return identity, nil
	}

	c.attachProfile(ctx, identity)
	c.end(ctx, OpExchangeCode, func(m *model) {
		c.transition(m, Authenticated(identity))
	})
	c.succeed(ctx, OpExchangeCode, identity.ID, nil)

	return identity.Clone(), nil
}

// attachProfile loads the profile of identity, best effort.
func (c *Coordinator) attachProfile(ctx context.Context, identity *Identity) {
	profile, err := c.backend.Profiles().Select(ctx, identity.ID)
	if err != nil {
		if !IsNotFound(err) {
			c.logger.Warn("failed to load profile for %s: %v", identity.ID, err)
		}
		return
	}
	if profile != nil {
		identity.Profile = *profile
	}
}

func (c *Coordinator) verifyPassword(ctx context.Context, email, password string) error {
	if pv, ok := c.backend.(PasswordVerifier); ok {
		return pv.VerifyPassword(ctx, email, password)
	}
	_, err := c.backend.SignInWithPassword(ctx, email, password)
	return err
}

// tokenError maps authentication failures inside a recovery or code flow to
// ErrInvalidOrExpiredToken.
func tokenError(err error, message string) error {
	switch Kind(err) {
	case TextCodeInvalidToken:
		return err
	case TextCodeNotAuthenticated, TextCodeInvalidCredentials, TextCodeNotFound:
		return NewError(ErrInvalidOrExpiredToken, "")
	}
	return WrapBackendError(err, message)
}
