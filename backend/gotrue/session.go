package gotrue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	session "github.com/goliatone/go-auth-session"
)

// OnAuthStateChange registers listener. It is called right away with
// INITIAL_SESSION carrying the restored session, or nil.
func (c *Client) OnAuthStateChange(listener session.AuthStateListener) session.Subscription {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	c.mu.Unlock()

	sess, err := c.loadSession(context.Background())
	if err != nil {
		c.logger.Warn("failed to restore session: %v", err)
	}
	listener(session.EventInitialSession, sess)

	return session.SubscriptionFunc(func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	})
}

func (c *Client) emit(event session.AuthEvent, sess *session.AuthSession) {
	c.mu.Lock()
	listeners := make([]session.AuthStateListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(event, cloneSession(sess))
	}
}

// Session returns a copy of the current session, restoring it on first use.
func (c *Client) Session(ctx context.Context) (*session.AuthSession, error) {
	sess, err := c.loadSession(ctx)
	return cloneSession(sess), err
}

// loadSession restores the persisted session once. Expired sessions are
// refreshed when possible and discarded otherwise.
func (c *Client) loadSession(ctx context.Context) (*session.AuthSession, error) {
	c.mu.Lock()
	if c.loaded {
		current := c.current
		c.mu.Unlock()
		return current, nil
	}
	c.mu.Unlock()

	raw, ok, err := c.store.GetItem(ctx, c.sessionKey)
	if err != nil {
		return nil, err
	}

	var sess *session.AuthSession
	if ok {
		sess = &session.AuthSession{}
		if err := json.Unmarshal([]byte(raw), sess); err != nil || sess.AccessToken == "" {
			c.logger.Warn("discarding unreadable session")
			sess = nil
		}
	}

	if sess != nil && c.expired(sess) {
		if sess.RefreshToken == "" {
			sess = nil
		} else {
			refreshed, err := c.refreshToken(ctx, sess.RefreshToken)
			if err != nil {
				c.logger.Info("discarding expired session: %v", err)
				sess = nil
			} else {
				refreshed.Recovery = sess.Recovery
				sess = refreshed
			}
		}
	} else if sess != nil && c.verifier != nil {
		if _, err := c.verifier.Verify(sess.AccessToken); err != nil {
			c.logger.Warn("discarding session with invalid token: %v", err)
			sess = nil
		}
	}

	if sess == nil && ok {
		if err := c.store.RemoveItem(ctx, c.sessionKey); err != nil {
			c.logger.Warn("failed to remove stored session: %v", err)
		}
	} else if sess != nil {
		if err := c.persist(ctx, sess); err != nil {
			c.logger.Warn("failed to persist session: %v", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		c.current = sess
		c.loaded = true
	}
	return c.current, nil
}

func (c *Client) expired(sess *session.AuthSession) bool {
	return sess.Expired(c.now().Add(c.margin))
}

func (c *Client) persist(ctx context.Context, sess *session.AuthSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return c.store.SetItem(ctx, c.sessionKey, string(raw))
}

// setSession makes sess current and persists it. A nil sess clears it.
func (c *Client) setSession(ctx context.Context, sess *session.AuthSession) {
	c.mu.Lock()
	c.current = cloneSession(sess)
	c.loaded = true
	c.mu.Unlock()

	var err error
	if sess == nil {
		err = c.store.RemoveItem(ctx, c.sessionKey)
	} else {
		err = c.persist(ctx, sess)
	}
	if err != nil {
		c.logger.Warn("failed to persist session: %v", err)
	}
}

// activeSession returns a usable session, refreshing it when it is about
// to expire, or nil when there is none.
func (c *Client) activeSession(ctx context.Context) (*session.AuthSession, error) {
	sess, err := c.loadSession(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	if !c.expired(sess) {
		return cloneSession(sess), nil
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSession(c.current), nil
}

func (c *Client) refreshToken(ctx context.Context, refreshToken string) (*session.AuthSession, error) {
	var res tokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.authURL + "/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   refreshBody{RefreshToken: refreshToken},
	}, &res)
	if err != nil {
		return nil, err
	}
	sess := res.session(c.now())
	if sess == nil {
		return nil, session.NewError(session.ErrBackend, "token refresh returned no session")
	}
	return sess, nil
}

// Refresh trades the refresh token for a new session and emits
// TOKEN_REFRESHED. A rejected refresh token signs the client out.
func (c *Client) Refresh(ctx context.Context) error {
	current, err := c.loadSession(ctx)
	if err != nil {
		return err
	}
	if current == nil || current.RefreshToken == "" {
		return session.ErrNotAuthenticated.Clone()
	}

	sess, err := c.refreshToken(ctx, current.RefreshToken)
	if err != nil {
		if session.IsInvalidOrExpiredToken(err) || session.IsNotAuthenticated(err) {
			c.setSession(ctx, nil)
			c.emit(session.EventSignedOut, nil)
			return session.NewError(session.ErrNotAuthenticated, "session has expired")
		}
		return err
	}

	sess.Recovery = current.Recovery
	c.setSession(ctx, sess)
	c.emit(session.EventTokenRefreshed, sess)
	return nil
}

// RunAutoRefresh checks the session every interval and refreshes it once
// it expires within three intervals. It blocks until ctx is done.
func (c *Client) RunAutoRefresh(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.refreshIfDue(ctx, 3*interval)
		}
	}
}

func (c *Client) refreshIfDue(ctx context.Context, within time.Duration) {
	sess, err := c.loadSession(ctx)
	if err != nil || sess == nil || sess.RefreshToken == "" || sess.ExpiresAt.IsZero() {
		return
	}
	if sess.ExpiresAt.Sub(c.now()) > within {
		return
	}
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("auto refresh failed: %v", err)
	}
}

func cloneSession(s *session.AuthSession) *session.AuthSession {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}
