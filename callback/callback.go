// Package callback serves the route one-time links and provider sign ins
// come back to. The code in the query is exchanged for a session and the
// browser is sent on to the page named by redirect_to.
package callback

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-router"
)

const (
	DefaultPath          = "/auth/callback"
	DefaultRedirect      = "/protected"
	DefaultErrorRedirect = "/auth/error"
)

// Exchanger trades a one-time code for a session. *session.Coordinator
// implements it.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code string) (*session.Identity, error)
}

// Config customizes the handler. Zero values take the defaults above.
type Config struct {
	Path            string
	DefaultRedirect string
	ErrorRedirect   string
	Logger          session.Logger
}

type Handler struct {
	exchanger Exchanger
	cfg       Config
}

// New builds a callback handler around ex.
func New(ex Exchanger, cfg Config) *Handler {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.DefaultRedirect == "" {
		cfg.DefaultRedirect = DefaultRedirect
	}
	if cfg.ErrorRedirect == "" {
		cfg.ErrorRedirect = DefaultErrorRedirect
	}
	if cfg.Logger == nil {
		cfg.Logger = session.NopLogger{}
	}
	return &Handler{exchanger: ex, cfg: cfg}
}

// Register mounts the handler on app.
func Register[T any](app router.Router[T], h *Handler) {
	app.Get(h.cfg.Path, h.Handle).SetName("auth-callback.get")
}

func (h *Handler) Handle(ctx router.Context) error {
	target := h.target(ctx.Query("redirect_to"))

	if desc := ctx.Query("error_description"); desc != "" {
		h.cfg.Logger.Warn("auth callback returned error: %s", desc)
		code := ctx.Query("error")
		if code == "" {
			code = "callback_error"
		}
		return h.fail(ctx, code)
	}

	code := ctx.Query("code")
	if code == "" {
		return h.fail(ctx, session.TextCodeInvalidToken)
	}

	if _, err := h.exchanger.ExchangeCode(ctx.Context(), code); err != nil {
		h.cfg.Logger.Error("failed to exchange auth code: %v", err)
		kind := session.Kind(err)
		if kind == "" {
			kind = session.TextCodeBackend
		}
		return h.fail(ctx, kind)
	}

	return ctx.Redirect(target, http.StatusSeeOther)
}

func (h *Handler) fail(ctx router.Context, code string) error {
	q := url.Values{}
	q.Set("error", code)
	return ctx.Redirect(h.cfg.ErrorRedirect+"?"+q.Encode(), http.StatusSeeOther)
}

// target only follows local paths so the callback can't be used as an
// open redirect.
func (h *Handler) target(redirectTo string) string {
	if redirectTo == "" || !strings.HasPrefix(redirectTo, "/") ||
		strings.HasPrefix(redirectTo, "//") || strings.HasPrefix(redirectTo, "/\\") {
		return h.cfg.DefaultRedirect
	}
	return redirectTo
}
