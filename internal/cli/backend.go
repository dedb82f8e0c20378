package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/backend/gotrue"
	"github.com/goliatone/go-auth-session/backend/local"
	"github.com/goliatone/go-auth-session/storage"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// runtime is an opened backend with the coordinator driving it.
type runtime struct {
	cfg         *session.Config
	backend     session.IdentityBackend
	coordinator *session.Coordinator
	logger      session.Logger
	closers     []func() error
}

func (r *runtime) Close() {
	if r.coordinator != nil {
		_ = r.coordinator.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

// open loads the configuration and builds the backend it describes: the
// hosted service when its url and key are set, the SQL backend otherwise.
// Activity goes to the debug log and to every sink given.
func (app *App) open(ctx context.Context, sinks ...session.ActivitySink) (*runtime, error) {
	cfg, err := session.LoadConfig(app.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := app.Logger
	if logger == nil {
		logger = session.NewLogger(cfg.LogLevel)
	}

	rt := &runtime{cfg: cfg, logger: logger}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		rt.closers = append(rt.closers, c.Close)
	}

	if cfg.CanReachBackend() {
		client, err := gotrue.New(gotrue.FromSessionConfig(cfg),
			gotrue.WithStorage(store),
			gotrue.WithLogger(logger),
		)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		rt.backend = client
	} else {
		backend, closeDB, err := app.openLocal(ctx, cfg, store, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, closeDB)
		rt.backend = backend
	}

	activity := append(session.MultiActivitySink{activityLogger(logger)}, sinks...)

	rt.coordinator, err = session.New(rt.backend,
		session.WithLogger(logger),
		session.WithNotifier(app.notifier()),
		session.WithPasswordResetRedirect(cfg.PasswordResetRedirect()),
		session.WithActivitySink(activity),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.coordinator.WaitReady(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	return rt, nil
}

func (app *App) openLocal(ctx context.Context, cfg *session.Config, store storage.Store, logger session.Logger) (*local.Backend, func() error, error) {
	if cfg.JWTSecret == "" {
		return nil, nil, goerrors.New("jwt secret is required for the local backend", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open database")
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())

	if err := local.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to migrate database")
	}

	opts := append([]local.Option{
		local.WithLogger(logger),
		local.WithSessionStore(store, cfg.Storage.KeyPrefix),
		local.WithRequireEmailConfirmation(cfg.RequireEmailConfirmation),
	}, app.LocalOptions...)

	backend, err := local.New(db, []byte(cfg.JWTSecret), opts...)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return backend, db.Close, nil
}

func (app *App) notifier() session.Notifier {
	return session.NotifierFunc(func(_ context.Context, n session.Notification) {
		if n.Description != "" {
			fmt.Fprintf(app.Err, "[%s] %s: %s\n", n.Level, n.Title, n.Description)
			return
		}
		fmt.Fprintf(app.Err, "[%s] %s\n", n.Level, n.Title)
	})
}
