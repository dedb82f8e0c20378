package metrics_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend signs in "jane@example.com" with password "longpassword1".
type stubBackend struct {
	listener session.AuthStateListener
}

func (b *stubBackend) SignUp(context.Context, session.SignUpRequest) (*session.Identity, *session.AuthSession, error) {
	return nil, nil, session.ErrUnsupported.Clone()
}

func (b *stubBackend) SignInWithPassword(_ context.Context, email, password string) (*session.AuthSession, error) {
	if email != "jane@example.com" || password != "longpassword1" {
		return nil, session.NewError(session.ErrInvalidCredentials, "")
	}
	return &session.AuthSession{
		AccessToken: "token",
		User:        &session.Identity{ID: "u1", Email: email},
	}, nil
}

func (b *stubBackend) SignOut(context.Context) error { return nil }

func (b *stubBackend) ResetPasswordForEmail(context.Context, string, string) error { return nil }

func (b *stubBackend) UpdateUser(context.Context, session.UserAttributes) (*session.Identity, error) {
	return nil, session.ErrUnsupported.Clone()
}

func (b *stubBackend) GetUser(context.Context) (*session.Identity, error) { return nil, nil }

func (b *stubBackend) OnAuthStateChange(l session.AuthStateListener) session.Subscription {
	b.listener = l
	l(session.EventInitialSession, nil)
	return session.SubscriptionFunc(func() { b.listener = nil })
}

func (b *stubBackend) Profiles() session.ProfileStore { return stubProfiles{} }

type stubProfiles struct{}

func (stubProfiles) Select(context.Context, string) (*session.Profile, error) {
	return nil, session.ErrNotFound.Clone()
}

func (stubProfiles) Insert(_ context.Context, p session.Profile) (*session.Profile, error) {
	return &p, nil
}

func (stubProfiles) Update(context.Context, string, session.ProfileUpdate) (*session.Profile, error) {
	return nil, session.ErrNotFound.Clone()
}

func TestNewMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	require.NotNil(t, m)

	assert.Panics(t, func() { metrics.NewMetrics(registry) }, "duplicate registration should panic")
}

func TestRecordCountsOutcomes(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, session.ActivityEvent{
		EventType: session.ActivityEventLoginSuccess,
		Operation: session.OpSignIn,
		Outcome:   session.OutcomeSuccess,
	}))
	require.NoError(t, m.Record(ctx, session.ActivityEvent{
		EventType: session.ActivityEventLoginFailure,
		Operation: session.OpSignIn,
		Outcome:   session.OutcomeFailure,
		ErrorCode: session.TextCodeInvalidCredentials,
	}))
	require.NoError(t, m.Record(ctx, session.ActivityEvent{
		EventType: session.ActivityEventLoginFailure,
		Operation: session.OpSignIn,
		Outcome:   session.OutcomeFailure,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("sign_in", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("sign_in", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("sign_in", session.TextCodeInvalidCredentials)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("sign_in", "unknown")))
}

func TestObserveSetsGauges(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())

	m.Observe(session.Snapshot{
		State:      session.Anonymous(),
		Pending:    []session.OperationKind{session.OpSignIn, session.OpRegister},
		Recovering: true,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionState.WithLabelValues("anonymous")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionState.WithLabelValues("authenticated")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionState.WithLabelValues("unknown")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PendingOperations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Recovering))

	m.Observe(session.Snapshot{})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionState.WithLabelValues("unknown")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Recovering))
}

func TestCoordinatorWiring(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	c, err := session.New(&stubBackend{},
		session.WithActivitySink(m),
		session.WithLogger(session.NopLogger{}),
	)
	require.NoError(t, err)
	defer c.Close()

	sub := m.Attach(c)
	defer sub.Unsubscribe()

	ctx := context.Background()
	_, err = c.SignIn(ctx, "jane@example.com", "wrong")
	require.Error(t, err)
	_, err = c.SignIn(ctx, "jane@example.com", "longpassword1")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("sign_in", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("sign_in", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("anonymous", "authenticated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionState.WithLabelValues("authenticated")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PendingOperations))

	srv := httptest.NewServer(metrics.Handler(registry))
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `auth_session_operations_total{operation="sign_in",outcome="success"} 1`))
}
