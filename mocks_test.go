package session_test

import (
	"context"
	"sync"
	"testing"

	session "github.com/goliatone/go-auth-session"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBackend implements session.IdentityBackend. Like the real adapters it
// pushes SIGNED_IN when a call returns a session and SIGNED_OUT on sign out;
// tests can also emit events directly.
type MockBackend struct {
	mock.Mock
	profiles *MockProfiles

	mu           sync.Mutex
	listener     session.AuthStateListener
	subscribed   int
	unsubscribed int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{profiles: &MockProfiles{}}
}

func (m *MockBackend) SignUp(ctx context.Context, req session.SignUpRequest) (*session.Identity, *session.AuthSession, error) {
	args := m.Called(ctx, req)
	id, _ := args.Get(0).(*session.Identity)
	sess, _ := args.Get(1).(*session.AuthSession)
	if err := args.Error(2); err != nil {
		return nil, nil, err
	}
	m.emitSession(sess)
	return id, sess, nil
}

func (m *MockBackend) SignInWithPassword(ctx context.Context, email, password string) (*session.AuthSession, error) {
	args := m.Called(ctx, email, password)
	sess, _ := args.Get(0).(*session.AuthSession)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	m.emitSession(sess)
	return sess, nil
}

// SignOut clears the session even when the call fails, as the hosted
// adapter does.
func (m *MockBackend) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	m.Emit(session.EventSignedOut, nil)
	return args.Error(0)
}

func (m *MockBackend) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	args := m.Called(ctx, email, redirectTo)
	return args.Error(0)
}

func (m *MockBackend) UpdateUser(ctx context.Context, attrs session.UserAttributes) (*session.Identity, error) {
	args := m.Called(ctx, attrs)
	id, _ := args.Get(0).(*session.Identity)
	return id, args.Error(1)
}

func (m *MockBackend) GetUser(ctx context.Context) (*session.Identity, error) {
	args := m.Called(ctx)
	id, _ := args.Get(0).(*session.Identity)
	return id, args.Error(1)
}

func (m *MockBackend) OnAuthStateChange(listener session.AuthStateListener) session.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = listener
	m.subscribed++
	return session.SubscriptionFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.unsubscribed++
		m.listener = nil
	})
}

func (m *MockBackend) Profiles() session.ProfileStore {
	return m.profiles
}

// Emit pushes an auth event to the registered listener.
func (m *MockBackend) Emit(event session.AuthEvent, sess *session.AuthSession) {
	m.mu.Lock()
	l := m.listener
	m.mu.Unlock()
	if l != nil {
		l(event, sess)
	}
}

func (m *MockBackend) emitSession(sess *session.AuthSession) {
	switch {
	case sess == nil:
	case sess.Recovery:
		m.Emit(session.EventPasswordRecovery, sess)
	default:
		m.Emit(session.EventSignedIn, sess)
	}
}

func (m *MockBackend) Subscriptions() (subscribed, unsubscribed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed, m.unsubscribed
}

// MockProfiles implements session.ProfileStore
type MockProfiles struct {
	mock.Mock
}

func (m *MockProfiles) Select(ctx context.Context, id string) (*session.Profile, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*session.Profile)
	return p, args.Error(1)
}

func (m *MockProfiles) Insert(ctx context.Context, profile session.Profile) (*session.Profile, error) {
	args := m.Called(ctx, profile)
	p, _ := args.Get(0).(*session.Profile)
	return p, args.Error(1)
}

func (m *MockProfiles) Update(ctx context.Context, id string, update session.ProfileUpdate) (*session.Profile, error) {
	args := m.Called(ctx, id, update)
	p, _ := args.Get(0).(*session.Profile)
	return p, args.Error(1)
}

// MockFullBackend adds the optional capabilities.
type MockFullBackend struct {
	*MockBackend
}

func NewMockFullBackend() *MockFullBackend {
	return &MockFullBackend{MockBackend: NewMockBackend()}
}

func (m *MockFullBackend) VerifyPassword(ctx context.Context, email, password string) error {
	args := m.Called(ctx, email, password)
	return args.Error(0)
}

func (m *MockFullBackend) VerifyEmail(ctx context.Context, identityID string) error {
	args := m.Called(ctx, identityID)
	return args.Error(0)
}

func (m *MockFullBackend) VerifyRecovery(ctx context.Context, token string) (*session.AuthSession, error) {
	args := m.Called(ctx, token)
	sess, _ := args.Get(0).(*session.AuthSession)
	return sess, args.Error(1)
}

func (m *MockFullBackend) AuthorizeURL(ctx context.Context, provider, redirectTo string) (string, error) {
	args := m.Called(ctx, provider, redirectTo)
	return args.String(0), args.Error(1)
}

func (m *MockFullBackend) ExchangeCodeForSession(ctx context.Context, code string) (*session.AuthSession, error) {
	args := m.Called(ctx, code)
	sess, _ := args.Get(0).(*session.AuthSession)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	m.emitSession(sess)
	return sess, nil
}

// recorder collects snapshots, notifications and activity events.
type recorder struct {
	mu            sync.Mutex
	snapshots     []session.Snapshot
	notifications []session.Notification
	events        []session.ActivityEvent
}

func (r *recorder) Observe(s session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) Notify(_ context.Context, n session.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recorder) Record(_ context.Context, e session.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Snapshots() []session.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Snapshot(nil), r.snapshots...)
}

func (r *recorder) Notifications() []session.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Notification(nil), r.notifications...)
}

func (r *recorder) Events() []session.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.ActivityEvent(nil), r.events...)
}

func (r *recorder) LastNotification(t *testing.T) session.Notification {
	t.Helper()
	n := r.Notifications()
	require.NotEmpty(t, n)
	return n[len(n)-1]
}

func newCoordinator(t *testing.T, backend session.IdentityBackend, opts ...session.Option) (*session.Coordinator, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]session.Option{
		session.WithLogger(session.NopLogger{}),
		session.WithNotifier(rec),
		session.WithActivitySink(rec),
	}, opts...)

	c, err := session.New(backend, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, rec
}

// emitter is a backend whose push channel tests can drive.
type emitter interface {
	session.IdentityBackend
	Emit(event session.AuthEvent, sess *session.AuthSession)
}

// newAnonymous returns a coordinator that already received "no session".
func newAnonymous(t *testing.T, backend emitter, opts ...session.Option) (*session.Coordinator, *recorder) {
	t.Helper()
	c, rec := newCoordinator(t, backend, opts...)
	backend.Emit(session.EventInitialSession, nil)
	return c, rec
}

// newSignedIn returns a coordinator whose backend restored a session for u.
func newSignedIn(t *testing.T, backend emitter, u *session.Identity, opts ...session.Option) (*session.Coordinator, *recorder) {
	t.Helper()
	c, rec := newCoordinator(t, backend, opts...)
	backend.Emit(session.EventInitialSession, &session.AuthSession{AccessToken: "token", User: u})
	require.True(t, c.State().IsAuthenticated())
	return c, rec
}

func jane() *session.Identity {
	return &session.Identity{
		ID:             "u1",
		Email:          "jane@example.com",
		EmailConfirmed: true,
		Profile:        session.Profile{ID: "u1", FullName: "Jane Doe"},
	}
}
