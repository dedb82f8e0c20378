package session

import (
	"context"
	"sort"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ReentrancyPolicy decides what happens when an operation is called while
// another call of the same kind is still pending.
type ReentrancyPolicy int

const (
	// ReentrancyReject fails the second call with ErrOperationInProgress.
	ReentrancyReject ReentrancyPolicy = iota
	// ReentrancyAllow lets both calls run, the last one to resolve wins.
	ReentrancyAllow
)

// Option customizes coordinator construction.
type Option func(*Coordinator)

// WithLogger overrides the logger used for backend and sink failures.
func WithLogger(logger Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifier sets the user facing notifier (toasts).
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithActivitySink sets the ActivitySink used to publish session events.
func WithActivitySink(sink ActivitySink) Option {
	return func(c *Coordinator) {
		c.activity = normalizeActivitySink(sink)
	}
}

// WithReentrancy sets the policy for concurrent calls of the same operation.
func WithReentrancy(p ReentrancyPolicy) Option {
	return func(c *Coordinator) {
		c.reentrancy = p
	}
}

// WithPasswordResetRedirect sets the URL reset links point back to.
func WithPasswordResetRedirect(url string) Option {
	return func(c *Coordinator) {
		c.resetRedirect = url
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.now = clock
		}
	}
}

// Coordinator is the single source of truth for who is signed in. All state
// changes, from operation results and from backend notifications, go through
// one update path so observers never see a torn state.
//
// Observers are called synchronously in version order and must not call
// mutating Coordinator methods or Subscribe from inside the callback.
type Coordinator struct {
	backend       IdentityBackend
	logger        Logger
	notifier      Notifier
	activity      ActivitySink
	reentrancy    ReentrancyPolicy
	resetRedirect string
	now           func() time.Time

	mu        sync.Mutex
	model     model
	last      Snapshot
	version   uint64
	closed    bool
	observers []observerEntry
	nextID    uint64

	deliverMu sync.Mutex
	delivered uint64

	ready     chan struct{}
	readyOnce sync.Once
	sub       Subscription
	closeOnce sync.Once
}

type model struct {
	state      State
	ready      bool
	recovering bool
	pending    map[OperationKind]int

	// held is the latest session push received while a sign in operation
	// was pending.
	held *heldEvent
}

type heldEvent struct {
	event AuthEvent
	sess  *AuthSession
}

// sessionOps resolve into a signed in state themselves; backend pushes that
// arrive while one of them is pending are held until it ends.
var sessionOps = []OperationKind{OpRegister, OpSignIn, OpExchangeCode}

func (m *model) holdsEvents() bool {
	for _, op := range sessionOps {
		if m.pending[op] > 0 {
			return true
		}
	}
	return false
}

func holdable(event AuthEvent) bool {
	switch event {
	case EventSignedIn, EventTokenRefreshed, EventUserUpdated:
		return true
	}
	return false
}

type observerEntry struct {
	id uint64
	fn Observer
}

// New creates a coordinator and subscribes it to backend notifications. The
// state is Unknown until the backend reports its first event. Call Close to
// release the subscription.
func New(backend IdentityBackend, opts ...Option) (*Coordinator, error) {
	if backend == nil {
		return nil, goerrors.New("identity backend is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	c := &Coordinator{
		backend:  backend,
		logger:   defLogger{},
		notifier: noopNotifier{},
		activity: noopActivitySink{},
		now:      time.Now,
		model: model{
			state:   State{Kind: StateUnknown},
			pending: map[OperationKind]int{},
		},
		ready: make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.last = c.snapshotLocked()

	sub := backend.OnAuthStateChange(c.handleAuthEvent)
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	return c, nil
}

// Close releases the backend subscription and drops all observers. It is
// safe to call more than once.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.observers = nil
		sub := c.sub
		c.sub = nil
		c.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
	})
	return nil
}

// Ready is closed once the backend reported its first session status.
func (c *Coordinator) Ready() <-chan struct{} {
	return c.ready
}

// WaitReady blocks until the first backend notification or ctx is done.
func (c *Coordinator) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled waiting for session status")
	}
}

// State returns the last published session state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last.State.clone()
}

// Snapshot returns the last published snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSnapshot(c.last)
}

// Subscribe registers an observer. It is called right away with the current
// snapshot and then once per published change.
func (c *Coordinator) Subscribe(o Observer) Subscription {
	if o == nil {
		return SubscriptionFunc(nil)
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return SubscriptionFunc(nil)
	}
	c.nextID++
	id := c.nextID
	c.observers = append(c.observers, observerEntry{id: id, fn: o})
	current := cloneSnapshot(c.last)
	c.mu.Unlock()

	o(current)

	var once sync.Once
	return SubscriptionFunc(func() {
		once.Do(func() { c.removeObserver(id) })
	})
}

func (c *Coordinator) removeObserver(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, entry := range c.observers {
		if entry.id == id {
			c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
			return
		}
	}
}

// update is the only way state changes. fn runs under the state lock and may
// abort the update by returning an error.
func (c *Coordinator) update(ctx context.Context, fn func(m *model) error) error {
	c.mu.Lock()
	if err := fn(&c.model); err != nil {
		c.mu.Unlock()
		return err
	}

	next := c.snapshotLocked()
	if snapshotsEqual(next, c.last) {
		c.mu.Unlock()
		return nil
	}

	c.version++
	next.Version = c.version
	prev := c.last
	c.last = next

	observers := make([]Observer, 0, len(c.observers))
	for _, entry := range c.observers {
		observers = append(observers, entry.fn)
	}
	c.mu.Unlock()

	c.deliver(next, observers)

	if prev.State.Kind != next.State.Kind || prev.State.UserID() != next.State.UserID() {
		c.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventStateChanged,
			UserID:    firstNonEmpty(next.State.UserID(), prev.State.UserID()),
			FromState: prev.State.Kind,
			ToState:   next.State.Kind,
		})
	}

	return nil
}

func (c *Coordinator) deliver(s Snapshot, observers []Observer) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	// a newer snapshot already went out
	if s.Version <= c.delivered {
		return
	}
	c.delivered = s.Version

	for _, o := range observers {
		o(cloneSnapshot(s))
	}
}

func (c *Coordinator) snapshotLocked() Snapshot {
	pending := make([]OperationKind, 0, len(c.model.pending))
	for kind, n := range c.model.pending {
		if n > 0 {
			pending = append(pending, kind)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	return Snapshot{
		State:      c.model.state.clone(),
		Loading:    !c.model.ready || len(pending) > 0,
		Pending:    pending,
		Recovering: c.model.recovering,
		Version:    c.version,
	}
}

// transition moves m to the target state when the move is allowed.
func (c *Coordinator) transition(m *model, to State) {
	if !CanTransition(m.state.Kind, to.Kind) {
		c.logger.Warn("ignoring session transition %s -> %s", m.state.Kind, to.Kind)
		return
	}
	if to.Kind == StateAuthenticated {
		to = Authenticated(keepProfile(m.state, to.Identity))
	}
	m.state = to
}

func (c *Coordinator) handleAuthEvent(event AuthEvent, sess *AuthSession) {
	c.logger.Debug("auth event %s (session=%t)", event, sess != nil)

	err := c.update(context.Background(), func(m *model) error {
		if c.closed {
			return ErrClosed
		}

		m.ready = true

		if holdable(event) && m.holdsEvents() {
			m.held = &heldEvent{event: event, sess: sess}
		} else {
			if event == EventSignedOut {
				m.held = nil
			}
			c.applyEvent(m, event, sess)
		}

		if m.state.IsUnknown() {
			c.transition(m, Anonymous())
		}
		return nil
	})

	if err != nil {
		return
	}

	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Coordinator) applyEvent(m *model, event AuthEvent, sess *AuthSession) {
	var user *Identity
	recovery := false
	if sess != nil {
		user = sess.User
		recovery = sess.Recovery
	}

	switch event {
	case EventInitialSession, EventSignedIn, EventTokenRefreshed:
		switch {
		case recovery:
			m.recovering = true
		case user != nil:
			c.transition(m, Authenticated(user))
		case event == EventInitialSession:
			c.transition(m, Anonymous())
		}
	case EventSignedOut:
		m.recovering = false
		c.transition(m, Anonymous())
	case EventUserUpdated:
		if user != nil && m.state.UserID() == user.ID {
			c.transition(m, Authenticated(user))
		}
	case EventPasswordRecovery:
		m.recovering = true
	default:
		c.logger.Debug("unhandled auth event %s", event)
	}
}

func (c *Coordinator) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed.Clone()
	}
	return nil
}

// begin marks op as pending and publishes the loading state.
func (c *Coordinator) begin(ctx context.Context, op OperationKind) error {
	return c.update(ctx, func(m *model) error {
		if c.closed {
			return ErrClosed.Clone()
		}
		if c.reentrancy == ReentrancyReject && op != OpSignOut && m.pending[op] > 0 {
			return ErrOperationInProgress.Clone().WithMetadata(map[string]any{
				"operation": op,
			})
		}
		m.pending[op]++
		return nil
	})
}

// end clears the pending marker of op and applies the result in the same
// publication. Once no sign in operation is pending, a held push is dropped
// when apply is set and replayed otherwise.
func (c *Coordinator) end(ctx context.Context, op OperationKind, apply func(m *model)) {
	_ = c.update(ctx, func(m *model) error {
		if n := m.pending[op]; n > 1 {
			m.pending[op] = n - 1
		} else {
			delete(m.pending, op)
		}
		if !c.closed && apply != nil {
			apply(m)
		}
		if m.held != nil && !m.holdsEvents() {
			held := m.held
			m.held = nil
			if !c.closed && apply == nil {
				c.applyEvent(m, held.event, held.sess)
			}
		}
		return nil
	})
}

func (c *Coordinator) succeed(ctx context.Context, op OperationKind, userID string, metadata map[string]any) {
	c.notifier.Notify(ctx, successNotification(op))
	c.recordActivity(ctx, ActivityEvent{
		EventType: eventTypeFor(op, OutcomeSuccess),
		Operation: op,
		Outcome:   OutcomeSuccess,
		UserID:    userID,
		Metadata:  metadata,
	})
}

// fail ends op without touching the state and reports err.
func (c *Coordinator) fail(ctx context.Context, op OperationKind, err error) error {
	c.end(ctx, op, nil)
	c.reportFailure(ctx, op, err)
	return err
}

// rollback is fail for an operation whose backend side effects were undone:
// pushes held during op are discarded instead of replayed.
func (c *Coordinator) rollback(ctx context.Context, op OperationKind, err error) error {
	c.end(ctx, op, func(*model) {})
	c.reportFailure(ctx, op, err)
	return err
}

func (c *Coordinator) reportFailure(ctx context.Context, op OperationKind, err error) {
	c.logger.Warn("%s failed: %v", op, err)
	c.notifier.Notify(ctx, failureNotification(op, err))
	c.recordActivity(ctx, ActivityEvent{
		EventType: eventTypeFor(op, OutcomeFailure),
		Operation: op,
		Outcome:   OutcomeFailure,
		UserID:    c.State().UserID(),
		ErrorCode: Kind(err),
	})
}

func (c *Coordinator) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = c.now()
	}
	if err := normalizeActivitySink(c.activity).Record(ctx, event); err != nil {
		c.logger.Warn("activity sink error during %s: %v", event.EventType, err)
	}
}

// keepProfile carries the known profile over when the backend reports the
// same identity without profile data.
func keepProfile(current State, incoming *Identity) *Identity {
	out := incoming.Clone()
	if out == nil || current.Identity == nil || current.Identity.ID != out.ID {
		return out
	}
	if out.Profile.Equal(Profile{}) {
		out.Profile = current.Identity.Clone().Profile
	}
	return out
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.State = s.State.clone()
	if s.Pending != nil {
		out.Pending = append([]OperationKind(nil), s.Pending...)
	}
	return out
}

func snapshotsEqual(a, b Snapshot) bool {
	if a.Loading != b.Loading || a.Recovering != b.Recovering || !a.State.Equal(b.State) {
		return false
	}
	if len(a.Pending) != len(b.Pending) {
		return false
	}
	for i := range a.Pending {
		if a.Pending[i] != b.Pending[i] {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
