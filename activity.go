package session

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventStateChanged          ActivityEventType = "session.state.changed"
	ActivityEventRegisterSuccess       ActivityEventType = "session.register.success"
	ActivityEventRegisterFailure       ActivityEventType = "session.register.failure"
	ActivityEventLoginSuccess          ActivityEventType = "session.login.success"
	ActivityEventLoginFailure          ActivityEventType = "session.login.failure"
	ActivityEventLogout                ActivityEventType = "session.logout"
	ActivityEventPasswordResetRequest  ActivityEventType = "session.password.reset_requested"
	ActivityEventPasswordResetSuccess  ActivityEventType = "session.password.reset"
	ActivityEventPasswordResetFailure  ActivityEventType = "session.password.reset_failure"
	ActivityEventPasswordChanged       ActivityEventType = "session.password.changed"
	ActivityEventPasswordChangeFailure ActivityEventType = "session.password.change_failure"
	ActivityEventProfileUpdated        ActivityEventType = "session.profile.updated"
	ActivityEventProfileUpdateFailure  ActivityEventType = "session.profile.update_failure"
	ActivityEventCodeExchanged         ActivityEventType = "session.code.exchanged"
	ActivityEventCodeExchangeFailure   ActivityEventType = "session.code.exchange_failure"
	ActivityEventEmailVerified         ActivityEventType = "session.email.verified"
	ActivityEventEmailVerifyFailure    ActivityEventType = "session.email.verify_failure"
)

// Outcome is the result of an operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Operation  OperationKind
	Outcome    Outcome
	UserID     string
	FromState  StateKind
	ToState    StateKind
	ErrorCode  string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiActivitySink fans events out to every sink. The first error is
// returned after all sinks ran.
type MultiActivitySink []ActivitySink

func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

var operationEvents = map[OperationKind][2]ActivityEventType{
	OpRegister:             {ActivityEventRegisterSuccess, ActivityEventRegisterFailure},
	OpSignIn:               {ActivityEventLoginSuccess, ActivityEventLoginFailure},
	OpSignOut:              {ActivityEventLogout, ActivityEventLogout},
	OpRequestPasswordReset: {ActivityEventPasswordResetRequest, ActivityEventPasswordResetRequest},
	OpResetPassword:        {ActivityEventPasswordResetSuccess, ActivityEventPasswordResetFailure},
	OpChangePassword:       {ActivityEventPasswordChanged, ActivityEventPasswordChangeFailure},
	OpUpdateProfile:        {ActivityEventProfileUpdated, ActivityEventProfileUpdateFailure},
	OpExchangeCode:         {ActivityEventCodeExchanged, ActivityEventCodeExchangeFailure},
	OpVerifyEmail:          {ActivityEventEmailVerified, ActivityEventEmailVerifyFailure},
}

func eventTypeFor(op OperationKind, outcome Outcome) ActivityEventType {
	pair, ok := operationEvents[op]
	if !ok {
		return ActivityEventType("session." + string(op))
	}
	if outcome == OutcomeFailure {
		return pair[1]
	}
	return pair[0]
}
