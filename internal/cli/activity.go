package cli

import (
	"context"

	session "github.com/goliatone/go-auth-session"
)

// activityLogger writes session activity to the debug log.
func activityLogger(logger session.Logger) session.ActivitySink {
	return session.ActivitySinkFunc(func(_ context.Context, e session.ActivityEvent) error {
		if e.ErrorCode != "" {
			logger.Debug("activity %s op=%s outcome=%s user=%s error=%s", e.EventType, e.Operation, e.Outcome, e.UserID, e.ErrorCode)
			return nil
		}
		logger.Debug("activity %s op=%s outcome=%s user=%s %s->%s", e.EventType, e.Operation, e.Outcome, e.UserID, e.FromState, e.ToState)
		return nil
	})
}
