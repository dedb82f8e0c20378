package session

import "context"

// NotificationLevel is the tone of a user visible notification.
type NotificationLevel string

const (
	NotificationSuccess NotificationLevel = "success"
	NotificationError   NotificationLevel = "error"
)

// Notification is a transient user facing message, the toast of a UI.
type Notification struct {
	Level       NotificationLevel
	Operation   OperationKind
	Title       string
	Description string
	Err         error
}

// Notifier surfaces operation outcomes to the user. It is called after the
// state has been published and must not block for long.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	if f != nil {
		f(ctx, n)
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

type notificationText struct {
	successTitle string
	successDesc  string
	failureTitle string
}

var notificationTexts = map[OperationKind]notificationText{
	OpRegister: {
		successTitle: "Registration successful",
		successDesc:  "Please verify your email to continue.",
		failureTitle: "Registration failed",
	},
	OpSignIn: {
		successTitle: "Login successful",
		successDesc:  "Welcome back!",
		failureTitle: "Login failed",
	},
	OpSignOut: {
		successTitle: "Logged out",
		successDesc:  "You have been logged out successfully.",
		failureTitle: "Logout failed",
	},
	OpRequestPasswordReset: {
		successTitle: "Password reset email sent",
		successDesc:  "Check your email for the reset link.",
		failureTitle: "Password reset failed",
	},
	OpResetPassword: {
		successTitle: "Password reset successful",
		successDesc:  "You can now log in with your new password.",
		failureTitle: "Password reset failed",
	},
	OpChangePassword: {
		successTitle: "Password changed",
		successDesc:  "Your password has been changed successfully.",
		failureTitle: "Password change failed",
	},
	OpUpdateProfile: {
		successTitle: "Profile updated",
		successDesc:  "Your profile has been updated successfully.",
		failureTitle: "Profile update failed",
	},
	OpExchangeCode: {
		successTitle: "Signed in",
		successDesc:  "Your link has been verified.",
		failureTitle: "Link verification failed",
	},
	OpVerifyEmail: {
		successTitle: "Email verified",
		successDesc:  "You can now log in.",
		failureTitle: "Email verification failed",
	},
}

func successNotification(op OperationKind) Notification {
	t := notificationTexts[op]
	return Notification{
		Level:       NotificationSuccess,
		Operation:   op,
		Title:       t.successTitle,
		Description: t.successDesc,
	}
}

func failureNotification(op OperationKind, err error) Notification {
	t := notificationTexts[op]
	return Notification{
		Level:       NotificationError,
		Operation:   op,
		Title:       t.failureTitle,
		Description: Message(err),
		Err:         err,
	}
}
