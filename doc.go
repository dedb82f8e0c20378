// Package session provides a client side authentication coordinator: one
// explicitly constructed value that knows who is signed in, mediates every
// identity mutating call and notifies observers when that changes.
//
// Coordinator:
//   - New subscribes to the IdentityBackend push channel and keeps the
//     subscription until Close. The state starts Unknown and moves to
//     Authenticated or Anonymous on the first backend notification.
//   - Operation results and backend notifications share a single update
//     path. Observers receive Snapshots synchronously, in Version order, and
//     an operation returns only after its result has been delivered.
//   - Input is validated locally with ozzo-validation before any backend call.
//     Failures carry per-field messages, see FieldErrors.
//
// Errors:
//   - Every failure is a go-errors *Error with one of the TextCode* codes.
//     Use Kind or the Is* helpers to branch on them.
//
// Side channels:
//   - Notifier receives success and failure messages suitable for toasts.
//   - ActivitySink receives audit events for operations and state changes.
//     Sinks run best-effort (errors are logged).
//
// Backends live in sub packages: backend/gotrue for a hosted GoTrue service
// and backend/local for a self-hosted SQL store.
package session
