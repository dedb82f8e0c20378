// Package gotrue implements session.IdentityBackend against a hosted GoTrue
// auth service with its PostgREST profiles table, the pair exposed by
// Supabase style platforms.
//
// The client keeps a single session, persisted in a storage.Store under
// "<prefix>-auth-token" so that a restarted process picks it up again. The
// first listener registered with OnAuthStateChange receives the restored
// session as INITIAL_SESSION. Expired sessions are refreshed when a refresh
// token is available and discarded otherwise.
//
// Redirect based flows use PKCE: the verifier is kept under
// "<prefix>-code-verifier" until ExchangeCodeForSession consumes it.
package gotrue
