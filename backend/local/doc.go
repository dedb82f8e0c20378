// Package local implements session.IdentityBackend on top of a SQL database
// through bun. It is meant for self hosted deployments and tests that need a
// real backend.
//
// Tables are created by Migrate. Passwords are hashed with bcrypt, access
// tokens are HS256 JWTs and password reset tokens are single use rows that
// expire after DefaultResetThreshold.
package local
