// Package session manages the local login lifecycle.
//
// A Manager moves between exactly two states:
//
//	LoggedOut -> (Register | Login) -> LoggedIn -> (Logout | expiry) -> LoggedOut
//
// The active session is persisted as a single serialized record in the
// settings table — a signed token, a user snapshot, and an expiry — so
// Restore can bring a device back to LoggedIn across restarts without
// re-prompting for credentials. An expired record is purged on Restore,
// never silently extended.
//
// Tokens are HS256 JWTs signed with a device-local secret generated on
// first use. Password validation happens before storage is touched;
// Login collapses "unknown user" and "wrong password" into a single
// ErrInvalidCredentials so usernames cannot be enumerated.
package session
