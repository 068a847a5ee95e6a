package session

import "errors"

// Common errors for session operations.
var (
	// ErrPassphraseMismatch means the presented fingerprint does not equal
	// the session's stored fingerprint. The stored fingerprint is never
	// included in the error.
	ErrPassphraseMismatch = errors.New("passphrase fingerprint does not match session")

	// ErrSessionExpired means the session was marked expired by the sweeper
	// and the operation cannot proceed; clients should rejoin.
	ErrSessionExpired = errors.New("session has expired")

	// ErrSessionNotFound means no session with the given ID exists.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnauthorized means the token is missing, invalid, revoked, or
	// bound to a different session.
	ErrUnauthorized = errors.New("invalid or revoked session token")

	// ErrInvalidFingerprint means the fingerprint components have wrong sizes.
	ErrInvalidFingerprint = errors.New("malformed passphrase fingerprint")

	// ErrMemberNotFound means the client is not a member of the session.
	ErrMemberNotFound = errors.New("client is not a member of the session")
)
