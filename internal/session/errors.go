package session

import "errors"

var (
	// ErrSessionExpired means a refresh was attempted and failed; the
	// session has been cleared and the user must log in again.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoRefreshCredential means no usable refresh credential exists;
	// no network call was attempted.
	ErrNoRefreshCredential = errors.New("no refresh credential")

	// ErrUnavailable wraps transport-level failures talking to the
	// credential exchange endpoints.
	ErrUnavailable = errors.New("server unavailable")
)
