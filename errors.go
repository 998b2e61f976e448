package credcore

import "errors"

var (
	// ErrEngineNotReady is returned when a command runs before Build wired
	// the required dependencies.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrValidation is returned for malformed input caught before the
	// state machine runs.
	ErrValidation = errors.New("invalid input")
	// ErrAuthenticationFailed covers bad primary credentials and bad MFA
	// proofs. Deliberately undifferentiated so callers cannot enumerate
	// accounts; audit events keep the internal reason.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrUserNotFound is returned by [CredentialStore] implementations for
	// a missing or tenant-filtered aggregate. Authentication paths fold it
	// into ErrAuthenticationFailed before it reaches a caller.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountLocked is returned when a lock timestamp is in effect.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned when the account is disabled.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountNotLockable is returned when a lock is requested for an
	// account with the lockable flag unset.
	ErrAccountNotLockable = errors.New("account not lockable")
	// ErrChallengeNotFound is returned when the partial authentication
	// session is absent or expired.
	ErrChallengeNotFound = errors.New("authentication challenge not found")
	// ErrChallengeAttemptsExceeded is returned when a partial session has
	// consumed its MFA attempt budget.
	ErrChallengeAttemptsExceeded = errors.New("authentication challenge attempts exceeded")
	// ErrTokenNotFound is returned when a security token does not decode
	// to a known mapping.
	ErrTokenNotFound = errors.New("security token not found")
	// ErrTokenExpired is returned when a security token exists but its
	// expiry has passed.
	ErrTokenExpired = errors.New("security token expired")
	// ErrTokenAlreadyUsed is returned when a security token was consumed
	// before.
	ErrTokenAlreadyUsed = errors.New("security token already used")
	// ErrAttestationInvalid is returned when the WebAuthn verifier rejects
	// an enrollment ceremony.
	ErrAttestationInvalid = errors.New("attestation invalid")
	// ErrReplayDetected is returned when a WebAuthn assertion or TOTP code
	// presents a counter at or below the last accepted value.
	ErrReplayDetected = errors.New("replay detected")
	// ErrPasswordPolicy is returned when a candidate password violates the
	// configured strength rules.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a candidate password matches one
	// of the last N password hashes.
	ErrPasswordReuse = errors.New("password was used recently")
	// ErrAppAlreadyEnrolled is returned when a second authenticator app
	// enrollment is confirmed while one is still active.
	ErrAppAlreadyEnrolled = errors.New("authenticator app already enrolled")
	// ErrAppNotEnrolled is returned when an app operation requires an
	// active authenticator app and none exists.
	ErrAppNotEnrolled = errors.New("no active authenticator app")
	// ErrDeviceNotFound is returned when a device id does not match an
	// active authenticator device.
	ErrDeviceNotFound = errors.New("authenticator device not found")
	// ErrPersistenceFailure wraps credential store commit failures. Never
	// retried inside the core; retry policy belongs to the caller.
	ErrPersistenceFailure = errors.New("credential store failure")
	// ErrChallengeBackend wraps Redis failures on the ephemeral stores.
	ErrChallengeBackend = errors.New("challenge backend unavailable")
)
