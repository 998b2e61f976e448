package credcore

import "time"

// lockoutPolicy is a pure state transition over the User aggregate.
// Whether a given failure should apply a lock is the orchestrator's
// decision; this policy only executes it.
type lockoutPolicy struct {
	config LockoutConfig
}

// recordSuccess appends a history entry, stamps the last successful
// authentication, clears any lock, and resets the failure counter. The
// counter reset is reserved for genuine full authentication; nothing else
// resets it.
func (p lockoutPolicy) recordSuccess(u *User, when time.Time) {
	u.appendHistory(when, OutcomeSuccess)
	authAt := when
	u.WhenLastAuthenticated = &authAt
	u.WhenLocked = nil
	u.FailedAttempts = 0
}

// recordFailure appends a history entry and increments the failure
// counter. When applyLock is set and the account is lockable, the lock
// timestamp is written and the password hash is overwritten with the
// sentinel so no password can validate until the hash is rotated through a
// reset. Non-lockable accounts never lock regardless of applyLock.
func (p lockoutPolicy) recordFailure(u *User, when time.Time, applyLock bool) {
	u.appendHistory(when, OutcomeFailure)
	u.FailedAttempts++
	if applyLock && u.IsLockable {
		lockedAt := when
		u.WhenLocked = &lockedAt
		u.PasswordHash = sentinelPasswordHash
		u.appendHistory(when, OutcomeLockedByPolicy)
	}
}

// recordPartial appends a history entry for an intermediate stage (an MFA
// challenge issued or failed). No counter or lock effect.
func (p lockoutPolicy) recordPartial(u *User, when time.Time, outcome string) {
	u.appendHistory(when, outcome)
}

// shouldLock reports whether the next failure crosses the configured
// consecutive-failure threshold.
func (p lockoutPolicy) shouldLock(u *User) bool {
	if p.config.MaxFailedAttempts <= 0 {
		return false
	}
	return u.FailedAttempts+1 >= p.config.MaxFailedAttempts
}

// unlock clears the lock timestamp only. The failure counter survives an
// explicit unlock; it resets solely on successful authentication.
func (p lockoutPolicy) unlock(u *User) {
	u.WhenLocked = nil
}
