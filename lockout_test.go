package credcore

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func lockoutTestUser() *User {
	return &User{
		ID:           uuid.New(),
		TenantID:     "0",
		Email:        "alice@example.com",
		PasswordHash: "some-hash",
		IsLockable:   true,
	}
}

func TestLockoutShouldLockAtThreshold(t *testing.T) {
	p := lockoutPolicy{config: LockoutConfig{MaxFailedAttempts: 3}}
	u := lockoutTestUser()

	u.FailedAttempts = 1
	if p.shouldLock(u) {
		t.Fatal("two failures must not lock at threshold three")
	}
	u.FailedAttempts = 2
	if !p.shouldLock(u) {
		t.Fatal("third failure must lock at threshold three")
	}
}

func TestLockoutThresholdZeroDisables(t *testing.T) {
	p := lockoutPolicy{config: LockoutConfig{MaxFailedAttempts: 0}}
	u := lockoutTestUser()
	u.FailedAttempts = 100

	if p.shouldLock(u) {
		t.Fatal("threshold zero must never lock")
	}
}

func TestLockoutRecordFailureAppliesLockAndSentinel(t *testing.T) {
	p := lockoutPolicy{config: LockoutConfig{MaxFailedAttempts: 1}}
	u := lockoutTestUser()
	now := time.Now().UTC()

	p.recordFailure(u, now, true)

	if u.FailedAttempts != 1 {
		t.Fatalf("expected counter 1, got %d", u.FailedAttempts)
	}
	if !u.Locked() {
		t.Fatal("expected lock applied")
	}
	if u.PasswordHash != sentinelPasswordHash {
		t.Fatal("expected sentinel hash on lock")
	}
	if len(u.History) != 2 || u.History[1].Outcome != OutcomeLockedByPolicy {
		t.Fatalf("expected failure and policy-lock history entries, got %v", u.History)
	}
}

func TestLockoutRecordFailureNonLockable(t *testing.T) {
	p := lockoutPolicy{config: LockoutConfig{MaxFailedAttempts: 1}}
	u := lockoutTestUser()
	u.IsLockable = false

	p.recordFailure(u, time.Now(), true)

	if u.Locked() {
		t.Fatal("non-lockable account must not lock")
	}
	if u.PasswordHash == sentinelPasswordHash {
		t.Fatal("non-lockable account must keep its hash")
	}
	if u.FailedAttempts != 1 {
		t.Fatal("failures are still counted")
	}
}

func TestLockoutRecordSuccessResetsState(t *testing.T) {
	p := lockoutPolicy{config: LockoutConfig{MaxFailedAttempts: 3}}
	u := lockoutTestUser()
	now := time.Now().UTC()
	lockedAt := now.Add(-time.Minute)
	u.FailedAttempts = 2
	u.WhenLocked = &lockedAt

	p.recordSuccess(u, now)

	if u.FailedAttempts != 0 {
		t.Fatal("expected counter reset")
	}
	if u.Locked() {
		t.Fatal("expected lock cleared")
	}
	if u.WhenLastAuthenticated == nil || !u.WhenLastAuthenticated.Equal(now) {
		t.Fatal("expected last-authenticated stamped")
	}
	if u.History[len(u.History)-1].Outcome != OutcomeSuccess {
		t.Fatal("expected success history entry")
	}
}

func TestLockoutUnlockClearsTimestampOnly(t *testing.T) {
	p := lockoutPolicy{config: LockoutConfig{MaxFailedAttempts: 3}}
	u := lockoutTestUser()
	now := time.Now().UTC()
	u.FailedAttempts = 3
	u.WhenLocked = &now
	u.PasswordHash = sentinelPasswordHash

	p.unlock(u)

	if u.Locked() {
		t.Fatal("expected lock cleared")
	}
	if u.FailedAttempts != 3 {
		t.Fatal("unlock must not reset the failure counter")
	}
	if u.PasswordHash != sentinelPasswordHash {
		t.Fatal("unlock must not rotate the hash")
	}
}
