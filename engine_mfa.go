package credcore

import (
	"context"
	"errors"
	"time"

	"github.com/cadencesec/credcore/internal"
)

// RequestEmailCode issues a one-time email code for an open challenge.
// Accounts with an enrolled app or device do not receive a code at
// BeginAuthentication; they ask for one explicitly through this command.
// Re-requesting replaces the previous code.
//
// RequestEmailCode may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) RequestEmailCode(ctx context.Context, challengeID string) (*EmailCodeResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	record, user, err := e.loadChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if err := e.failChallengeOnStatus(ctx, challengeID, user); err != nil {
		return nil, err
	}

	expiresAt := time.Unix(record.ExpiresAt, 0)
	effect, err := e.issueEmailCode(ctx, challengeID, user, expiresAt)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if _, err := e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		e.lockout.recordPartial(u, now, OutcomeEmailCodeRequested)
		return nil
	}); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventMFAChallenge, true, user.ID.String(), user.TenantID, nil, func() map[string]string {
		return map[string]string{"method": MFAMethodEmail.String()}
	})

	return &EmailCodeResult{
		ExpiresAt: expiresAt,
		Effects:   []Effect{effect},
	}, nil
}

// SubmitEmailCode validates a one-time email code against an open challenge
// and promotes the partial session on a match. The stored digest is
// deleted on the first match, so of two requests racing on the same code
// exactly one succeeds.
//
// SubmitEmailCode may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) SubmitEmailCode(ctx context.Context, challengeID, code string) (*SessionResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	_, user, err := e.loadChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if err := e.failChallengeOnStatus(ctx, challengeID, user); err != nil {
		return nil, err
	}

	err = e.emailCodes.Consume(ctx, challengeID, internal.HashCode(code), e.config.MFA.MaxAttempts)
	switch {
	case err == nil:
	case errors.Is(err, errEmailCodeMismatch):
		return nil, e.failMFAAttempt(ctx, challengeID, user, MFAMethodEmail, OutcomeEmailCodeFailed)
	case errors.Is(err, errEmailCodeExceeded):
		return nil, e.failChallengeExceeded(ctx, challengeID, user, MFAMethodEmail)
	case errors.Is(err, errEmailCodeNotFound):
		now := e.now()
		_, _ = e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
			e.lockout.recordPartial(u, now, OutcomeEmailCodeFailed)
			return nil
		})
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, user.ID.String(), user.TenantID, ErrAuthenticationFailed, func() map[string]string {
			return map[string]string{"method": MFAMethodEmail.String(), "reason": "no_active_code"}
		})
		return nil, ErrAuthenticationFailed
	default:
		return nil, translateEmailCodeErr(err)
	}

	now := e.now()
	promoted, err := e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		e.lockout.recordSuccess(u, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return e.promote(ctx, challengeID, promoted, MFAMethodEmail)
}

// SubmitAppCode validates a TOTP code against an open challenge and
// promotes the partial session on a match. The code's matched time-step
// must exceed the last accepted one: the check and the step update run in
// the same aggregate mutation, so the same code submitted twice yields
// exactly one success and one replay rejection.
//
// SubmitAppCode may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) SubmitAppCode(ctx context.Context, challengeID, code string) (*SessionResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	record, user, err := e.loadChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if err := e.failChallengeOnStatus(ctx, challengeID, user); err != nil {
		return nil, err
	}
	if record.Methods&uint8(MFAMethodApp) == 0 {
		return nil, e.failMFAAttempt(ctx, challengeID, user, MFAMethodApp, OutcomeAppCodeFailed)
	}

	now := e.now()
	var replay bool
	promoted, err := e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		app := u.ActiveApp()
		if app == nil {
			return ErrAppNotEnrolled
		}

		ok, step, verr := e.totp.VerifyCode(app.Secret, code, now)
		if verr != nil || !ok {
			return ErrAuthenticationFailed
		}
		if e.config.TOTP.EnforceReplayProtection && step <= app.LastUsedStep {
			replay = true
			return ErrReplayDetected
		}

		app.LastUsedStep = step
		usedAt := now
		app.WhenLastUsed = &usedAt
		e.lockout.recordSuccess(u, now)
		return nil
	})
	if err != nil {
		if replay || errors.Is(err, ErrReplayDetected) {
			return nil, e.rejectReplay(ctx, user, MFAMethodApp, now)
		}
		if errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrAppNotEnrolled) {
			return nil, e.failMFAAttempt(ctx, challengeID, user, MFAMethodApp, OutcomeAppCodeFailed)
		}
		return nil, err
	}

	return e.promote(ctx, challengeID, promoted, MFAMethodApp)
}

// SubmitDeviceAssertion validates a WebAuthn assertion against an open
// challenge and promotes the partial session on success. The verifier
// checks the ceremony cryptography; this command owns the signature
// counter bookkeeping. A counter at or below the stored value is treated
// as a cloned authenticator and hard-fails.
//
// SubmitDeviceAssertion may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) SubmitDeviceAssertion(ctx context.Context, challengeID string, assertion DeviceAssertion) (*SessionResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if e.verifier == nil {
		return nil, ErrEngineNotReady
	}

	record, user, err := e.loadChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if err := e.failChallengeOnStatus(ctx, challengeID, user); err != nil {
		return nil, err
	}
	if record.Methods&uint8(MFAMethodDevice) == 0 || len(record.WebAuthnChallenge) == 0 {
		return nil, e.failMFAAttempt(ctx, challengeID, user, MFAMethodDevice, OutcomeDeviceAssertFailed)
	}

	device := user.ActiveDeviceByCredentialID(assertion.CredentialID)
	if device == nil {
		return nil, e.failMFAAttempt(ctx, challengeID, user, MFAMethodDevice, OutcomeDeviceAssertFailed)
	}

	options := DeviceAssertionOptions{
		Challenge:      record.WebAuthnChallenge,
		RelyingPartyID: e.config.WebAuthn.RelyingPartyID,
	}
	assertionResult, err := e.verifier.VerifyAssertion(options, assertion, device)
	if err != nil || assertionResult == nil {
		return nil, e.failMFAAttempt(ctx, challengeID, user, MFAMethodDevice, OutcomeDeviceAssertFailed)
	}

	now := e.now()
	var replay bool
	promoted, err := e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		d := u.ActiveDeviceByCredentialID(assertion.CredentialID)
		if d == nil {
			return ErrAuthenticationFailed
		}

		// Counters of zero on both sides mean the authenticator does not
		// implement one; anything else must strictly increase.
		if assertionResult.SignCount != 0 || d.SignCount != 0 {
			if assertionResult.SignCount <= d.SignCount {
				replay = true
				return ErrReplayDetected
			}
		}

		d.SignCount = assertionResult.SignCount
		usedAt := now
		d.WhenLastUsed = &usedAt
		e.lockout.recordSuccess(u, now)
		return nil
	})
	if err != nil {
		if replay || errors.Is(err, ErrReplayDetected) {
			return nil, e.rejectReplay(ctx, user, MFAMethodDevice, now)
		}
		if errors.Is(err, ErrAuthenticationFailed) {
			return nil, e.failMFAAttempt(ctx, challengeID, user, MFAMethodDevice, OutcomeDeviceAssertFailed)
		}
		return nil, err
	}

	return e.promote(ctx, challengeID, promoted, MFAMethodDevice)
}

// promote consumes the challenge and mints the session token. The partial
// session is single-use: a delete miss means a concurrent request already
// promoted it, which is reported as a replay.
func (e *Engine) promote(ctx context.Context, challengeID string, user *User, method MFAMethod) (*SessionResult, error) {
	existed, err := e.partialStore.Delete(ctx, challengeID)
	if err != nil {
		return nil, translateChallengeErr(err)
	}
	if !existed {
		e.metricInc(MetricReplayDetected)
		e.emitAudit(ctx, auditEventMFAReplay, false, user.ID.String(), user.TenantID, ErrReplayDetected, func() map[string]string {
			return map[string]string{"method": method.String(), "reason": "challenge_already_consumed"}
		})
		return nil, ErrReplayDetected
	}

	result, err := e.mintSession(user, method)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricMFASuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, user.ID.String(), user.TenantID, nil, func() map[string]string {
		return map[string]string{"method": method.String()}
	})

	return result, nil
}

// failMFAAttempt charges one attempt against the challenge budget and
// records the failure in the account history. Exhausting the budget
// destroys the challenge and counts as a primary-check failure toward the
// lockout threshold.
func (e *Engine) failMFAAttempt(ctx context.Context, challengeID string, user *User, method MFAMethod, outcome string) error {
	exceeded, err := e.partialStore.RecordFailure(ctx, challengeID, e.config.MFA.MaxAttempts)
	if err != nil {
		return translateChallengeErr(err)
	}
	if exceeded {
		return e.failChallengeExceeded(ctx, challengeID, user, method)
	}

	now := e.now()
	if _, err := e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		e.lockout.recordPartial(u, now, outcome)
		return nil
	}); err != nil {
		return err
	}

	e.metricInc(MetricMFAFailure)
	e.emitAudit(ctx, auditEventMFAFailure, false, user.ID.String(), user.TenantID, ErrAuthenticationFailed, func() map[string]string {
		return map[string]string{"method": method.String()}
	})
	return ErrAuthenticationFailed
}

// rejectReplay records a replay rejection against the aggregate. The
// mutation that detected the replay was discarded with it, so the history
// entry is written in its own mutation here.
func (e *Engine) rejectReplay(ctx context.Context, user *User, method MFAMethod, now time.Time) error {
	_, _ = e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		e.lockout.recordPartial(u, now, OutcomeReplayDetected)
		return nil
	})

	e.metricInc(MetricReplayDetected)
	e.metricInc(MetricMFAFailure)
	e.emitAudit(ctx, auditEventMFAReplay, false, user.ID.String(), user.TenantID, ErrReplayDetected, func() map[string]string {
		return map[string]string{"method": method.String()}
	})
	return ErrReplayDetected
}

// failChallengeExceeded destroys the challenge and registers a lockout-
// counting failure against the aggregate.
func (e *Engine) failChallengeExceeded(ctx context.Context, challengeID string, user *User, method MFAMethod) error {
	_, _ = e.partialStore.Delete(ctx, challengeID)

	now := e.now()
	var locked bool
	if _, err := e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		applyLock := e.lockout.shouldLock(u)
		e.lockout.recordFailure(u, now, applyLock)
		locked = applyLock && u.IsLockable
		return nil
	}); err != nil {
		return err
	}

	e.metricInc(MetricMFAFailure)
	e.metricInc(MetricMFAAttemptsExceeded)
	if locked {
		e.metricInc(MetricLockoutApplied)
		e.emitAudit(ctx, auditEventLoginLockout, false, user.ID.String(), user.TenantID, ErrAccountLocked, nil)
	}
	e.emitAudit(ctx, auditEventMFAFailure, false, user.ID.String(), user.TenantID, ErrChallengeAttemptsExceeded, func() map[string]string {
		return map[string]string{"method": method.String()}
	})
	return ErrChallengeAttemptsExceeded
}

// failChallengeOnStatus aborts an open challenge when the account was
// disabled or locked after the primary check.
func (e *Engine) failChallengeOnStatus(ctx context.Context, challengeID string, user *User) error {
	statusErr := accountStatusError(user)
	if statusErr == nil {
		return nil
	}

	_, _ = e.partialStore.Delete(ctx, challengeID)
	e.emitAudit(ctx, auditEventMFAFailure, false, user.ID.String(), user.TenantID, statusErr, func() map[string]string {
		return map[string]string{"reason": "account_status"}
	})
	return statusErr
}

func translateEmailCodeErr(err error) error {
	switch {
	case errors.Is(err, errEmailCodeNotFound):
		return ErrAuthenticationFailed
	case errors.Is(err, errEmailCodeMismatch):
		return ErrAuthenticationFailed
	case errors.Is(err, errEmailCodeExceeded):
		return ErrChallengeAttemptsExceeded
	case errors.Is(err, errEmailCodeBackend):
		return errors.Join(ErrChallengeBackend, err)
	default:
		return err
	}
}
