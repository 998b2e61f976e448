package credcore

import (
	"context"
	"strings"
	"time"

	"github.com/cadencesec/credcore/internal"
	"github.com/google/uuid"
)

// BeginAuthentication runs the primary credential check and, on success,
// opens a partial authentication session pending a second factor.
//
// The returned challenge id names the partial session; the caller presents
// it to one of the Submit commands together with an MFA proof. Failures of
// the primary check are deliberately undifferentiated: an unknown email
// and a wrong password both return ErrAuthenticationFailed. Disabled and
// locked accounts are reported as such before the password is compared, so
// a locked account reveals nothing about the attempted password.
//
// BeginAuthentication may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) BeginAuthentication(ctx context.Context, email, plaintext string) (*BeginAuthenticationResult, error) {
	if e == nil || e.store == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.config.Metrics.EnableLatencyHistograms {
		start := time.Now()
		defer e.metrics.Observe(MetricPrimaryCheckLatency, time.Since(start))
	}

	tenantID := tenantIDFromContext(ctx)
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || plaintext == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", tenantID, ErrAuthenticationFailed, func() map[string]string {
			return map[string]string{"reason": "empty_input"}
		})
		return nil, ErrAuthenticationFailed
	}

	user, err := e.store.UserByEmail(ctx, tenantID, email)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", tenantID, ErrAuthenticationFailed, func() map[string]string {
			return map[string]string{"reason": "user_not_found"}
		})
		return nil, ErrAuthenticationFailed
	}

	if statusErr := accountStatusError(user); statusErr != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID.String(), user.TenantID, statusErr, func() map[string]string {
			return map[string]string{"reason": "account_status"}
		})
		return nil, statusErr
	}

	ok, err := e.hasher.Verify(plaintext, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.recordPrimaryFailure(ctx, user)
	}
	plaintext = ""

	challengeID, err := internal.NewChallengeID()
	if err != nil {
		return nil, err
	}

	now := e.now()
	expiresAt := now.Add(e.config.MFA.ChallengeTTL)
	methods := user.EnrolledMethods()

	record := &partialSession{
		UserID:    user.ID.String(),
		TenantID:  user.TenantID,
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}
	for _, m := range methods {
		record.Methods |= uint8(m)
	}

	result := &BeginAuthenticationResult{
		ChallengeID: challengeID.String(),
		Methods:     methods,
		ExpiresAt:   expiresAt,
	}

	// Devices get their assertion challenge up front so the browser can run
	// the ceremony without another round trip.
	if devices := user.ActiveDevices(); len(devices) > 0 {
		challenge, err := internal.NewWebAuthnChallenge(e.config.WebAuthn.ChallengeSize)
		if err != nil {
			return nil, err
		}
		record.WebAuthnChallenge = challenge

		allow := make([][]byte, 0, len(devices))
		for _, d := range devices {
			allow = append(allow, append([]byte(nil), d.CredentialID...))
		}
		result.DeviceOptions = &DeviceAssertionOptions{
			Challenge:          challenge,
			RelyingPartyID:     e.config.WebAuthn.RelyingPartyID,
			AllowCredentialIDs: allow,
		}
	}

	// Accounts with no explicit enrollment fall back to the email code,
	// issued immediately. Enrolled accounts get email codes on demand only.
	if len(methods) == 1 && methods[0] == MFAMethodEmail {
		effect, err := e.issueEmailCode(ctx, result.ChallengeID, user, expiresAt)
		if err != nil {
			return nil, err
		}
		result.Effects = append(result.Effects, effect)
	}

	if err := e.partialStore.Save(ctx, result.ChallengeID, record, e.config.MFA.ChallengeTTL); err != nil {
		return nil, translateChallengeErr(err)
	}

	if _, err := e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		e.lockout.recordPartial(u, now, OutcomeChallengeIssued)
		return nil
	}); err != nil {
		return nil, err
	}

	e.metricInc(MetricChallengeIssued)
	e.emitAudit(ctx, auditEventLoginBegin, true, user.ID.String(), user.TenantID, nil, func() map[string]string {
		return map[string]string{"challenge_id": result.ChallengeID}
	})

	return result, nil
}

// recordPrimaryFailure registers a failed primary check against the
// aggregate, applying the lock when this failure crosses the threshold.
func (e *Engine) recordPrimaryFailure(ctx context.Context, user *User) error {
	now := e.now()
	var locked bool

	_, mutErr := e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		applyLock := e.lockout.shouldLock(u)
		e.lockout.recordFailure(u, now, applyLock)
		locked = applyLock && u.IsLockable
		return nil
	})
	if mutErr != nil {
		return mutErr
	}

	e.metricInc(MetricLoginFailure)
	if locked {
		e.metricInc(MetricLockoutApplied)
		e.emitAudit(ctx, auditEventLoginLockout, false, user.ID.String(), user.TenantID, ErrAccountLocked, nil)
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, user.ID.String(), user.TenantID, ErrAuthenticationFailed, func() map[string]string {
		return map[string]string{"reason": "password_mismatch"}
	})
	return ErrAuthenticationFailed
}

// issueEmailCode generates a one-time code, stores only its digest under
// the challenge id, and returns the delivery effect for the caller.
func (e *Engine) issueEmailCode(ctx context.Context, challengeID string, user *User, expiresAt time.Time) (Effect, error) {
	code, err := internal.NewOTP(e.config.MFA.EmailCodeDigits)
	if err != nil {
		return Effect{}, err
	}

	record := &emailCodeRecord{
		CodeHash:  internal.HashCode(code),
		ExpiresAt: expiresAt.Unix(),
	}
	if err := e.emailCodes.Save(ctx, challengeID, record, time.Until(expiresAt)); err != nil {
		return Effect{}, translateEmailCodeErr(err)
	}

	e.metricInc(MetricEmailCodeIssued)

	return Effect{
		Kind:      EffectSendEmailCode,
		Recipient: user.Email,
		Code:      code,
		ExpiresAt: expiresAt,
	}, nil
}

// loadChallenge resolves a challenge id to its partial session and the
// owning aggregate.
func (e *Engine) loadChallenge(ctx context.Context, challengeID string) (*partialSession, *User, error) {
	if _, err := internal.ParseChallengeID(challengeID); err != nil {
		return nil, nil, ErrChallengeNotFound
	}

	record, err := e.partialStore.Get(ctx, challengeID)
	if err != nil {
		return nil, nil, translateChallengeErr(err)
	}

	userID, err := uuid.Parse(record.UserID)
	if err != nil {
		return nil, nil, ErrChallengeNotFound
	}

	user, err := e.store.UserByID(ctx, record.TenantID, userID)
	if err != nil {
		return nil, nil, ErrChallengeNotFound
	}

	return record, user, nil
}
