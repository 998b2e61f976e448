package credcore

import (
	"context"

	"github.com/google/uuid"
)

// InitiateAppEnrollment generates a fresh TOTP secret and provisioning URI
// for an account. Nothing is persisted until the account proves possession
// through ConfirmAppEnrollment; an abandoned initiation leaves no trace.
//
// InitiateAppEnrollment may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) InitiateAppEnrollment(ctx context.Context, userID uuid.UUID) (*AppProvision, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.store.UserByID(ctx, tenantIDFromContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	if statusErr := accountStatusError(user); statusErr != nil {
		return nil, statusErr
	}
	if user.ActiveApp() != nil {
		return nil, ErrAppAlreadyEnrolled
	}

	_, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	return &AppProvision{
		SecretBase32: secretBase32,
		URI:          e.totp.ProvisionURI(secretBase32, user.Email),
	}, nil
}

// ConfirmAppEnrollment verifies a first code against the provisioned
// secret and persists the enrollment. At most one active app may exist per
// account; confirming while one is active fails without side effects. The
// matched time-step is recorded so the confirmation code itself cannot be
// replayed at the next login.
//
// ConfirmAppEnrollment may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) ConfirmAppEnrollment(ctx context.Context, userID uuid.UUID, secretBase32, code string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	secret, err := e.totp.DecodeSecret(secretBase32)
	if err != nil {
		return ErrValidation
	}

	now := e.now()
	ok, step, err := e.totp.VerifyCode(secret, code, now)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditEventAppEnrollment, false, userID.String(), "", ErrAuthenticationFailed, nil)
		return ErrAuthenticationFailed
	}

	tenantID := tenantIDFromContext(ctx)
	user, err := e.store.MutateUser(ctx, tenantID, userID, func(u *User) error {
		if statusErr := accountStatusError(u); statusErr != nil {
			return statusErr
		}
		if u.ActiveApp() != nil {
			return ErrAppAlreadyEnrolled
		}

		u.Apps = append(u.Apps, AuthenticatorApp{
			ID:           uuid.New(),
			Secret:       append([]byte(nil), secret...),
			WhenEnrolled: now,
			LastUsedStep: step,
		})
		u.SecurityStamp = uuid.NewString()
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventAppEnrollment, false, userID.String(), tenantID, err, nil)
		return err
	}

	e.metricInc(MetricAppEnrolled)
	e.emitAudit(ctx, auditEventAppEnrollment, true, user.ID.String(), user.TenantID, nil, nil)
	return nil
}

// RevokeApp revokes the active authenticator app. The record stays in the
// aggregate for audit; only its revocation timestamp is set. The security
// stamp rotates so sessions established before the revocation can be
// invalidated by stamp-checking callers.
//
// RevokeApp may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) RevokeApp(ctx context.Context, userID uuid.UUID) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	now := e.now()
	tenantID := tenantIDFromContext(ctx)
	user, err := e.store.MutateUser(ctx, tenantID, userID, func(u *User) error {
		app := u.ActiveApp()
		if app == nil {
			return ErrAppNotEnrolled
		}

		revokedAt := now
		app.WhenRevoked = &revokedAt
		u.SecurityStamp = uuid.NewString()
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventAppRevocation, false, userID.String(), tenantID, err, nil)
		return err
	}

	e.metricInc(MetricAppRevoked)
	e.emitAudit(ctx, auditEventAppRevocation, true, user.ID.String(), user.TenantID, nil, nil)
	return nil
}
