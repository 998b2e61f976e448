package credcore

import (
	"context"

	"github.com/google/uuid"
)

// LockAccount applies an administrative lock. The password hash is
// replaced with a non-verifiable sentinel, so no credential can validate
// until the hash is rotated through a reset. Accounts whose lockable flag
// is unset cannot be locked by anyone.
//
// LockAccount may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) LockAccount(ctx context.Context, userID uuid.UUID) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	now := e.now()
	tenantID := tenantIDFromContext(ctx)
	user, err := e.store.MutateUser(ctx, tenantID, userID, func(u *User) error {
		if !u.IsLockable {
			return ErrAccountNotLockable
		}
		if u.Locked() {
			return nil
		}

		lockedAt := now
		u.WhenLocked = &lockedAt
		u.PasswordHash = sentinelPasswordHash
		u.appendHistory(now, OutcomeLockedByAdministrator)
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventAccountStatusChange, false, userID.String(), tenantID, err, func() map[string]string {
			return map[string]string{"transition": "lock"}
		})
		return err
	}

	e.metricInc(MetricAccountLocked)
	e.emitAudit(ctx, auditEventAccountStatusChange, true, user.ID.String(), user.TenantID, nil, func() map[string]string {
		return map[string]string{"transition": "lock"}
	})
	return nil
}

// UnlockAccount clears the lock timestamp and nothing else. The failure
// counter keeps its value, and the sentinel hash stays in place until a
// password reset rotates it, so unlocking alone does not reopen the
// password path.
//
// UnlockAccount may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) UnlockAccount(ctx context.Context, userID uuid.UUID) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)
	user, err := e.store.MutateUser(ctx, tenantID, userID, func(u *User) error {
		e.lockout.unlock(u)
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventAccountStatusChange, false, userID.String(), tenantID, err, func() map[string]string {
			return map[string]string{"transition": "unlock"}
		})
		return err
	}

	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, auditEventAccountStatusChange, true, user.ID.String(), user.TenantID, nil, func() map[string]string {
		return map[string]string{"transition": "unlock"}
	})
	return nil
}

// DisableAccount sets the disabled timestamp. Disabled accounts fail all
// authentication commands and receive no tokens or codes.
//
// DisableAccount may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) DisableAccount(ctx context.Context, userID uuid.UUID) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	now := e.now()
	tenantID := tenantIDFromContext(ctx)
	user, err := e.store.MutateUser(ctx, tenantID, userID, func(u *User) error {
		if u.Disabled() {
			return nil
		}
		disabledAt := now
		u.WhenDisabled = &disabledAt
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventAccountStatusChange, false, userID.String(), tenantID, err, func() map[string]string {
			return map[string]string{"transition": "disable"}
		})
		return err
	}

	e.metricInc(MetricAccountDisabled)
	e.emitAudit(ctx, auditEventAccountStatusChange, true, user.ID.String(), user.TenantID, nil, func() map[string]string {
		return map[string]string{"transition": "disable"}
	})
	return nil
}

// EnableAccount clears the disabled timestamp. A lock that was in effect
// before the disable remains in effect after.
//
// EnableAccount may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) EnableAccount(ctx context.Context, userID uuid.UUID) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)
	user, err := e.store.MutateUser(ctx, tenantID, userID, func(u *User) error {
		u.WhenDisabled = nil
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventAccountStatusChange, false, userID.String(), tenantID, err, func() map[string]string {
			return map[string]string{"transition": "enable"}
		})
		return err
	}

	e.metricInc(MetricAccountEnabled)
	e.emitAudit(ctx, auditEventAccountStatusChange, true, user.ID.String(), user.TenantID, nil, func() map[string]string {
		return map[string]string{"transition": "enable"}
	})
	return nil
}
