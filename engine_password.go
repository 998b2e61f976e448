package credcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/cadencesec/credcore/internal"
	"github.com/google/uuid"
)

// ChangePassword rotates an account's password after verifying the
// current one. The new password must satisfy the configured policy and
// must not match the current hash or the recent history. Success rotates
// the security stamp.
//
// ChangePassword may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	if e == nil || e.store == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	if oldPassword == "" || newPassword == "" {
		return ErrValidation
	}

	tenantID := tenantIDFromContext(ctx)
	user, err := e.store.UserByID(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if statusErr := accountStatusError(user); statusErr != nil {
		return statusErr
	}

	ok, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPasswordChange, false, user.ID.String(), user.TenantID, ErrAuthenticationFailed, func() map[string]string {
			return map[string]string{"reason": "old_password_mismatch"}
		})
		return ErrAuthenticationFailed
	}

	if err := e.acceptNewPassword(ctx, user, newPassword, false); err != nil {
		return err
	}

	oldPassword = ""
	newPassword = ""
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, user.ID.String(), user.TenantID, nil, nil)
	return nil
}

// RequestPasswordReset issues a single-use reset token for the account
// behind an email address. Unknown and disabled accounts produce the same
// empty result as known ones produce a populated one, so the command's
// shape reveals nothing; locked accounts do receive a token, because the
// reset path is how a lock is ultimately cleared.
//
// Issuance is idempotent: while an unexpired, unused token exists, the
// same token is returned instead of minting another.
//
// RequestPasswordReset may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (*TokenRequestResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return &TokenRequestResult{}, nil
	}

	user, err := e.store.UserByEmail(ctx, tenantID, email)
	if err != nil {
		return &TokenRequestResult{}, nil
	}
	if user.Disabled() {
		return &TokenRequestResult{}, nil
	}

	return e.issueSecurityToken(ctx, user, TokenPurposePasswordReset, EffectSendPasswordResetToken, e.config.Tokens.PasswordResetTTL)
}

// ConsumePasswordReset validates a reset token, marks it used, and sets
// the new password in the same aggregate mutation. Two requests racing on
// one token see exactly one success; the loser gets ErrTokenAlreadyUsed.
// A successful reset clears any lock, since rotating the hash is the
// designated way out of a locked state.
//
// ConsumePasswordReset may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) ConsumePasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil || e.store == nil || e.hasher == nil {
		return ErrEngineNotReady
	}

	tokenID, err := internal.DecodeSecurityToken(token)
	if err != nil {
		return ErrTokenNotFound
	}

	tenantID := tenantIDFromContext(ctx)
	user, err := e.store.UserByTokenID(ctx, tenantID, tokenID)
	if err != nil {
		return ErrTokenNotFound
	}
	if user.Disabled() {
		return ErrAccountDisabled
	}

	if violations := e.policy.validate(newPassword); len(violations) > 0 {
		e.metricInc(MetricPasswordPolicyRejected)
		return ErrPasswordPolicy
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	now := e.now()
	_, err = e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		if _, cerr := e.ledger.consume(u, tokenID, TokenPurposePasswordReset, now); cerr != nil {
			return cerr
		}

		reused, herr := e.policy.checkHistory(u, newPassword, e.hasher)
		if herr != nil {
			return herr
		}
		if reused {
			return ErrPasswordReuse
		}

		e.policy.apply(u, newHash, now)
		u.WhenLocked = nil
		return nil
	})
	if err != nil {
		e.metricInc(MetricTokenRejected)
		if errors.Is(err, ErrPasswordReuse) {
			e.metricInc(MetricPasswordReuseRejected)
		}
		e.emitAudit(ctx, auditEventTokenRejected, false, user.ID.String(), user.TenantID, err, func() map[string]string {
			return map[string]string{"purpose": TokenPurposePasswordReset.String()}
		})
		return err
	}

	newPassword = ""
	e.metricInc(MetricTokenConsumed)
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventTokenConsumed, true, user.ID.String(), user.TenantID, nil, func() map[string]string {
		return map[string]string{"purpose": TokenPurposePasswordReset.String()}
	})
	return nil
}

// RequestAccountConfirmation issues a single-use confirmation token for an
// unverified account. Already verified, unknown, and disabled accounts all
// yield the same empty result.
//
// RequestAccountConfirmation may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) RequestAccountConfirmation(ctx context.Context, email string) (*TokenRequestResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return &TokenRequestResult{}, nil
	}

	user, err := e.store.UserByEmail(ctx, tenantID, email)
	if err != nil {
		return &TokenRequestResult{}, nil
	}
	if user.Disabled() || user.Verified() {
		return &TokenRequestResult{}, nil
	}

	return e.issueSecurityToken(ctx, user, TokenPurposeAccountConfirmation, EffectSendConfirmationToken, e.config.Tokens.AccountConfirmationTTL)
}

// ConsumeAccountConfirmation validates a confirmation token, marks it
// used, stamps the account verified, and sets the account's initial
// password, all in the same aggregate mutation. Admin-provisioned accounts
// start with no usable credential; confirmation is where the first one is
// established.
//
// ConsumeAccountConfirmation may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) ConsumeAccountConfirmation(ctx context.Context, token, newPassword string) error {
	if e == nil || e.store == nil || e.hasher == nil {
		return ErrEngineNotReady
	}

	tokenID, err := internal.DecodeSecurityToken(token)
	if err != nil {
		return ErrTokenNotFound
	}

	tenantID := tenantIDFromContext(ctx)
	user, err := e.store.UserByTokenID(ctx, tenantID, tokenID)
	if err != nil {
		return ErrTokenNotFound
	}
	if user.Disabled() {
		return ErrAccountDisabled
	}

	if violations := e.policy.validate(newPassword); len(violations) > 0 {
		e.metricInc(MetricPasswordPolicyRejected)
		return ErrPasswordPolicy
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	now := e.now()
	_, err = e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		if _, cerr := e.ledger.consume(u, tokenID, TokenPurposeAccountConfirmation, now); cerr != nil {
			return cerr
		}

		reused, herr := e.policy.checkHistory(u, newPassword, e.hasher)
		if herr != nil {
			return herr
		}
		if reused {
			return ErrPasswordReuse
		}

		e.policy.apply(u, newHash, now)
		if u.WhenVerified == nil {
			verifiedAt := now
			u.WhenVerified = &verifiedAt
		}
		return nil
	})
	if err != nil {
		e.metricInc(MetricTokenRejected)
		if errors.Is(err, ErrPasswordReuse) {
			e.metricInc(MetricPasswordReuseRejected)
		}
		e.emitAudit(ctx, auditEventTokenRejected, false, user.ID.String(), user.TenantID, err, func() map[string]string {
			return map[string]string{"purpose": TokenPurposeAccountConfirmation.String()}
		})
		return err
	}

	newPassword = ""
	e.metricInc(MetricTokenConsumed)
	e.emitAudit(ctx, auditEventTokenConsumed, true, user.ID.String(), user.TenantID, nil, func() map[string]string {
		return map[string]string{"purpose": TokenPurposeAccountConfirmation.String()}
	})
	return nil
}

// acceptNewPassword runs policy validation, history checking, hashing, and
// the aggregate mutation for a directly changed password.
func (e *Engine) acceptNewPassword(ctx context.Context, user *User, newPassword string, clearLock bool) error {
	if violations := e.policy.validate(newPassword); len(violations) > 0 {
		e.metricInc(MetricPasswordPolicyRejected)
		e.emitAudit(ctx, auditEventPasswordChange, false, user.ID.String(), user.TenantID, ErrPasswordPolicy, nil)
		return ErrPasswordPolicy
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	now := e.now()
	_, err = e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		reused, herr := e.policy.checkHistory(u, newPassword, e.hasher)
		if herr != nil {
			return herr
		}
		if reused {
			return ErrPasswordReuse
		}

		e.policy.apply(u, newHash, now)
		if clearLock {
			u.WhenLocked = nil
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPasswordReuse) {
			e.metricInc(MetricPasswordReuseRejected)
		}
		e.emitAudit(ctx, auditEventPasswordChange, false, user.ID.String(), user.TenantID, err, nil)
		return err
	}
	return nil
}

// issueSecurityToken runs the ledger's idempotent issuance inside the
// aggregate mutation and builds the delivery effect.
func (e *Engine) issueSecurityToken(
	ctx context.Context,
	user *User,
	purpose TokenPurpose,
	effectKind EffectKind,
	ttl time.Duration,
) (*TokenRequestResult, error) {
	now := e.now()

	var (
		token   string
		mapping SecurityTokenMapping
		reused  bool
	)
	_, err := e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		reused = u.ActiveTokenForPurpose(purpose, now) != nil
		t, m := e.ledger.issueOrReuse(u, purpose, now, ttl)
		token = t
		mapping = *m
		return nil
	})
	if err != nil {
		return nil, err
	}

	if reused {
		e.metricInc(MetricTokenReused)
	} else {
		e.metricInc(MetricTokenIssued)
	}
	e.emitAudit(ctx, auditEventTokenIssued, true, user.ID.String(), user.TenantID, nil, func() map[string]string {
		return map[string]string{"purpose": purpose.String(), "reused": strconv.FormatBool(reused)}
	})

	return &TokenRequestResult{
		Effects: []Effect{{
			Kind:      effectKind,
			Recipient: user.Email,
			Token:     token,
			ExpiresAt: mapping.WhenExpires,
		}},
	}, nil
}
