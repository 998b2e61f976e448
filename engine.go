package credcore

import (
	"context"
	"errors"
	"time"

	"github.com/cadencesec/credcore/jwt"
	"github.com/cadencesec/credcore/password"
)

// Engine defines a public type used by credcore APIs.
//
// Engine instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Engine struct {
	config Config

	store    CredentialStore
	hasher   CredentialHasher
	verifier WebAuthnVerifier
	clock    Clock

	partialStore *partialSessionStore
	emailCodes   *emailCodeStore

	ledger  tokenLedger
	lockout lockoutPolicy
	policy  passwordPolicy
	totp    *totpManager

	jwtManager *jwt.Manager
	audit      *auditDispatcher
	metrics    *Metrics
}

// Close shuts down the audit dispatcher, draining buffered events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all engine metrics.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now()
}

// accountStatusError maps the account state to the error a command must
// surface before touching credentials. Disabled wins over locked.
func accountStatusError(u *User) error {
	if u.Disabled() {
		return ErrAccountDisabled
	}
	if u.Locked() {
		return ErrAccountLocked
	}
	return nil
}

// NeedsRehash reports whether an account's stored hash predates the
// current hashing parameters. Only meaningful for the default Argon2
// hasher; custom hashers report false.
func (e *Engine) NeedsRehash(u *User) bool {
	if e == nil || u == nil {
		return false
	}
	argon, ok := e.hasher.(*password.Argon2)
	if !ok {
		return false
	}
	upgrade, err := argon.NeedsUpgrade(u.PasswordHash)
	return err == nil && upgrade
}

// mintSession signs a session access token for a promoted login.
func (e *Engine) mintSession(u *User, method MFAMethod) (*SessionResult, error) {
	token, expiresAt, err := e.jwtManager.CreateSession(
		u.ID.String(),
		u.TenantID,
		method.String(),
		u.SecurityStamp,
		e.now(),
	)
	if err != nil {
		return nil, err
	}

	return &SessionResult{
		UserID:      u.ID,
		TenantID:    u.TenantID,
		Method:      method,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}, nil
}

func translateChallengeErr(err error) error {
	switch {
	case errors.Is(err, errPartialNotFound), errors.Is(err, errPartialExpired):
		return ErrChallengeNotFound
	case errors.Is(err, errPartialExceeded):
		return ErrChallengeAttemptsExceeded
	case errors.Is(err, errPartialBackend):
		return errors.Join(ErrChallengeBackend, err)
	default:
		return err
	}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	tenantID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	if tenantID == "" {
		tenantID = tenantIDFromContext(ctx)
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		TenantID:  tenantID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// AuditErrorCode is the stable error tag recorded on audit events.
//
// AuditErrorCode instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrAuthenticationFailed AuditErrorCode = "authentication_failed"
	auditErrUserNotFound         AuditErrorCode = "user_not_found"
	auditErrAccountLocked        AuditErrorCode = "account_locked"
	auditErrAccountDisabled      AuditErrorCode = "account_disabled"
	auditErrAccountNotLockable   AuditErrorCode = "account_not_lockable"
	auditErrChallengeNotFound    AuditErrorCode = "challenge_not_found"
	auditErrAttemptsExceeded     AuditErrorCode = "attempts_exceeded"
	auditErrTokenNotFound        AuditErrorCode = "token_not_found"
	auditErrTokenExpired         AuditErrorCode = "token_expired"
	auditErrTokenAlreadyUsed     AuditErrorCode = "token_already_used"
	auditErrAttestationInvalid   AuditErrorCode = "attestation_invalid"
	auditErrReplayDetected       AuditErrorCode = "replay_detected"
	auditErrPasswordPolicy       AuditErrorCode = "password_policy"
	auditErrPasswordReuse        AuditErrorCode = "password_reuse"
	auditErrAppAlreadyEnrolled   AuditErrorCode = "app_already_enrolled"
	auditErrAppNotEnrolled       AuditErrorCode = "app_not_enrolled"
	auditErrDeviceNotFound       AuditErrorCode = "device_not_found"
	auditErrValidation           AuditErrorCode = "invalid_input"
	auditErrUnavailable          AuditErrorCode = "backend_unavailable"
	auditErrInternal             AuditErrorCode = "internal_error"
)

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return auditErrAuthenticationFailed
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountNotLockable):
		return auditErrAccountNotLockable
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrChallengeNotFound
	case errors.Is(err, ErrChallengeAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrTokenNotFound):
		return auditErrTokenNotFound
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenAlreadyUsed):
		return auditErrTokenAlreadyUsed
	case errors.Is(err, ErrAttestationInvalid):
		return auditErrAttestationInvalid
	case errors.Is(err, ErrReplayDetected):
		return auditErrReplayDetected
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrAppAlreadyEnrolled):
		return auditErrAppAlreadyEnrolled
	case errors.Is(err, ErrAppNotEnrolled):
		return auditErrAppNotEnrolled
	case errors.Is(err, ErrDeviceNotFound):
		return auditErrDeviceNotFound
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrChallengeBackend), errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
