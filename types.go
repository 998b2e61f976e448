package credcore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MFAMethod identifies one of the supported second-factor methods. Methods
// are alternatives: satisfying any single one promotes a partial session.
type MFAMethod uint8

const (
	// MFAMethodEmail is the one-time email code method. It is the
	// universal fallback and is considered enrolled for every account.
	MFAMethodEmail MFAMethod = 1 << iota
	// MFAMethodApp is the authenticator-app TOTP method.
	MFAMethodApp
	// MFAMethodDevice is the WebAuthn/FIDO2 hardware device method.
	MFAMethodDevice
)

// String describes the string operation and its observable behavior.
func (m MFAMethod) String() string {
	switch m {
	case MFAMethodEmail:
		return "email"
	case MFAMethodApp:
		return "app"
	case MFAMethodDevice:
		return "device"
	default:
		return "unknown"
	}
}

// TokenPurpose tags a SecurityTokenMapping with the flow it gates.
type TokenPurpose uint8

const (
	// TokenPurposePasswordReset is an exported constant used by the security token ledger.
	TokenPurposePasswordReset TokenPurpose = iota
	// TokenPurposeAccountConfirmation is an exported constant used by the security token ledger.
	TokenPurposeAccountConfirmation
)

// String describes the string operation and its observable behavior.
func (p TokenPurpose) String() string {
	switch p {
	case TokenPurposePasswordReset:
		return "password_reset"
	case TokenPurposeAccountConfirmation:
		return "account_confirmation"
	default:
		return "unknown"
	}
}

// Authentication history outcome tags. History entries are append-only and
// never mutated after creation.
const (
	OutcomeSuccess               = "success"
	OutcomeFailure               = "failure"
	OutcomeChallengeIssued       = "mfa_challenge_issued"
	OutcomeEmailCodeRequested    = "email_mfa_requested"
	OutcomeEmailCodeFailed       = "email_mfa_failed"
	OutcomeAppCodeFailed         = "app_mfa_failed"
	OutcomeDeviceAssertFailed    = "device_mfa_failed"
	OutcomeReplayDetected        = "replay_detected"
	OutcomeLockedByPolicy        = "locked_by_policy"
	OutcomeLockedByAdministrator = "locked_by_administrator"
)

// AuthenticationEntry is a single record in the account's append-only
// authentication history.
type AuthenticationEntry struct {
	ID      uuid.UUID
	When    time.Time
	Outcome string
}

// SecurityTokenMapping is a single-use, time-expiring token record for
// password-reset or account-confirmation flows. The token string a caller
// sees is derived from ID by a reversible encoding and is never stored.
type SecurityTokenMapping struct {
	ID          uuid.UUID
	Purpose     TokenPurpose
	WhenCreated time.Time
	WhenExpires time.Time
	WhenUsed    *time.Time
}

// AuthenticatorApp is an enrolled TOTP authenticator. At most one
// non-revoked app exists per account at a time. LastUsedStep is the last
// accepted RFC 6238 time-step, kept for replay rejection.
type AuthenticatorApp struct {
	ID           uuid.UUID
	Secret       []byte
	WhenEnrolled time.Time
	WhenRevoked  *time.Time
	WhenLastUsed *time.Time
	LastUsedStep int64
}

// Active reports whether the app is enrolled and not revoked.
func (a *AuthenticatorApp) Active() bool {
	return a != nil && a.WhenRevoked == nil
}

// AuthenticatorDevice is an enrolled WebAuthn credential. Multiple devices
// may be simultaneously active. SignCount is monotonically non-decreasing
// across successful validations; a regression is treated as a cloned
// authenticator.
type AuthenticatorDevice struct {
	ID             uuid.UUID
	WhenEnrolled   time.Time
	PublicKey      []byte
	CredentialID   []byte
	ModelID        string
	SignCount      uint32
	DisplayName    string
	CredentialType string
	WhenLastUsed   *time.Time
	WhenRevoked    *time.Time
}

// Active reports whether the device is enrolled and not revoked.
func (d *AuthenticatorDevice) Active() bool {
	return d != nil && d.WhenRevoked == nil
}

// PasswordRecord is an append-only password history entry, consulted for
// reuse rejection and never edited.
type PasswordRecord struct {
	ID       uuid.UUID
	Hash     string
	WhenUsed time.Time
}

// User is the aggregate root owned by the credential store. All owned
// collections share the aggregate's lifetime and locking discipline.
//
// User instances obtained from [CredentialStore] lookups are snapshots;
// mutations must go through [CredentialStore.MutateUser].
type User struct {
	ID                    uuid.UUID
	TenantID              string
	Email                 string
	PasswordHash          string
	SecurityStamp         string
	WhenCreated           time.Time
	IsLockable            bool
	IsAdministrator       bool
	WhenLocked            *time.Time
	WhenDisabled          *time.Time
	WhenVerified          *time.Time
	WhenLastAuthenticated *time.Time
	FailedAttempts        int
	RoleIDs               []uuid.UUID

	History         []AuthenticationEntry
	Tokens          []SecurityTokenMapping
	Apps            []AuthenticatorApp
	Devices         []AuthenticatorDevice
	PasswordHistory []PasswordRecord
}

// CredentialHasher is the trusted external primitive for password hashing.
// Verify must be constant-time with respect to the plaintext.
// [password.Argon2] is the default implementation.
type CredentialHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) (bool, error)
}

// Clock supplies the current time. Injected for testability; the default
// is the system clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// DeviceEnrollmentOptions is the challenge material for a WebAuthn
// attestation ceremony. ExcludeCredentialIDs prevents double-enrollment of
// a device already registered on the account.
type DeviceEnrollmentOptions struct {
	Challenge            []byte
	RelyingPartyID       string
	RelyingPartyName     string
	UserID               uuid.UUID
	UserName             string
	AttachmentPreference string
	ExcludeCredentialIDs [][]byte
}

// DeviceAttestation is the authenticator's enrollment proof, opaque to this
// core and interpreted by the [WebAuthnVerifier].
type DeviceAttestation struct {
	ClientDataJSON    []byte
	AttestationObject []byte
}

// DeviceCredential is the verifier's distilled result of a successful
// attestation ceremony.
type DeviceCredential struct {
	CredentialID   []byte
	PublicKey      []byte
	ModelID        string
	CredentialType string
	SignCount      uint32
}

// DeviceAssertionOptions is the challenge material for a WebAuthn login
// ceremony. The orchestrator holds it server-side inside the partial
// session between BeginAuthentication and SubmitDeviceAssertion.
type DeviceAssertionOptions struct {
	Challenge          []byte
	RelyingPartyID     string
	AllowCredentialIDs [][]byte
}

// DeviceAssertion is the authenticator's login proof.
type DeviceAssertion struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
}

// AssertionResult carries the verifier-reported signature counter of a
// cryptographically valid assertion. Counter monotonicity is enforced by
// this core, not the verifier.
type AssertionResult struct {
	SignCount uint32
}

// WebAuthnVerifier is the trusted external primitive for WebAuthn ceremony
// cryptography. This core consumes its results and owns the anti-replay
// counter bookkeeping.
type WebAuthnVerifier interface {
	VerifyAttestation(options DeviceEnrollmentOptions, response DeviceAttestation) (*DeviceCredential, error)
	VerifyAssertion(options DeviceAssertionOptions, response DeviceAssertion, device *AuthenticatorDevice) (*AssertionResult, error)
}

// CredentialStore is the persistence port. All lookups are tenant-scoped;
// a miss and a tenant-filtered record are the same not-found outcome.
//
// MutateUser must load the aggregate, run fn, and commit the mutation
// atomically, serialized per aggregate (row lock or optimistic retry).
// When fn returns an error the mutation is discarded and the error is
// passed through unchanged.
type CredentialStore interface {
	UserByID(ctx context.Context, tenantID string, id uuid.UUID) (*User, error)
	UserByEmail(ctx context.Context, tenantID, email string) (*User, error)
	UserByTokenID(ctx context.Context, tenantID string, tokenID uuid.UUID) (*User, error)
	AddUser(ctx context.Context, user *User) error
	MutateUser(ctx context.Context, tenantID string, id uuid.UUID, fn func(*User) error) (*User, error)
}

// EffectKind discriminates the side effects a caller must perform after a
// command returns. The core never dispatches notifications itself.
type EffectKind uint8

const (
	// EffectSendEmailCode instructs the caller to deliver a one-time MFA
	// code to the account's email address.
	EffectSendEmailCode EffectKind = iota
	// EffectSendPasswordResetToken instructs the caller to deliver a
	// password-reset token.
	EffectSendPasswordResetToken
	// EffectSendConfirmationToken instructs the caller to deliver an
	// account-confirmation token.
	EffectSendConfirmationToken
)

// Effect is an explicit effect-to-perform returned by a command.
type Effect struct {
	Kind      EffectKind
	Recipient string
	Code      string
	Token     string
	ExpiresAt time.Time
}

// BeginAuthenticationResult is returned by [Engine.BeginAuthentication]
// when the primary credential check succeeds. The login is now in the
// partial (password-checked, MFA-pending) state.
type BeginAuthenticationResult struct {
	ChallengeID   string
	Methods       []MFAMethod
	DeviceOptions *DeviceAssertionOptions
	ExpiresAt     time.Time
	Effects       []Effect
}

// SessionResult is returned when a challenge validator promotes the
// partial session to fully authenticated.
type SessionResult struct {
	UserID      uuid.UUID
	TenantID    string
	Method      MFAMethod
	AccessToken string
	ExpiresAt   time.Time
}

// EmailCodeResult is returned by [Engine.RequestEmailCode].
type EmailCodeResult struct {
	ExpiresAt time.Time
	Effects   []Effect
}

// TokenRequestResult is returned by the password-reset and
// account-confirmation request commands. Effects is empty when the account
// is unknown or ineligible; callers observe no difference in shape.
type TokenRequestResult struct {
	Effects []Effect
}

// AppProvision holds a freshly generated, not yet persisted TOTP secret
// and its otpauth:// provisioning URI.
type AppProvision struct {
	SecretBase32 string
	URI          string
}
