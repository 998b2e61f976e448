package credcore

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by credcore APIs.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Config struct {
	Lockout        LockoutConfig
	PasswordPolicy PasswordPolicyConfig
	Tokens         TokenConfig
	TOTP           TOTPConfig
	WebAuthn       WebAuthnConfig
	MFA            MFAConfig
	JWT            JWTConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls the consecutive-failure lock policy. The policy
// itself is a pure state transition; this config holds the threshold the
// orchestrator applies.
type LockoutConfig struct {
	// MaxFailedAttempts is the consecutive-failure count at which a
	// lockable account is locked. Zero disables automatic locking.
	MaxFailedAttempts int
}

/*
====================================
PASSWORD POLICY CONFIG
====================================
*/

// PasswordPolicyConfig holds externally configured strength rules. Nothing
// is hard-coded in the policy itself.
type PasswordPolicyConfig struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSpecial   bool
	MinDistinctChars int
	// HistoryDepth is the lookback N for reuse rejection. Zero disables
	// history checking.
	HistoryDepth int
}

/*
====================================
TOKEN LEDGER CONFIG
====================================
*/

// TokenConfig holds the validity windows for single-use security tokens.
type TokenConfig struct {
	PasswordResetTTL       time.Duration
	AccountConfirmationTTL time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig defines a public type used by credcore APIs.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"
	// EnforceReplayProtection rejects codes for a time-step at or below
	// the last accepted one.
	EnforceReplayProtection bool
}

/*
====================================
WEBAUTHN CONFIG
====================================
*/

// WebAuthnConfig defines a public type used by credcore APIs.
type WebAuthnConfig struct {
	RelyingPartyID   string
	RelyingPartyName string
	ChallengeSize    int
}

/*
====================================
MFA CHALLENGE CONFIG
====================================
*/

// MFAConfig controls the ephemeral partial authentication session and the
// email one-time-code challenge.
type MFAConfig struct {
	RedisPrefix string
	// ChallengeTTL bounds the partial session lifetime between primary
	// credential success and MFA completion.
	ChallengeTTL time.Duration
	// MaxAttempts is the per-challenge MFA proof budget. Exceeding it
	// fails the challenge and records a failure against the account.
	MaxAttempts     int
	EmailCodeDigits int
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the access token minted on session promotion.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig defines a public type used by credcore APIs.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events under backpressure instead of blocking the
	// command path. Dropped counts are observable via AuditDropped.
	DropIfFull bool
}

// MetricsConfig defines a public type used by credcore APIs.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration a Builder starts from. Callers
// adjust individual fields rather than constructing a Config from scratch.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Lockout: LockoutConfig{
			MaxFailedAttempts: 5,
		},
		PasswordPolicy: PasswordPolicyConfig{
			MinLength:        10,
			MaxLength:        256,
			RequireUppercase: false,
			RequireLowercase: true,
			RequireDigit:     true,
			RequireSpecial:   false,
			MinDistinctChars: 5,
			HistoryDepth:     5,
		},
		Tokens: TokenConfig{
			PasswordResetTTL:       2 * time.Hour,
			AccountConfirmationTTL: 24 * time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:                  "credcore",
			Digits:                  6,
			Period:                  30,
			Skew:                    1,
			Algorithm:               "SHA1",
			EnforceReplayProtection: true,
		},
		WebAuthn: WebAuthnConfig{
			RelyingPartyID:   "localhost",
			RelyingPartyName: "credcore",
			ChallengeSize:    32,
		},
		MFA: MFAConfig{
			RedisPrefix:     "cc",
			ChallengeTTL:    5 * time.Minute,
			MaxAttempts:     5,
			EmailCodeDigits: 6,
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "credcore",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks cross-field consistency. Build calls it once; callers
// constructing configs by hand may call it early for better errors.
func (c *Config) Validate() error {
	if c.Lockout.MaxFailedAttempts < 0 {
		return errors.New("lockout: MaxFailedAttempts must not be negative")
	}
	if c.PasswordPolicy.MinLength < 1 {
		return errors.New("password policy: MinLength must be at least 1")
	}
	if c.PasswordPolicy.MaxLength > 0 && c.PasswordPolicy.MaxLength < c.PasswordPolicy.MinLength {
		return errors.New("password policy: MaxLength below MinLength")
	}
	if c.PasswordPolicy.HistoryDepth < 0 {
		return errors.New("password policy: HistoryDepth must not be negative")
	}
	if c.Tokens.PasswordResetTTL <= 0 {
		return errors.New("tokens: PasswordResetTTL must be positive")
	}
	if c.Tokens.AccountConfirmationTTL <= 0 {
		return errors.New("tokens: AccountConfirmationTTL must be positive")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 10 {
		return errors.New("totp: Digits must be between 6 and 10")
	}
	if c.TOTP.Period < 15 || c.TOTP.Period > 120 {
		return errors.New("totp: Period must be between 15 and 120 seconds")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("totp: Skew must be between 0 and 2 steps")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("totp: unsupported Algorithm")
	}
	if c.WebAuthn.RelyingPartyID == "" {
		return errors.New("webauthn: RelyingPartyID required")
	}
	if c.WebAuthn.ChallengeSize < 16 || c.WebAuthn.ChallengeSize > 64 {
		return errors.New("webauthn: ChallengeSize must be between 16 and 64 bytes")
	}
	if c.MFA.ChallengeTTL < time.Minute || c.MFA.ChallengeTTL > time.Hour {
		return errors.New("mfa: ChallengeTTL must be between 1m and 1h")
	}
	if c.MFA.MaxAttempts < 1 {
		return errors.New("mfa: MaxAttempts must be at least 1")
	}
	if c.MFA.EmailCodeDigits < 6 || c.MFA.EmailCodeDigits > 10 {
		return errors.New("mfa: EmailCodeDigits must be between 6 and 10")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("jwt: AccessTTL must be positive")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "", "ed25519", "hs256":
	default:
		return errors.New("jwt: unsupported SigningMethod")
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 1 {
		return errors.New("audit: BufferSize must be at least 1 when enabled")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = append([]byte(nil), cfg.JWT.PrivateKey...)
	out.JWT.PublicKey = append([]byte(nil), cfg.JWT.PublicKey...)
	return out
}
