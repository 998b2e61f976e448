package internaldefs

import (
	credcore "github.com/cadencesec/credcore"
)

// CounterDef maps an engine counter to its stable exported name.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   credcore.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its stable exported name.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   credcore.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the credential engine.
var CounterDefs = []CounterDef{
	{ID: credcore.MetricLoginSuccess, Name: "credcore_login_success_total", Help: "Fully authenticated logins."},
	{ID: credcore.MetricLoginFailure, Name: "credcore_login_failure_total", Help: "Failed primary credential checks."},
	{ID: credcore.MetricLockoutApplied, Name: "credcore_lockout_applied_total", Help: "Accounts locked by the failure threshold."},
	{ID: credcore.MetricChallengeIssued, Name: "credcore_challenge_issued_total", Help: "Partial authentication challenges opened."},
	{ID: credcore.MetricMFASuccess, Name: "credcore_mfa_success_total", Help: "Successful MFA validations."},
	{ID: credcore.MetricMFAFailure, Name: "credcore_mfa_failure_total", Help: "Failed MFA validations."},
	{ID: credcore.MetricMFAAttemptsExceeded, Name: "credcore_mfa_attempts_exceeded_total", Help: "Challenges destroyed by the attempt cap."},
	{ID: credcore.MetricReplayDetected, Name: "credcore_replay_detected_total", Help: "Detected replay attempts."},
	{ID: credcore.MetricEmailCodeIssued, Name: "credcore_email_code_issued_total", Help: "One-time email codes issued."},
	{ID: credcore.MetricTokenIssued, Name: "credcore_token_issued_total", Help: "Security tokens issued."},
	{ID: credcore.MetricTokenReused, Name: "credcore_token_reused_total", Help: "Idempotent security token re-issuances."},
	{ID: credcore.MetricTokenConsumed, Name: "credcore_token_consumed_total", Help: "Security tokens consumed."},
	{ID: credcore.MetricTokenRejected, Name: "credcore_token_rejected_total", Help: "Security token consumptions rejected."},
	{ID: credcore.MetricPasswordChangeSuccess, Name: "credcore_password_change_success_total", Help: "Successful password changes and resets."},
	{ID: credcore.MetricPasswordPolicyRejected, Name: "credcore_password_policy_rejected_total", Help: "Candidate passwords rejected by policy."},
	{ID: credcore.MetricPasswordReuseRejected, Name: "credcore_password_reuse_rejected_total", Help: "Candidate passwords rejected for reuse."},
	{ID: credcore.MetricAppEnrolled, Name: "credcore_app_enrolled_total", Help: "Authenticator app enrollments."},
	{ID: credcore.MetricAppRevoked, Name: "credcore_app_revoked_total", Help: "Authenticator app revocations."},
	{ID: credcore.MetricDeviceEnrolled, Name: "credcore_device_enrolled_total", Help: "Authenticator device enrollments."},
	{ID: credcore.MetricDeviceRevoked, Name: "credcore_device_revoked_total", Help: "Authenticator device revocations."},
	{ID: credcore.MetricAccountLocked, Name: "credcore_account_locked_total", Help: "Administrative account locks."},
	{ID: credcore.MetricAccountUnlocked, Name: "credcore_account_unlocked_total", Help: "Administrative account unlocks."},
	{ID: credcore.MetricAccountDisabled, Name: "credcore_account_disabled_total", Help: "Account disable operations."},
	{ID: credcore.MetricAccountEnabled, Name: "credcore_account_enabled_total", Help: "Account enable operations."},
}

// HistogramDefs is an exported constant or variable used by the credential engine.
var HistogramDefs = []HistogramDef{
	{ID: credcore.MetricPrimaryCheckLatency, Name: "credcore_primary_check_latency_seconds", Help: "Primary credential check latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the credential engine.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the credential engine.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed
// eight-bucket layout.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
