package credcore

import (
	"time"
	"unicode"

	"github.com/google/uuid"
)

// PasswordViolation identifies one strength rule a candidate password
// failed. Validate returns every violation, not just the first.
type PasswordViolation string

const (
	// ViolationTooShort is an exported constant used by the password policy.
	ViolationTooShort PasswordViolation = "too_short"
	// ViolationTooLong is an exported constant used by the password policy.
	ViolationTooLong PasswordViolation = "too_long"
	// ViolationMissingUppercase is an exported constant used by the password policy.
	ViolationMissingUppercase PasswordViolation = "missing_uppercase"
	// ViolationMissingLowercase is an exported constant used by the password policy.
	ViolationMissingLowercase PasswordViolation = "missing_lowercase"
	// ViolationMissingDigit is an exported constant used by the password policy.
	ViolationMissingDigit PasswordViolation = "missing_digit"
	// ViolationMissingSpecial is an exported constant used by the password policy.
	ViolationMissingSpecial PasswordViolation = "missing_special"
	// ViolationTooFewDistinct is an exported constant used by the password policy.
	ViolationTooFewDistinct PasswordViolation = "too_few_distinct_chars"
)

// passwordPolicy validates candidate passwords against the configured
// strength rules and enforces history reuse rejection. Comparison is
// always hash-against-hash through the CredentialHasher; plaintext history
// is never kept.
type passwordPolicy struct {
	config PasswordPolicyConfig
}

func (p passwordPolicy) validate(candidate string) []PasswordViolation {
	var violations []PasswordViolation

	runes := []rune(candidate)
	if len(runes) < p.config.MinLength {
		violations = append(violations, ViolationTooShort)
	}
	if p.config.MaxLength > 0 && len(runes) > p.config.MaxLength {
		violations = append(violations, ViolationTooLong)
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	distinct := make(map[rune]struct{}, len(runes))
	for _, r := range runes {
		distinct[r] = struct{}{}
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	if p.config.RequireUppercase && !hasUpper {
		violations = append(violations, ViolationMissingUppercase)
	}
	if p.config.RequireLowercase && !hasLower {
		violations = append(violations, ViolationMissingLowercase)
	}
	if p.config.RequireDigit && !hasDigit {
		violations = append(violations, ViolationMissingDigit)
	}
	if p.config.RequireSpecial && !hasSpecial {
		violations = append(violations, ViolationMissingSpecial)
	}
	if p.config.MinDistinctChars > 0 && len(distinct) < p.config.MinDistinctChars {
		violations = append(violations, ViolationTooFewDistinct)
	}

	return violations
}

// checkHistory reports whether the candidate matches the current hash or
// any of the last N password history hashes. Hash parse failures on
// historical entries (for example the lock sentinel) count as no match.
func (p passwordPolicy) checkHistory(u *User, candidate string, hasher CredentialHasher) (bool, error) {
	depth := p.config.HistoryDepth
	if depth <= 0 {
		return false, nil
	}

	if ok, err := hasher.Verify(candidate, u.PasswordHash); err == nil && ok {
		return true, nil
	}

	start := len(u.PasswordHistory) - depth
	if start < 0 {
		start = 0
	}
	for i := len(u.PasswordHistory) - 1; i >= start; i-- {
		ok, err := hasher.Verify(candidate, u.PasswordHistory[i].Hash)
		if err != nil {
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// apply sets the new password hash, rotates the security stamp so any
// live session checking the stamp is invalidated, and appends a password
// history record.
func (p passwordPolicy) apply(u *User, newHash string, now time.Time) {
	u.PasswordHash = newHash
	u.SecurityStamp = uuid.NewString()
	u.PasswordHistory = append(u.PasswordHistory, PasswordRecord{
		ID:       uuid.New(),
		Hash:     newHash,
		WhenUsed: now,
	})
}
