package credcore

import (
	"time"

	"github.com/google/uuid"

	"github.com/cadencesec/credcore/internal"
)

// tokenLedger issues and consumes single-use, time-expiring security
// tokens bound to a User aggregate. The token string is derived from the
// mapping id by a reversible encoding; nothing secret is stored.
//
// Both operations run inside CredentialStore.MutateUser so consumption is
// atomic with whatever side effect it gates.
type tokenLedger struct{}

// issueOrReuse returns the token for the existing unused, unexpired
// mapping of the given purpose when one exists (idempotent issuance, so
// repeated requests cannot flood distinct tokens), otherwise appends a
// fresh mapping and returns its derived token.
func (tokenLedger) issueOrReuse(u *User, purpose TokenPurpose, now time.Time, ttl time.Duration) (string, *SecurityTokenMapping) {
	if existing := u.ActiveTokenForPurpose(purpose, now); existing != nil {
		return internal.EncodeSecurityToken(existing.ID), existing
	}

	mapping := SecurityTokenMapping{
		ID:          uuid.New(),
		Purpose:     purpose,
		WhenCreated: now,
		WhenExpires: now.Add(ttl),
	}
	u.Tokens = append(u.Tokens, mapping)
	return internal.EncodeSecurityToken(mapping.ID), &u.Tokens[len(u.Tokens)-1]
}

// consume locates the mapping for the decoded token id and marks it used.
// Exactly one of two racing consumers can succeed: the mutation runs under
// the store's per-aggregate serialization, so the loser observes WhenUsed
// already set and gets ErrTokenAlreadyUsed.
func (tokenLedger) consume(u *User, tokenID uuid.UUID, purpose TokenPurpose, now time.Time) (*SecurityTokenMapping, error) {
	mapping := u.TokenByID(tokenID)
	if mapping == nil || mapping.Purpose != purpose {
		return nil, ErrTokenNotFound
	}
	if now.After(mapping.WhenExpires) {
		return nil, ErrTokenExpired
	}
	if mapping.WhenUsed != nil {
		return nil, ErrTokenAlreadyUsed
	}
	usedAt := now
	mapping.WhenUsed = &usedAt
	return mapping, nil
}
