// Package internal holds identifier and token codec helpers shared by the
// credcore root package. Nothing here is part of the public API.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// ChallengeID identifies an ephemeral partial-authentication session.
type ChallengeID [16]byte

func NewChallengeID() (ChallengeID, error) {
	var cid ChallengeID
	_, err := rand.Read(cid[:])
	return cid, err
}

func (c ChallengeID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(c[:])
}

func ParseChallengeID(challengeID string) (ChallengeID, error) {
	var cid ChallengeID

	raw, err := base64.RawURLEncoding.DecodeString(challengeID)
	if err != nil {
		return cid, err
	}
	if len(raw) != len(cid) {
		return cid, errors.New("invalid challenge id size")
	}

	copy(cid[:], raw)
	return cid, nil
}

// EncodeSecurityToken derives the caller-visible token string from a
// security token mapping id. The encoding is reversible so the token never
// needs separate storage.
func EncodeSecurityToken(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// DecodeSecurityToken recovers the mapping id from a token string.
func DecodeSecurityToken(token string) (uuid.UUID, error) {
	var id uuid.UUID

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid security token size")
	}

	copy(id[:], raw)
	return id, nil
}

// NewWebAuthnChallenge returns size cryptographically random bytes for an
// attestation or assertion ceremony.
func NewWebAuthnChallenge(size int) ([]byte, error) {
	if size < 16 || size > 64 {
		return nil, errors.New("invalid webauthn challenge size")
	}
	challenge := make([]byte, size)
	if _, err := rand.Read(challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// HashCode returns the SHA-256 digest of a one-time code. Only digests are
// stored server-side.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// NewOTP generates a numeric one-time code with uniform per-digit
// distribution.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}
