package credcore

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// sentinelPasswordHash replaces the real password hash when a lock is
// applied. It is not a valid PHC string, so no hasher can ever match it,
// including against a password concurrently rotated in from a stale write.
const sentinelPasswordHash = "*LOCKED*"

// Disabled reports whether the account is currently disabled.
func (u *User) Disabled() bool {
	return u.WhenDisabled != nil
}

// Locked reports whether a lock timestamp is currently in effect.
func (u *User) Locked() bool {
	return u.WhenLocked != nil
}

// Verified reports whether the account completed confirmation.
func (u *User) Verified() bool {
	return u.WhenVerified != nil
}

// ActiveApp returns the single non-revoked authenticator app, or nil.
func (u *User) ActiveApp() *AuthenticatorApp {
	for i := range u.Apps {
		if u.Apps[i].Active() {
			return &u.Apps[i]
		}
	}
	return nil
}

// ActiveDevices returns all non-revoked authenticator devices.
func (u *User) ActiveDevices() []*AuthenticatorDevice {
	var active []*AuthenticatorDevice
	for i := range u.Devices {
		if u.Devices[i].Active() {
			active = append(active, &u.Devices[i])
		}
	}
	return active
}

// ActiveDeviceByCredentialID returns the non-revoked device whose
// credential id matches, or nil.
func (u *User) ActiveDeviceByCredentialID(credentialID []byte) *AuthenticatorDevice {
	for i := range u.Devices {
		if u.Devices[i].Active() && bytes.Equal(u.Devices[i].CredentialID, credentialID) {
			return &u.Devices[i]
		}
	}
	return nil
}

// DeviceByID returns the device with the given id regardless of revocation
// state, or nil.
func (u *User) DeviceByID(id uuid.UUID) *AuthenticatorDevice {
	for i := range u.Devices {
		if u.Devices[i].ID == id {
			return &u.Devices[i]
		}
	}
	return nil
}

// EnrolledMethods computes the set of MFA methods available to the
// account. Email is always present: it is the universal fallback for
// accounts with no explicit enrollment.
func (u *User) EnrolledMethods() []MFAMethod {
	methods := []MFAMethod{MFAMethodEmail}
	if u.ActiveApp() != nil {
		methods = append(methods, MFAMethodApp)
	}
	if len(u.ActiveDevices()) > 0 {
		methods = append(methods, MFAMethodDevice)
	}
	return methods
}

// TokenByID returns the security token mapping with the given id
// regardless of state, or nil.
func (u *User) TokenByID(id uuid.UUID) *SecurityTokenMapping {
	for i := range u.Tokens {
		if u.Tokens[i].ID == id {
			return &u.Tokens[i]
		}
	}
	return nil
}

// ActiveTokenForPurpose returns the unused, unexpired mapping for the
// given purpose, or nil. The ledger guarantees at most one exists.
func (u *User) ActiveTokenForPurpose(purpose TokenPurpose, now time.Time) *SecurityTokenMapping {
	for i := range u.Tokens {
		t := &u.Tokens[i]
		if t.Purpose == purpose && t.WhenUsed == nil && !now.After(t.WhenExpires) {
			return t
		}
	}
	return nil
}

// appendHistory adds an append-only authentication history entry.
func (u *User) appendHistory(when time.Time, outcome string) {
	u.History = append(u.History, AuthenticationEntry{
		ID:      uuid.New(),
		When:    when,
		Outcome: outcome,
	})
}

// snapshot returns a deep copy. Store implementations hand snapshots to
// readers so a caller can never mutate the aggregate outside MutateUser.
func (u *User) snapshot() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.RoleIDs = append([]uuid.UUID(nil), u.RoleIDs...)
	c.History = append([]AuthenticationEntry(nil), u.History...)
	c.Tokens = make([]SecurityTokenMapping, len(u.Tokens))
	for i := range u.Tokens {
		c.Tokens[i] = u.Tokens[i]
		c.Tokens[i].WhenUsed = copyTime(u.Tokens[i].WhenUsed)
	}
	c.Apps = make([]AuthenticatorApp, len(u.Apps))
	for i := range u.Apps {
		c.Apps[i] = u.Apps[i]
		c.Apps[i].Secret = append([]byte(nil), u.Apps[i].Secret...)
		c.Apps[i].WhenRevoked = copyTime(u.Apps[i].WhenRevoked)
		c.Apps[i].WhenLastUsed = copyTime(u.Apps[i].WhenLastUsed)
	}
	c.Devices = make([]AuthenticatorDevice, len(u.Devices))
	for i := range u.Devices {
		c.Devices[i] = u.Devices[i]
		c.Devices[i].PublicKey = append([]byte(nil), u.Devices[i].PublicKey...)
		c.Devices[i].CredentialID = append([]byte(nil), u.Devices[i].CredentialID...)
		c.Devices[i].WhenLastUsed = copyTime(u.Devices[i].WhenLastUsed)
		c.Devices[i].WhenRevoked = copyTime(u.Devices[i].WhenRevoked)
	}
	c.PasswordHistory = append([]PasswordRecord(nil), u.PasswordHistory...)
	c.WhenLocked = copyTime(u.WhenLocked)
	c.WhenDisabled = copyTime(u.WhenDisabled)
	c.WhenVerified = copyTime(u.WhenVerified)
	c.WhenLastAuthenticated = copyTime(u.WhenLastAuthenticated)
	return &c
}

// Snapshot returns a deep copy of the aggregate. Intended for
// [CredentialStore] implementations.
func (u *User) Snapshot() *User {
	return u.snapshot()
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
