package credcore

import (
	"context"

	"github.com/cadencesec/credcore/internal"
	"github.com/google/uuid"
)

// InitiateDeviceEnrollment opens a WebAuthn attestation ceremony for an
// account. The returned options carry a fresh challenge held server-side
// under the enrollment id; already enrolled credential ids are excluded so
// an authenticator cannot be registered twice.
//
// InitiateDeviceEnrollment may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) InitiateDeviceEnrollment(ctx context.Context, userID uuid.UUID) (string, *DeviceEnrollmentOptions, error) {
	if e == nil || e.store == nil {
		return "", nil, ErrEngineNotReady
	}
	if e.verifier == nil {
		return "", nil, ErrEngineNotReady
	}

	user, err := e.store.UserByID(ctx, tenantIDFromContext(ctx), userID)
	if err != nil {
		return "", nil, err
	}
	if statusErr := accountStatusError(user); statusErr != nil {
		return "", nil, statusErr
	}

	challenge, err := internal.NewWebAuthnChallenge(e.config.WebAuthn.ChallengeSize)
	if err != nil {
		return "", nil, err
	}

	enrollmentID, err := internal.NewChallengeID()
	if err != nil {
		return "", nil, err
	}

	now := e.now()
	// Methods stays zero: that is what tells an enrollment record apart
	// from a login challenge, which always carries at least the email bit.
	record := &partialSession{
		UserID:            user.ID.String(),
		TenantID:          user.TenantID,
		WebAuthnChallenge: challenge,
		IssuedAt:          now.Unix(),
		ExpiresAt:         now.Add(e.config.MFA.ChallengeTTL).Unix(),
	}
	if err := e.partialStore.Save(ctx, enrollmentID.String(), record, e.config.MFA.ChallengeTTL); err != nil {
		return "", nil, translateChallengeErr(err)
	}

	options := &DeviceEnrollmentOptions{
		Challenge:        challenge,
		RelyingPartyID:   e.config.WebAuthn.RelyingPartyID,
		RelyingPartyName: e.config.WebAuthn.RelyingPartyName,
		UserID:           user.ID,
		UserName:         user.Email,
	}
	for _, d := range user.ActiveDevices() {
		options.ExcludeCredentialIDs = append(options.ExcludeCredentialIDs, append([]byte(nil), d.CredentialID...))
	}

	return enrollmentID.String(), options, nil
}

// ConfirmDeviceEnrollment verifies the authenticator's attestation against
// the open ceremony and persists the device. The ceremony is single-use.
//
// ConfirmDeviceEnrollment may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) ConfirmDeviceEnrollment(ctx context.Context, enrollmentID, displayName string, attestation DeviceAttestation) (*AuthenticatorDevice, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if e.verifier == nil {
		return nil, ErrEngineNotReady
	}

	record, user, err := e.loadChallenge(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if record.Methods != 0 || len(record.WebAuthnChallenge) == 0 {
		return nil, ErrChallengeNotFound
	}
	if statusErr := accountStatusError(user); statusErr != nil {
		_, _ = e.partialStore.Delete(ctx, enrollmentID)
		return nil, statusErr
	}

	options := DeviceEnrollmentOptions{
		Challenge:        record.WebAuthnChallenge,
		RelyingPartyID:   e.config.WebAuthn.RelyingPartyID,
		RelyingPartyName: e.config.WebAuthn.RelyingPartyName,
		UserID:           user.ID,
		UserName:         user.Email,
	}
	for _, d := range user.ActiveDevices() {
		options.ExcludeCredentialIDs = append(options.ExcludeCredentialIDs, append([]byte(nil), d.CredentialID...))
	}

	credential, err := e.verifier.VerifyAttestation(options, attestation)
	if err != nil || credential == nil {
		e.emitAudit(ctx, auditEventDeviceEnrollment, false, user.ID.String(), user.TenantID, ErrAttestationInvalid, nil)
		return nil, ErrAttestationInvalid
	}

	existed, err := e.partialStore.Delete(ctx, enrollmentID)
	if err != nil {
		return nil, translateChallengeErr(err)
	}
	if !existed {
		return nil, ErrReplayDetected
	}

	now := e.now()
	deviceID := uuid.New()
	mutated, err := e.store.MutateUser(ctx, user.TenantID, user.ID, func(u *User) error {
		if u.ActiveDeviceByCredentialID(credential.CredentialID) != nil {
			return ErrValidation
		}

		u.Devices = append(u.Devices, AuthenticatorDevice{
			ID:             deviceID,
			WhenEnrolled:   now,
			PublicKey:      append([]byte(nil), credential.PublicKey...),
			CredentialID:   append([]byte(nil), credential.CredentialID...),
			ModelID:        credential.ModelID,
			SignCount:      credential.SignCount,
			DisplayName:    displayName,
			CredentialType: credential.CredentialType,
		})
		u.SecurityStamp = uuid.NewString()
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventDeviceEnrollment, false, user.ID.String(), user.TenantID, err, nil)
		return nil, err
	}

	e.metricInc(MetricDeviceEnrolled)
	e.emitAudit(ctx, auditEventDeviceEnrollment, true, user.ID.String(), user.TenantID, nil, func() map[string]string {
		return map[string]string{"device_id": deviceID.String()}
	})

	device := mutated.DeviceByID(deviceID)
	if device == nil {
		return nil, ErrPersistenceFailure
	}
	return device, nil
}

// RevokeDevice revokes an enrolled authenticator device. The record stays
// in the aggregate with just its revocation timestamp set.
//
// RevokeDevice may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) RevokeDevice(ctx context.Context, userID, deviceID uuid.UUID) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	now := e.now()
	tenantID := tenantIDFromContext(ctx)
	user, err := e.store.MutateUser(ctx, tenantID, userID, func(u *User) error {
		device := u.DeviceByID(deviceID)
		if device == nil || !device.Active() {
			return ErrDeviceNotFound
		}

		revokedAt := now
		device.WhenRevoked = &revokedAt
		u.SecurityStamp = uuid.NewString()
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventDeviceRevocation, false, userID.String(), tenantID, err, nil)
		return err
	}

	e.metricInc(MetricDeviceRevoked)
	e.emitAudit(ctx, auditEventDeviceRevocation, true, user.ID.String(), user.TenantID, nil, func() map[string]string {
		return map[string]string{"device_id": deviceID.String()}
	})
	return nil
}
