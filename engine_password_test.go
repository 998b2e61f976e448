package credcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cadencesec/credcore/password"
)

func resetTokenFromEffects(t *testing.T, effects []Effect, kind EffectKind) string {
	t.Helper()
	for _, eff := range effects {
		if eff.Kind == kind {
			if eff.Token == "" {
				t.Fatal("token effect carries empty token")
			}
			return eff.Token
		}
	}
	t.Fatalf("no effect of kind %v present", kind)
	return ""
}

func TestChangePasswordSuccess(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	stampBefore := store.get(t, u.TenantID, u.ID).SecurityStamp

	if err := engine.ChangePassword(context.Background(), u.ID, "Correct-Horse-9", "Another-Horse-7"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	stored := store.get(t, u.TenantID, u.ID)
	if stored.SecurityStamp == stampBefore {
		t.Fatal("expected security stamp rotation")
	}
	if len(stored.PasswordHistory) != 1 {
		t.Fatalf("expected one history record, got %d", len(stored.PasswordHistory))
	}

	if _, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Correct-Horse-9"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Another-Horse-7"); err != nil {
		t.Fatalf("expected new password accepted, got %v", err)
	}
}

func TestChangePasswordWrongOldPassword(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	err := engine.ChangePassword(context.Background(), u.ID, "Wrong-Horse-1", "Another-Horse-7")
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestChangePasswordPolicyViolation(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	err := engine.ChangePassword(context.Background(), u.ID, "Correct-Horse-9", "short")
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}

func TestChangePasswordReuseRejected(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	// Same as current.
	if err := engine.ChangePassword(context.Background(), u.ID, "Correct-Horse-9", "Correct-Horse-9"); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse for current password, got %v", err)
	}

	// Same as a recent historical one.
	if err := engine.ChangePassword(context.Background(), u.ID, "Correct-Horse-9", "Another-Horse-7"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if err := engine.ChangePassword(context.Background(), u.ID, "Another-Horse-7", "Correct-Horse-9"); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse for historical password, got %v", err)
	}
}

func TestRequestPasswordResetUnknownEmailSameShape(t *testing.T) {
	store := newMockStore()

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	result, err := engine.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("expected nil error for unknown email, got %v", err)
	}
	if len(result.Effects) != 0 {
		t.Fatal("expected no effects for unknown email")
	}
}

func TestRequestPasswordResetDisabledAccountSameShape(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	if err := engine.DisableAccount(context.Background(), u.ID); err != nil {
		t.Fatalf("DisableAccount failed: %v", err)
	}

	result, err := engine.RequestPasswordReset(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("expected nil error for disabled account, got %v", err)
	}
	if len(result.Effects) != 0 {
		t.Fatal("expected no effects for disabled account")
	}
}

func TestRequestPasswordResetIdempotentIssuance(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	first, err := engine.RequestPasswordReset(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	second, err := engine.RequestPasswordReset(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	t1 := resetTokenFromEffects(t, first.Effects, EffectSendPasswordResetToken)
	t2 := resetTokenFromEffects(t, second.Effects, EffectSendPasswordResetToken)
	if t1 != t2 {
		t.Fatal("expected the unexpired token returned again, not a fresh one")
	}
	if len(store.get(t, u.TenantID, u.ID).Tokens) != 1 {
		t.Fatal("expected a single token mapping")
	}
}

func TestConsumePasswordResetSuccessAndSingleUse(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	result, err := engine.RequestPasswordReset(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := resetTokenFromEffects(t, result.Effects, EffectSendPasswordResetToken)

	if err := engine.ConsumePasswordReset(context.Background(), token, "Another-Horse-7"); err != nil {
		t.Fatalf("ConsumePasswordReset failed: %v", err)
	}

	stored := store.get(t, u.TenantID, u.ID)
	if stored.Tokens[0].WhenUsed == nil {
		t.Fatal("expected token marked used")
	}
	if _, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Another-Horse-7"); err != nil {
		t.Fatalf("expected reset password accepted, got %v", err)
	}

	if err := engine.ConsumePasswordReset(context.Background(), token, "Third-Horse-5!"); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("expected ErrTokenAlreadyUsed, got %v", err)
	}
}

func TestConsumePasswordResetClearsLock(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	if err := engine.LockAccount(context.Background(), u.ID); err != nil {
		t.Fatalf("LockAccount failed: %v", err)
	}

	// A locked account still receives a reset token; it is the way out.
	result, err := engine.RequestPasswordReset(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := resetTokenFromEffects(t, result.Effects, EffectSendPasswordResetToken)

	if err := engine.ConsumePasswordReset(context.Background(), token, "Another-Horse-7"); err != nil {
		t.Fatalf("ConsumePasswordReset failed: %v", err)
	}

	stored := store.get(t, u.TenantID, u.ID)
	if stored.Locked() {
		t.Fatal("expected lock cleared by reset")
	}
	if stored.PasswordHash == sentinelPasswordHash {
		t.Fatal("expected sentinel hash rotated by reset")
	}
	if _, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Another-Horse-7"); err != nil {
		t.Fatalf("expected login after reset, got %v", err)
	}
}

func TestConsumePasswordResetExpiredToken(t *testing.T) {
	cfg := authTestConfig()
	cfg.Tokens.PasswordResetTTL = time.Millisecond

	store := newMockStore()
	seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, cfg, store)
	defer done()

	result, err := engine.RequestPasswordReset(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := resetTokenFromEffects(t, result.Effects, EffectSendPasswordResetToken)

	time.Sleep(10 * time.Millisecond)

	if err := engine.ConsumePasswordReset(context.Background(), token, "Another-Horse-7"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestConsumePasswordResetMalformedToken(t *testing.T) {
	store := newMockStore()
	seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	if err := engine.ConsumePasswordReset(context.Background(), "not-a-token", "Another-Horse-7"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestConsumePasswordResetRejectsWeakPassword(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	result, err := engine.RequestPasswordReset(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := resetTokenFromEffects(t, result.Effects, EffectSendPasswordResetToken)

	if err := engine.ConsumePasswordReset(context.Background(), token, "weak"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	// The rejection must not burn the token.
	if store.get(t, u.TenantID, u.ID).Tokens[0].WhenUsed != nil {
		t.Fatal("expected token still unused after policy rejection")
	}
	if err := engine.ConsumePasswordReset(context.Background(), token, "Another-Horse-7"); err != nil {
		t.Fatalf("expected token still consumable, got %v", err)
	}
}

func TestResetTokenCannotConfirmAccount(t *testing.T) {
	store := newMockStore()
	seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	result, err := engine.RequestPasswordReset(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := resetTokenFromEffects(t, result.Effects, EffectSendPasswordResetToken)

	if err := engine.ConsumeAccountConfirmation(context.Background(), token, "Another-Horse-7"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected purpose mismatch to report ErrTokenNotFound, got %v", err)
	}
}

func TestAccountConfirmationFlow(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")
	if _, err := store.MutateUser(context.Background(), u.TenantID, u.ID, func(mu *User) error {
		mu.WhenVerified = nil
		return nil
	}); err != nil {
		t.Fatalf("mutate failed: %v", err)
	}

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	result, err := engine.RequestAccountConfirmation(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestAccountConfirmation failed: %v", err)
	}
	token := resetTokenFromEffects(t, result.Effects, EffectSendConfirmationToken)

	if err := engine.ConsumeAccountConfirmation(context.Background(), token, "Another-Horse-7"); err != nil {
		t.Fatalf("ConsumeAccountConfirmation failed: %v", err)
	}
	stored := store.get(t, u.TenantID, u.ID)
	if !stored.Verified() {
		t.Fatal("expected account verified")
	}
	// Confirmation sets the account's password in the same mutation.
	if _, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Correct-Horse-9"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected previous password rejected, got %v", err)
	}
	if _, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Another-Horse-7"); err != nil {
		t.Fatalf("expected confirmation password accepted, got %v", err)
	}

	// Verified accounts no longer receive confirmation tokens.
	again, err := engine.RequestAccountConfirmation(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestAccountConfirmation failed: %v", err)
	}
	if len(again.Effects) != 0 {
		t.Fatal("expected no effects for already verified account")
	}
}

func TestConsumeAccountConfirmationRejectsWeakPassword(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")
	if _, err := store.MutateUser(context.Background(), u.TenantID, u.ID, func(mu *User) error {
		mu.WhenVerified = nil
		return nil
	}); err != nil {
		t.Fatalf("mutate failed: %v", err)
	}

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	result, err := engine.RequestAccountConfirmation(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestAccountConfirmation failed: %v", err)
	}
	token := resetTokenFromEffects(t, result.Effects, EffectSendConfirmationToken)

	if err := engine.ConsumeAccountConfirmation(context.Background(), token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	stored := store.get(t, u.TenantID, u.ID)
	if stored.Verified() {
		t.Fatal("policy rejection must not verify the account")
	}
	if stored.Tokens[0].WhenUsed != nil {
		t.Fatal("expected token still unused after policy rejection")
	}

	// Still consumable with an acceptable password.
	if err := engine.ConsumeAccountConfirmation(context.Background(), token, "Another-Horse-7"); err != nil {
		t.Fatalf("expected token still consumable, got %v", err)
	}
}

func TestConsumeAccountConfirmationRejectsReusedPassword(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")
	if _, err := store.MutateUser(context.Background(), u.TenantID, u.ID, func(mu *User) error {
		mu.WhenVerified = nil
		return nil
	}); err != nil {
		t.Fatalf("mutate failed: %v", err)
	}

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	result, err := engine.RequestAccountConfirmation(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestAccountConfirmation failed: %v", err)
	}
	token := resetTokenFromEffects(t, result.Effects, EffectSendConfirmationToken)

	if err := engine.ConsumeAccountConfirmation(context.Background(), token, "Correct-Horse-9"); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	stored := store.get(t, u.TenantID, u.ID)
	if stored.Verified() {
		t.Fatal("reuse rejection must not verify the account")
	}
	if stored.Tokens[0].WhenUsed != nil {
		t.Fatal("expected token unburned when the mutation is discarded")
	}
}

func TestNeedsRehashAfterParameterUpgrade(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	if engine.NeedsRehash(u) {
		t.Fatal("hash produced with current parameters must not need rehash")
	}

	strong, err := password.NewArgon2(password.Config{
		Memory:      16 * 1024,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}

	mr, rdb := newTestRedis(t)
	defer mr.Close()
	upgraded, err := New().
		WithConfig(authTestConfig()).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithHasher(strong).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer upgraded.Close()

	if !upgraded.NeedsRehash(u) {
		t.Fatal("expected rehash needed under stronger parameters")
	}

	locked := u.Snapshot()
	locked.PasswordHash = sentinelPasswordHash
	if upgraded.NeedsRehash(locked) {
		t.Fatal("sentinel hash must not request rehash")
	}
}

func TestConsumePasswordResetConcurrentSingleWinner(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	result, err := engine.RequestPasswordReset(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := resetTokenFromEffects(t, result.Effects, EffectSendPasswordResetToken)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			results <- engine.ConsumePasswordReset(context.Background(), token, "Another-Horse-7")
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	fail := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrTokenAlreadyUsed):
			fail++
		default:
			t.Fatalf("unexpected consume error: %v", err)
		}
	}

	if success != 1 {
		t.Fatalf("expected exactly one consume success, got %d", success)
	}
	if fail != n-1 {
		t.Fatalf("expected %d ErrTokenAlreadyUsed, got %d", n-1, fail)
	}

	if _, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Another-Horse-7"); err != nil {
		t.Fatalf("new password rejected after reset: %v", err)
	}
	if stored := store.get(t, u.TenantID, u.ID); len(stored.Tokens) != 1 || stored.Tokens[0].WhenUsed == nil {
		t.Fatal("expected the reset mapping to be marked used")
	}
}
