package credcore

import (
	"context"
	"errors"
	"testing"
)

func TestSubmitEmailCodeSuccess(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, rdb, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	begin, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("BeginAuthentication failed: %v", err)
	}
	code := emailCodeFromEffects(t, begin.Effects)

	session, err := engine.SubmitEmailCode(context.Background(), begin.ChallengeID, code)
	if err != nil {
		t.Fatalf("SubmitEmailCode failed: %v", err)
	}
	if session.UserID != u.ID {
		t.Fatalf("session user mismatch: %s", session.UserID)
	}
	if session.Method != MFAMethodEmail {
		t.Fatalf("expected email method, got %s", session.Method)
	}
	if session.AccessToken == "" {
		t.Fatal("expected access token")
	}

	if exists := rdb.Exists(context.Background(), "cc:pac:"+begin.ChallengeID).Val(); exists != 0 {
		t.Fatal("expected challenge deleted after promotion")
	}
	if exists := rdb.Exists(context.Background(), "cc:aec:"+begin.ChallengeID).Val(); exists != 0 {
		t.Fatal("expected email code deleted after consumption")
	}
}

func TestSubmitEmailCodeWrongCodeThenSuccess(t *testing.T) {
	store := newMockStore()
	seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, rdb, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	begin, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("BeginAuthentication failed: %v", err)
	}
	code := emailCodeFromEffects(t, begin.Effects)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if _, err := engine.SubmitEmailCode(context.Background(), begin.ChallengeID, wrong); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if exists := rdb.Exists(context.Background(), "cc:pac:"+begin.ChallengeID).Val(); exists != 1 {
		t.Fatal("expected challenge to survive a single wrong code")
	}

	if _, err := engine.SubmitEmailCode(context.Background(), begin.ChallengeID, code); err != nil {
		t.Fatalf("expected correct code accepted after one failure, got %v", err)
	}
}

func TestSubmitEmailCodeAttemptsExceeded(t *testing.T) {
	cfg := authTestConfig()
	cfg.MFA.MaxAttempts = 2

	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, rdb, done := newAuthEngine(t, cfg, store)
	defer done()

	begin, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("BeginAuthentication failed: %v", err)
	}
	code := emailCodeFromEffects(t, begin.Effects)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	if _, err := engine.SubmitEmailCode(context.Background(), begin.ChallengeID, wrong); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if _, err := engine.SubmitEmailCode(context.Background(), begin.ChallengeID, wrong); !errors.Is(err, ErrChallengeAttemptsExceeded) {
		t.Fatalf("expected ErrChallengeAttemptsExceeded, got %v", err)
	}

	if exists := rdb.Exists(context.Background(), "cc:pac:"+begin.ChallengeID).Val(); exists != 0 {
		t.Fatal("expected challenge destroyed after attempt budget")
	}

	// Exhausting the budget counts as a failure toward lockout.
	if got := store.get(t, u.TenantID, u.ID).FailedAttempts; got != 1 {
		t.Fatalf("expected one lockout-counting failure, got %d", got)
	}

	// The correct code is useless now.
	if _, err := engine.SubmitEmailCode(context.Background(), begin.ChallengeID, code); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound after destruction, got %v", err)
	}
}

func TestSubmitEmailCodeChallengeSingleUse(t *testing.T) {
	store := newMockStore()
	seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	begin, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("BeginAuthentication failed: %v", err)
	}
	code := emailCodeFromEffects(t, begin.Effects)

	if _, err := engine.SubmitEmailCode(context.Background(), begin.ChallengeID, code); err != nil {
		t.Fatalf("SubmitEmailCode failed: %v", err)
	}
	if _, err := engine.SubmitEmailCode(context.Background(), begin.ChallengeID, code); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound on consumed challenge, got %v", err)
	}
}

func TestSubmitEmailCodeUnknownChallenge(t *testing.T) {
	store := newMockStore()
	seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	if _, err := engine.SubmitEmailCode(context.Background(), "not-a-challenge", "123456"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestRequestEmailCodeForEnrolledAccount(t *testing.T) {
	cfg := totpAuthTestConfig()

	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, cfg, store)
	defer done()

	enrollApp(t, engine, u.ID, cfg)

	begin, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("BeginAuthentication failed: %v", err)
	}
	if len(begin.Effects) != 0 {
		t.Fatal("enrolled account must not receive an email code at begin")
	}
	if len(begin.Methods) != 2 {
		t.Fatalf("expected email and app methods, got %v", begin.Methods)
	}

	result, err := engine.RequestEmailCode(context.Background(), begin.ChallengeID)
	if err != nil {
		t.Fatalf("RequestEmailCode failed: %v", err)
	}
	code := emailCodeFromEffects(t, result.Effects)

	session, err := engine.SubmitEmailCode(context.Background(), begin.ChallengeID, code)
	if err != nil {
		t.Fatalf("SubmitEmailCode failed: %v", err)
	}
	if session.Method != MFAMethodEmail {
		t.Fatalf("expected email method, got %s", session.Method)
	}
}

func TestRequestEmailCodeReplacesPreviousCode(t *testing.T) {
	store := newMockStore()
	seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	begin, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("BeginAuthentication failed: %v", err)
	}
	first := emailCodeFromEffects(t, begin.Effects)

	reissued, err := engine.RequestEmailCode(context.Background(), begin.ChallengeID)
	if err != nil {
		t.Fatalf("RequestEmailCode failed: %v", err)
	}
	second := emailCodeFromEffects(t, reissued.Effects)

	if first == second {
		t.Fatal("expected a fresh code on re-request")
	}
	if _, err := engine.SubmitEmailCode(context.Background(), begin.ChallengeID, second); err != nil {
		t.Fatalf("expected replacement code accepted, got %v", err)
	}
}

func TestChallengeAbortedWhenAccountDisabledMidFlow(t *testing.T) {
	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, rdb, done := newAuthEngine(t, authTestConfig(), store)
	defer done()

	begin, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("BeginAuthentication failed: %v", err)
	}
	code := emailCodeFromEffects(t, begin.Effects)

	if err := engine.DisableAccount(context.Background(), u.ID); err != nil {
		t.Fatalf("DisableAccount failed: %v", err)
	}

	if _, err := engine.SubmitEmailCode(context.Background(), begin.ChallengeID, code); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	if exists := rdb.Exists(context.Background(), "cc:pac:"+begin.ChallengeID).Val(); exists != 0 {
		t.Fatal("expected challenge destroyed for disabled account")
	}
}

func TestSubmitEmailCodeWithoutIssuedCodeRecordsFailure(t *testing.T) {
	cfg := totpAuthTestConfig()

	store := newMockStore()
	u := seedUser(t, store, "alice@example.com", "Correct-Horse-9")

	engine, _, done := newAuthEngine(t, cfg, store)
	defer done()

	enrollApp(t, engine, u.ID, cfg)

	begin, err := engine.BeginAuthentication(context.Background(), "alice@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("BeginAuthentication failed: %v", err)
	}

	// No RequestEmailCode was made, so there is no stored digest.
	historyBefore := len(store.get(t, u.TenantID, u.ID).History)
	if _, err := engine.SubmitEmailCode(context.Background(), begin.ChallengeID, "123456"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}

	stored := store.get(t, u.TenantID, u.ID)
	if len(stored.History) != historyBefore+1 {
		t.Fatalf("expected one history entry appended, got %d -> %d", historyBefore, len(stored.History))
	}
	if stored.History[len(stored.History)-1].Outcome != OutcomeEmailCodeFailed {
		t.Fatalf("expected %q entry, got %q", OutcomeEmailCodeFailed, stored.History[len(stored.History)-1].Outcome)
	}
}
