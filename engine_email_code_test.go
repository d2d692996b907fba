package authflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authflow"
)

func TestEmailCodeRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dispatch, err := h.engine.SendEmailOneTimeCode(ctx, bobEmail)
	if err != nil {
		t.Fatalf("SendEmailOneTimeCode: %v", err)
	}
	if dispatch.ExpiresIn != 10*time.Minute || dispatch.ResendWait != 30*time.Second {
		t.Fatalf("unexpected dispatch %+v", dispatch)
	}
	code := h.mail.last(t, bobEmail)
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}

	sess, err := h.engine.VerifyEmailOneTimeCode(ctx, bobEmail, code[:3]+" "+code[3:])
	if err != nil {
		t.Fatalf("VerifyEmailOneTimeCode: %v", err)
	}
	if sess.Method != "email_otp" || sess.AccountID != h.bob.ID {
		t.Fatalf("unexpected session %+v", sess)
	}

	if _, err := h.engine.VerifyEmailOneTimeCode(ctx, bobEmail, code); !errors.Is(err, authflow.ErrEmailCodeExpired) {
		t.Fatalf("expected consumed code to be gone, got %v", err)
	}
}

func TestEmailCodeWrongCodeStaysUsable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.SendEmailOneTimeCode(ctx, bobEmail); err != nil {
		t.Fatal(err)
	}
	code := h.mail.last(t, bobEmail)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	if _, err := h.engine.VerifyEmailOneTimeCode(ctx, bobEmail, wrong); !errors.Is(err, authflow.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if _, err := h.engine.VerifyEmailOneTimeCode(ctx, bobEmail, "12345"); !errors.Is(err, authflow.ErrInvalidCode) {
		t.Fatalf("expected short code rejected, got %v", err)
	}
	if _, err := h.engine.VerifyEmailOneTimeCode(ctx, bobEmail, code); err != nil {
		t.Fatalf("correct code after a miss: %v", err)
	}
}

func TestEmailCodeBurnsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.SendEmailOneTimeCode(ctx, bobEmail); err != nil {
		t.Fatal(err)
	}
	code := h.mail.last(t, bobEmail)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 4; i++ {
		if _, err := h.engine.VerifyEmailOneTimeCode(ctx, bobEmail, wrong); !errors.Is(err, authflow.ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i+1, err)
		}
	}
	if _, err := h.engine.VerifyEmailOneTimeCode(ctx, bobEmail, wrong); !errors.Is(err, authflow.ErrEmailCodeAttemptsExceeded) {
		t.Fatalf("expected ErrEmailCodeAttemptsExceeded, got %v", err)
	}
	if _, err := h.engine.VerifyEmailOneTimeCode(ctx, bobEmail, code); !errors.Is(err, authflow.ErrEmailCodeExpired) {
		t.Fatalf("expected burned code to be gone, got %v", err)
	}
}

func TestEmailCodeResendCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.SendEmailOneTimeCode(ctx, bobEmail); err != nil {
		t.Fatal(err)
	}
	first := h.mail.last(t, bobEmail)

	_, err := h.engine.SendEmailOneTimeCode(ctx, bobEmail)
	var cd *authflow.CooldownError
	if !errors.As(err, &cd) {
		t.Fatalf("expected *CooldownError, got %v", err)
	}
	if !errors.Is(err, authflow.ErrEmailCodeCooldown) {
		t.Fatal("expected CooldownError to match ErrEmailCodeCooldown")
	}
	if cd.Seconds() < 1 || cd.Seconds() > 30 {
		t.Fatalf("unexpected remaining seconds %d", cd.Seconds())
	}
	if h.mail.count(bobEmail) != 1 {
		t.Fatal("cooldown must not send another code")
	}

	h.redis.FastForward(31 * time.Second)
	if _, err := h.engine.SendEmailOneTimeCode(ctx, bobEmail); err != nil {
		t.Fatalf("send after cooldown: %v", err)
	}
	second := h.mail.last(t, bobEmail)
	if first != second {
		if _, err := h.engine.VerifyEmailOneTimeCode(ctx, bobEmail, first); !errors.Is(err, authflow.ErrInvalidCode) {
			t.Fatalf("expected superseded code rejected, got %v", err)
		}
	}
	if _, err := h.engine.VerifyEmailOneTimeCode(ctx, bobEmail, second); err != nil {
		t.Fatalf("latest code rejected: %v", err)
	}
}

func TestEmailCodeUnknownAddressLooksTheSame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	known, err := h.engine.SendEmailOneTimeCode(ctx, bobEmail)
	if err != nil {
		t.Fatal(err)
	}
	unknown, err := h.engine.SendEmailOneTimeCode(ctx, "ghost@example.com")
	if err != nil {
		t.Fatalf("unknown address should not error, got %v", err)
	}
	if *known != *unknown {
		t.Fatalf("responses differ: %+v vs %+v", known, unknown)
	}
	if h.mail.count("ghost@example.com") != 0 {
		t.Fatal("no code should be sent to unknown address")
	}
	if _, err := h.engine.VerifyEmailOneTimeCode(ctx, "ghost@example.com", "123456"); !errors.Is(err, authflow.ErrEmailCodeExpired) {
		t.Fatalf("expected ErrEmailCodeExpired, got %v", err)
	}
}

func TestEmailCodeDeliveryFailureReleasesCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.mail.fail = true
	if _, err := h.engine.SendEmailOneTimeCode(ctx, bobEmail); !errors.Is(err, authflow.ErrCodeDeliveryFailed) {
		t.Fatalf("expected ErrCodeDeliveryFailed, got %v", err)
	}
	h.mail.fail = false
	if _, err := h.engine.SendEmailOneTimeCode(ctx, bobEmail); err != nil {
		t.Fatalf("retry after failed delivery: %v", err)
	}
}
