package orchestrator

import (
	"errors"
	"time"

	"github.com/MrEthical07/authflow/totp"
)

// Config tunes the orchestrator. Start from DefaultConfig.
type Config struct {
	// ResendCooldown is the advisory wait between email code requests.
	ResendCooldown time.Duration
	// CooldownTick, if set, is called about once a second with the whole
	// seconds left, ending with 0. It runs on its own goroutine and may call
	// the Orchestrator's read methods.
	CooldownTick func(remaining int)

	// ProfileFetchRetries is the number of retries after the first failure.
	ProfileFetchRetries int
	ProfileRetryBackoff time.Duration

	BiometricPrompt string
	// BiometricRequiresEmailCode routes biometric sign-in through the email
	// code step.
	BiometricRequiresEmailCode bool
	// BiometricRequiresSecondFactor keeps the second-factor prompt for
	// biometric sign-in on accounts with two-factor enabled.
	BiometricRequiresSecondFactor bool

	// TOTP must match the server's settings; it is used to check the first
	// code locally before enabling two-factor.
	TOTP totp.Config

	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		ResendCooldown:      30 * time.Second,
		ProfileFetchRetries: 2,
		ProfileRetryBackoff: 250 * time.Millisecond,
		BiometricPrompt:     "Sign in to your wallet",
		TOTP: totp.Config{
			Period: 30,
			Digits: 6,
			Skew:   1,
		},
		Now: time.Now,
	}
}

func (c *Config) Validate() error {
	if c.ResendCooldown < 0 {
		return errors.New("ResendCooldown must be >= 0")
	}
	if c.ProfileFetchRetries < 0 || c.ProfileRetryBackoff < 0 {
		return errors.New("profile retry settings must be >= 0")
	}
	if c.TOTP.Digits != 0 && c.TOTP.Digits != 6 {
		return errors.New("TOTP Digits must be 6")
	}
	return nil
}
