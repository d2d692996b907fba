package authflow

import (
	"errors"
	"strings"
	"time"
)

// Config holds every Engine tunable. Start from DefaultConfig and override.
type Config struct {
	JWT       JWTConfig
	Session   SessionConfig
	Password  PasswordConfig
	Login     LoginConfig
	EmailCode EmailCodeConfig
	TwoFactor TwoFactorConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access token signing. RefreshTTL is also the absolute
// session lifetime.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	RedisPrefix string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters.
type PasswordConfig struct {
	Memory         uint32 // KiB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
LOGIN CONFIG
====================================
*/

// LoginConfig throttles failed password checks per email.
type LoginConfig struct {
	MaxAttempts int
	Window      time.Duration
}

/*
====================================
EMAIL CODE CONFIG
====================================
*/

// EmailCodeConfig shapes the mandatory email one-time code step.
type EmailCodeConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	Digits         int
	RedisPrefix    string
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig shapes TOTP verification and backup codes.
//
// Skew is the number of neighbouring 30s steps accepted on each side. Zero
// restricts verification to the current step.
type TwoFactorConfig struct {
	Issuer                  string
	Period                  uint
	Digits                  int
	Skew                    uint
	Algorithm               string
	EnforceReplayProtection bool
	BackupCodeCount         int
	BackupCodeLength        int
	MaxAttempts             int
	Window                  time.Duration
	// RevokeSessionsOnChange signs out the account's other sessions when 2FA
	// is enabled or disabled.
	RevokeSessionsOnChange bool
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production-leaning defaults. Signing keys must still
// be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "authflow",
		},
		Session: SessionConfig{
			RedisPrefix: "af:sess",
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           1,
			Parallelism:    4,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Login: LoginConfig{
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		EmailCode: EmailCodeConfig{
			TTL:            10 * time.Minute,
			MaxAttempts:    5,
			ResendCooldown: 30 * time.Second,
			Digits:         6,
			RedisPrefix:    "af:eotp",
		},
		TwoFactor: TwoFactorConfig{
			Issuer:                  "authflow",
			Period:                  30,
			Digits:                  6,
			Skew:                    1,
			Algorithm:               "SHA1",
			EnforceReplayProtection: true,
			BackupCodeCount:         8,
			BackupCodeLength:        8,
			MaxAttempts:             5,
			Window:                  5 * time.Minute,
			RevokeSessionsOnChange:  true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the Engine cannot run safely with.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must exceed AccessTTL")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}

	// Login
	if c.Login.MaxAttempts <= 0 || c.Login.Window <= 0 {
		return errors.New("Login MaxAttempts and Window must be > 0")
	}

	// Email code
	if c.EmailCode.TTL <= 0 {
		return errors.New("EmailCode TTL must be > 0")
	}
	if c.EmailCode.MaxAttempts <= 0 {
		return errors.New("EmailCode MaxAttempts must be > 0")
	}
	if c.EmailCode.ResendCooldown < 0 || c.EmailCode.ResendCooldown >= c.EmailCode.TTL {
		return errors.New("EmailCode ResendCooldown must be in [0, TTL)")
	}
	if c.EmailCode.Digits != 6 {
		return errors.New("EmailCode Digits must be 6")
	}

	// Two-factor
	if c.TwoFactor.Period == 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if c.TwoFactor.Digits != 6 {
		return errors.New("TwoFactor Digits must be 6")
	}
	if c.TwoFactor.Skew > 2 {
		return errors.New("TwoFactor Skew must be <= 2")
	}
	if c.TwoFactor.BackupCodeCount <= 0 || c.TwoFactor.BackupCodeCount > 32 {
		return errors.New("TwoFactor BackupCodeCount must be in [1, 32]")
	}
	if c.TwoFactor.BackupCodeLength == c.TwoFactor.Digits || c.TwoFactor.BackupCodeLength < 8 {
		return errors.New("TwoFactor BackupCodeLength must be >= 8 and differ from TOTP digits")
	}
	if c.TwoFactor.MaxAttempts <= 0 || c.TwoFactor.Window <= 0 {
		return errors.New("TwoFactor MaxAttempts and Window must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}
