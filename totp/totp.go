package totp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	pqtotp "github.com/pquerna/otp/totp"
)

const (
	// DefaultPeriod is the step length expected by common authenticator apps.
	DefaultPeriod uint = 30
	// DefaultDigits is the length of a generated code.
	DefaultDigits = 6
	// DefaultSkew accepts the neighbouring step on either side of now.
	DefaultSkew uint = 1

	secretSize = 20
)

var (
	// ErrInvalidSecret is returned when a secret is empty or not valid base32.
	ErrInvalidSecret = errors.New("totp: invalid secret")
	// ErrInvalidConfig is returned by New for unusable parameters.
	ErrInvalidConfig = errors.New("totp: invalid config")
)

// Config controls code shape and verification tolerance.
type Config struct {
	Issuer    string
	Period    uint
	Digits    int
	Skew      uint
	Algorithm string

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Secret is a freshly generated shared secret plus its provisioning URI.
type Secret struct {
	Base32 string
	URI    string
}

// Engine generates and verifies codes for one fixed configuration. It holds
// no per-account state and is safe for concurrent use.
type Engine struct {
	cfg  Config
	algo otp.Algorithm
}

// New validates cfg, filling zero values with defaults.
func New(cfg Config) (*Engine, error) {
	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Digits == 0 {
		cfg.Digits = DefaultDigits
	}
	if cfg.Digits < 6 || cfg.Digits > 8 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("digits must be between 6 and 8"))
	}
	if cfg.Skew > 3 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("skew must be <= 3"))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	algo, err := parseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, algo: algo}, nil
}

// Digits reports the configured code length.
func (e *Engine) Digits() int { return e.cfg.Digits }

// Period reports the configured step length.
func (e *Engine) Period() time.Duration { return time.Duration(e.cfg.Period) * time.Second }

// NewSecret creates a random 160-bit secret for account and the otpauth URI an
// authenticator app can enroll from.
func (e *Engine) NewSecret(account string) (Secret, error) {
	raw := make([]byte, secretSize)
	if _, err := rand.Read(raw); err != nil {
		return Secret{}, err
	}
	key, err := pqtotp.Generate(pqtotp.GenerateOpts{
		Issuer:      e.issuer(),
		AccountName: account,
		Period:      e.cfg.Period,
		Secret:      raw,
		Digits:      otp.Digits(e.cfg.Digits),
		Algorithm:   e.algo,
	})
	if err != nil {
		return Secret{}, err
	}
	return Secret{Base32: key.Secret(), URI: key.URL()}, nil
}

// ProvisionURI rebuilds the otpauth URI for an existing secret.
func (e *Engine) ProvisionURI(secret, account string) (string, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	key, err := pqtotp.Generate(pqtotp.GenerateOpts{
		Issuer:      e.issuer(),
		AccountName: account,
		Period:      e.cfg.Period,
		Secret:      raw,
		Digits:      otp.Digits(e.cfg.Digits),
		Algorithm:   e.algo,
	})
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

// Generate returns the code for the current time step.
func (e *Engine) Generate(secret string) (string, error) {
	return e.GenerateAt(secret, e.cfg.Now())
}

// GenerateAt returns the code for the step containing t.
func (e *Engine) GenerateAt(secret string, t time.Time) (string, error) {
	if _, err := decodeSecret(secret); err != nil {
		return "", err
	}
	return e.codeFor(normalizeSecret(secret), e.counter(t))
}

// Verify reports whether code is valid for secret now. Malformed input and
// internal failures yield false.
func (e *Engine) Verify(secret, code string) bool {
	ok, _ := e.VerifyAt(secret, code, e.cfg.Now())
	return ok
}

// VerifyAt checks code against the steps within the skew window around t and
// returns the matched step counter.
func (e *Engine) VerifyAt(secret, code string, t time.Time) (bool, int64) {
	if len(code) != e.cfg.Digits || !isDigits(code) {
		return false, 0
	}
	if _, err := decodeSecret(secret); err != nil {
		return false, 0
	}
	secret = normalizeSecret(secret)

	base := e.counter(t)
	skew := int64(e.cfg.Skew)
	matched := int64(-1)
	for step := -skew; step <= skew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		want, err := e.codeFor(secret, counter)
		if err != nil {
			return false, 0
		}
		// keep scanning so timing does not reveal which step matched
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 && matched < 0 {
			matched = counter
		}
	}
	if matched < 0 {
		return false, 0
	}
	return true, matched
}

func (e *Engine) counter(t time.Time) int64 {
	return t.Unix() / int64(e.cfg.Period)
}

func (e *Engine) codeFor(secret string, counter int64) (string, error) {
	return hotp.GenerateCodeCustom(secret, uint64(counter), hotp.ValidateOpts{
		Digits:    otp.Digits(e.cfg.Digits),
		Algorithm: e.algo,
	})
}

func (e *Engine) issuer() string {
	if e.cfg.Issuer == "" {
		return "authflow"
	}
	return e.cfg.Issuer
}

func parseAlgorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return 0, errors.Join(ErrInvalidConfig, errors.New("unsupported algorithm "+name))
	}
}

func normalizeSecret(secret string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.TrimRight(normalizeSecret(secret), "=")
	if s == "" {
		return nil, ErrInvalidSecret
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}
