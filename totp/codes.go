package totp

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	// BackupCodeCount is the size of a backup-code batch.
	BackupCodeCount = 8
	// BackupCodeLength is the number of digits in a backup code.
	BackupCodeLength = 8
	// CodeLength is the length of TOTP and email one-time codes.
	CodeLength = 6
)

// GenerateBackupCodes returns a batch of unique single-use recovery codes.
func GenerateBackupCodes() ([]string, error) {
	return GenerateBackupCodesN(BackupCodeCount, BackupCodeLength)
}

// GenerateBackupCodesN returns count unique numeric codes of the given length.
func GenerateBackupCodesN(count, length int) ([]string, error) {
	if count <= 0 || count > 32 {
		return nil, errors.New("totp: backup code count must be between 1 and 32")
	}
	if length < 6 || length > 12 {
		return nil, errors.New("totp: backup code length must be between 6 and 12")
	}

	seen := make(map[string]struct{}, count)
	codes := make([]string, 0, count)
	for len(codes) < count {
		code, err := RandomDigits(length)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// RandomDigits returns n uniformly random decimal digits from crypto/rand.
func RandomDigits(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// SanitizeDigits drops every character that is not an ASCII digit, so
// "123 456" and "1234-5678" reach validation as plain digit strings.
func SanitizeDigits(in string) string {
	var b strings.Builder
	b.Grow(len(in))
	for i := 0; i < len(in); i++ {
		if c := in[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsTOTPCode reports whether s is exactly six digits.
func IsTOTPCode(s string) bool {
	return len(s) == CodeLength && isDigits(s)
}

// IsBackupCode reports whether s is exactly eight digits.
func IsBackupCode(s string) bool {
	return len(s) == BackupCodeLength && isDigits(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
