package totp

import "testing"

func TestGenerateBackupCodesShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		codes, err := GenerateBackupCodes()
		if err != nil {
			t.Fatalf("GenerateBackupCodes failed: %v", err)
		}
		if len(codes) != BackupCodeCount {
			t.Fatalf("expected %d codes, got %d", BackupCodeCount, len(codes))
		}
		seen := map[string]bool{}
		for _, c := range codes {
			if !IsBackupCode(c) {
				t.Fatalf("code %q is not 8 digits", c)
			}
			if seen[c] {
				t.Fatalf("duplicate code %q in batch", c)
			}
			seen[c] = true
		}
	}
}

func TestGenerateBackupCodesNBounds(t *testing.T) {
	if _, err := GenerateBackupCodesN(0, 8); err == nil {
		t.Fatal("expected error for zero count")
	}
	if _, err := GenerateBackupCodesN(8, 4); err == nil {
		t.Fatal("expected error for short codes")
	}
}

func TestSanitizeDigits(t *testing.T) {
	cases := map[string]string{
		"123456":     "123456",
		" 123 456 ":  "123456",
		"1234-5678":  "12345678",
		"abc":        "",
		"１２３":        "",
		"12\t34\n56": "123456",
	}
	for in, want := range cases {
		if got := SanitizeDigits(in); got != want {
			t.Fatalf("SanitizeDigits(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCodeClassifiers(t *testing.T) {
	if !IsTOTPCode("482913") || IsTOTPCode("48291") || IsTOTPCode("48291a") {
		t.Fatal("IsTOTPCode misclassified input")
	}
	if !IsBackupCode("12345678") || IsBackupCode("123456") {
		t.Fatal("IsBackupCode misclassified input")
	}
}
