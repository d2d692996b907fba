package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	credentialKey = "authflow.biometric.credential"
	enabledKey    = "authflow.biometric.enabled"
)

// Credential is the email and password replayed by biometric sign-in.
type Credential struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// BiometricStore manages the single stored credential.
type BiometricStore struct {
	v Vault
}

func NewBiometricStore(v Vault) *BiometricStore {
	return &BiometricStore{v: v}
}

// Enable stores c, replacing any earlier credential, then sets the flag.
func (s *BiometricStore) Enable(c Credential) error {
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return errors.New("vault: credential requires email and password")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	defer clear(raw)
	if err := s.v.Store(credentialKey, raw); err != nil {
		return err
	}
	return s.v.Store(enabledKey, []byte{1})
}

// Disable clears the flag first so a half-finished disable reads as disabled.
func (s *BiometricStore) Disable() error {
	errFlag := s.v.Delete(enabledKey)
	errCred := s.v.Delete(credentialKey)
	return errors.Join(errFlag, errCred)
}

// Enabled reports whether the flag is set and a credential exists.
func (s *BiometricStore) Enabled() (bool, error) {
	flag, err := s.v.Read(enabledKey)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(flag) != 1 || flag[0] != 1 {
		return false, nil
	}
	if _, err := s.v.Read(credentialKey); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Load returns the stored credential, or ErrNotFound when biometric sign-in
// is not enabled.
func (s *BiometricStore) Load() (Credential, error) {
	ok, err := s.Enabled()
	if err != nil {
		return Credential{}, err
	}
	if !ok {
		return Credential{}, ErrNotFound
	}
	raw, err := s.v.Read(credentialKey)
	if err != nil {
		return Credential{}, err
	}
	defer clear(raw)
	var c Credential
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return c, nil
}
