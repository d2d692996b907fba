// Package vault is device-local secret storage for the biometric sign-in
// shortcut.
//
// A Vault maps string keys to opaque byte values. File encrypts each value
// with XChaCha20-Poly1305 under a key derived from a master key, so the data
// directory alone is useless without it. BiometricStore keeps at most one
// stored credential plus the flag saying biometric sign-in is enabled.
package vault
