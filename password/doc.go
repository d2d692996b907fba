// Package password hashes and verifies account passwords.
//
// New hashes are Argon2id in PHC string form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes imported from a hosted auth provider are usually bcrypt
// ($2a$/$2b$/$2y$). Those still verify, and [Hasher.NeedsUpgrade] reports
// true for them so the caller can rehash after a successful sign-in.
//
// The package never stores or logs plaintext.
package password
