// Package password implements Argon2id hashing and the clinic password policy.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verification reads the cost parameters from the stored string, so hashes
// made under an older configuration keep verifying after a cost increase.
//
// # Policy
//
// [Policy.Validate] checks length, character classes, the local common-password
// list, Shannon-style pool entropy and, optionally, the Pwned Passwords range
// API. The remote lookup never decides silently: its outage behavior is the
// explicit [OnUnavailable] value the policy was built with.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other clinicauth package.
//   - Log plaintext passwords, hash prefixes, or hash parameters.
package password
