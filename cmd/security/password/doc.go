// Package password hashes and verifies account passwords with Argon2id in
// the PHC string format. Stored hashes are untrusted on Verify: costs far
// above the configured parameters are refused.
package password
