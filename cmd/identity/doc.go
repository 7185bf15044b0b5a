// Package identity owns users: registration, credential checks and lookup.
//
// User ids are minted by an ids.Source at creation time and never reused.
// Passwords are stored as Argon2id PHC strings produced by cmd/security/password.
package identity
