// Package session issues and verifies the bearer access tokens of the
// commune API.
//
// Access tokens are PASETO v4.public, signed with an Ed25519 key. They carry
// the user id ("uid", decimal string) and a UUIDv7 token id ("jti").
// There is no server-side session state; a token is valid until it expires.
package session
