package identity

import (
	"errors"

	"commune/cmd/security/password"
)

// PasswordHasher applies the configured Argon2id parameters and policy.
type PasswordHasher struct {
	cfg       password.Config
	dummyHash string
}

// NewPasswordHasher builds a hasher from an explicit config.
func NewPasswordHasher(cfg password.Config) *PasswordHasher {
	h := &PasswordHasher{cfg: cfg}
	// Used to equalize timing when the account does not exist.
	dummy := password.Config{Params: cfg.Params, Policy: password.Policy{MinLength: 1, MaxLength: 1024}}
	if enc, err := dummy.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = enc
	}
	return h
}

// PasswordHasherFromEnv reads COMMUNE_PASSWORD_* and COMMUNE_ARGON2_*.
func PasswordHasherFromEnv() (*PasswordHasher, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	return NewPasswordHasher(cfg), nil
}

// Hash validates the password against policy and returns a PHC string.
func (h *PasswordHasher) Hash(op, plain string) (string, error) {
	enc, err := h.cfg.Hash(plain)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort):
			return "", invalid(op, "password is too short")
		case errors.Is(err, password.ErrPasswordTooLong):
			return "", invalid(op, "password is too long")
		case errors.Is(err, password.ErrWeakPassword):
			return "", invalid(op, "password is too weak")
		default:
			return "", err
		}
	}
	return enc, nil
}

// Verify compares plain against an encoded hash in constant time.
func (h *PasswordHasher) Verify(plain, encoded string) (bool, error) {
	return h.cfg.Verify(encoded, plain)
}

// VerifyDummy burns the same work as Verify for a missing account.
func (h *PasswordHasher) VerifyDummy(plain string) {
	if h.dummyHash != "" {
		_, _ = h.cfg.Verify(h.dummyHash, plain)
	}
}
