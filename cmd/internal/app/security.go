package app

import (
	"errors"
	"strings"

	"commune/cmd/internal/auth/session"
)

// ValidateSecurityConfig enforces the startup security policy.
// With RequireSigningKey set, an ephemeral PASETO key is refused.
func ValidateSecurityConfig(cfg Config, sess session.Config) error {
	if !cfg.RequireSigningKey {
		return nil
	}
	if strings.TrimSpace(sess.PasetoV4SecretKeyHex) == "" {
		return errors.New("security policy: COMMUNE_REQUIRE_SIGNING_KEY=true but COMMUNE_PASETO_V4_SECRET_KEY_HEX is missing")
	}
	return nil
}
