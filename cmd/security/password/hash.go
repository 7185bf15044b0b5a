package password

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Hash validates plain against the policy and returns a PHC-encoded Argon2id hash.
func (c Config) Hash(plain string) (string, error) {
	if err := c.Validate(plain); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	return phc{params: c.Params, salt: salt, key: derive(plain, salt, c.Params)}.String(), nil
}

// Verify reports whether plain matches encoded. A malformed hash, or one
// whose cost is far above c.Params, yields ErrInvalidHash.
func (c Config) Verify(encoded, plain string) (bool, error) {
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if !h.params.within(c.Params) {
		return false, ErrInvalidHash
	}
	return subtle.ConstantTimeCompare(derive(plain, h.salt, h.params), h.key) == 1, nil
}

func derive(plain string, salt []byte, p Argon2idParams) []byte {
	return argon2.IDKey([]byte(plain), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
}

// within allows hashes made with older or cheaper settings, up to twice the
// configured cost.
func (p Argon2idParams) within(limit Argon2idParams) bool {
	return p.MemoryKiB <= limit.MemoryKiB*2 &&
		p.Iterations <= limit.Iterations*2 &&
		uint32(p.Parallelism) <= uint32(limit.Parallelism)*2 &&
		p.SaltLength >= 8 && p.SaltLength <= 64 &&
		p.KeyLength >= 16 && p.KeyLength <= 128
}
