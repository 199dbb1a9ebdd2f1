package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// argon2idParams defines OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      46 * 1024, // 46 MiB, the OWASP minimum
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashSecret returns an Argon2id hash of the secret in PHC format.
// Format: $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashSecret(secret string) (string, error) {
	return argon2id.CreateHash(secret, argon2idParams)
}

// IsSecretHash reports whether s looks like a PHC Argon2id hash.
func IsSecretHash(s string) bool {
	return strings.HasPrefix(s, "$argon2id$")
}

// VerifySecret checks a secret against a stored Argon2id hash.
// Returns (false, ErrUnknownHashType) for anything that is not Argon2id.
func VerifySecret(secret, storedHash string) (bool, error) {
	if !IsSecretHash(storedHash) {
		return false, ErrUnknownHashType
	}
	return safeArgon2idCompare(secret, storedHash)
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic recovery.
// The argon2 library panics on hashes with invalid parameters (t=0, p=0).
func safeArgon2idCompare(secret, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(secret, storedHash)
}
