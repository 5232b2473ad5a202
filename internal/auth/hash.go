package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Hashing policy: a deliberately expensive salted KDF. The iteration count and
// the salt/key lengths are part of the authentication contract; lowering them
// requires rehashing every stored credential.
const (
	passwordSaltLength = 64
	passwordKeyLength  = 64
	passwordIterations = 128_000
)

func generateSalt() ([]byte, error) {
	salt := make([]byte, passwordSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, passwordIterations, passwordKeyLength, sha512.New)
}

// hashPassword derives a fresh credential hash with a newly generated salt.
// Every edit goes through here, so salts are regenerated on password change.
func hashPassword(password string) (hash, salt []byte, err error) {
	salt, err = generateSalt()
	if err != nil {
		return nil, nil, err
	}
	return deriveKey(password, salt), salt, nil
}

func verifyPassword(cred Credential, candidate string) bool {
	if len(cred.PasswordHash) == 0 || len(cred.Salt) == 0 {
		return false
	}
	derived := pbkdf2.Key([]byte(candidate), cred.Salt, passwordIterations, len(cred.PasswordHash), sha512.New)
	return subtle.ConstantTimeCompare(derived, cred.PasswordHash) == 1
}
