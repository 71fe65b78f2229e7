package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// HashSecret hashes a bootstrap_secret for storage; the secret itself is
// never persisted, per §4.2's credential storage contract.
func HashSecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifySecret compares a candidate secret against its stored hash using
// bcrypt's constant-time comparison.
func VerifySecret(hash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}
