package auth

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Salts separating the token families signed from the one application secret.
const (
	VerificationSalt = "email-verify"
	SessionSalt      = "session"
)

// deriveKey returns HMAC-SHA256(secret, salt), so a token minted for one
// purpose never validates as another.
func deriveKey(secret, salt string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(salt))
	return mac.Sum(nil)
}
