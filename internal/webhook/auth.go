package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
)

// MinSecretLength is the recommended floor for the shared secret. Shorter
// secrets still work but get a startup warning.
const MinSecretLength = 32

// tokenMatches compares a presented token against the configured secret in
// constant time. Both values are hashed first so the comparison time does
// not depend on either length.
func tokenMatches(token, secret string) bool {
	if secret == "" {
		return false
	}
	a := sha256.Sum256([]byte(token))
	b := sha256.Sum256([]byte(secret))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
