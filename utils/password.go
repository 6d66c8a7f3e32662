package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateRandomPassword returns a 16 character hex password from a
// cryptographic source. Callers hand it off once (e.g. a welcome email) and
// must not persist or log it in clear.
func GenerateRandomPassword() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
