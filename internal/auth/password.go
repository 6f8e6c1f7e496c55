package auth

import "golang.org/x/crypto/bcrypt"

// APIKeyPrefixLen is how much of a merchant API key is stored in clear for lookup.
const APIKeyPrefixLen = 12

func HashAPIKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyAPIKey(plain, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

// APIKeyPrefix returns the indexed prefix of key, or "" when key is too short.
func APIKeyPrefix(key string) string {
	if len(key) < APIKeyPrefixLen {
		return ""
	}
	return key[:APIKeyPrefixLen]
}
