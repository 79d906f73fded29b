package tokens

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Hasher derives the stored form of a refresh token: HMAC-SHA256 when a key
// is configured, plain SHA-256 otherwise.
type Hasher struct {
	key []byte
}

func NewHasher(key string) Hasher {
	if key == "" {
		return Hasher{}
	}
	return Hasher{key: []byte(key)}
}

// Hash returns the hex encoded digest of token.
func (h Hasher) Hash(token string) string {
	if len(h.key) == 0 {
		sum := sha256.Sum256([]byte(token))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, h.key)
	m.Write([]byte(token))
	return hex.EncodeToString(m.Sum(nil))
}
