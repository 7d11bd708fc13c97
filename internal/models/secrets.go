package models

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
)

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateTempPassword returns a random temporary admin password. The
// customer is told to change it after first login.
func GenerateTempPassword(length int) string {
	if length <= 0 {
		length = 12
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("secrets: crypto/rand unavailable: " + err.Error())
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out)
}

// GenerateSecretKey returns a URL-safe application secret for a new instance.
func GenerateSecretKey() string {
	buf := make([]byte, 50)
	if _, err := rand.Read(buf); err != nil {
		panic("secrets: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
