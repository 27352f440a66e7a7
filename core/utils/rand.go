package utils

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

func NowUTC() time.Time {
	return time.Now().UTC()
}

// RandString returns a URL-safe random string of at least n characters.
func RandString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:n], nil
}
