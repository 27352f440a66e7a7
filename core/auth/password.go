package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"fathom-crm/core/utils"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

type PasswordHash struct {
	Hash string
	Salt string
}

func HashPassword(password, pepper string) (*PasswordHash, error) {
	if strings.TrimSpace(password) == "" {
		return nil, errors.New("empty password")
	}
	salt, err := utils.RandString(16)
	if err != nil {
		return nil, err
	}
	return &PasswordHash{Hash: deriveHash(password, pepper, salt), Salt: salt}, nil
}

func ParsePasswordHash(hash, salt string) (*PasswordHash, error) {
	if hash == "" || salt == "" {
		return nil, fmt.Errorf("incomplete password hash")
	}
	return &PasswordHash{Hash: hash, Salt: salt}, nil
}

func VerifyPassword(password, pepper string, ph *PasswordHash) (bool, error) {
	if ph == nil {
		return false, errors.New("no stored hash")
	}
	candidate := deriveHash(password, pepper, ph.Salt)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(ph.Hash)) == 1, nil
}

func deriveHash(password, pepper, salt string) string {
	key := argon2.IDKey([]byte(password+pepper), []byte(salt), argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(key)
}
