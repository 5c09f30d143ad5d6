package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyToken    = errors.New("token cannot be empty")
	ErrTokenMismatch = errors.New("token does not match hash")
	ErrInvalidHash   = errors.New("invalid token hash format")
	ErrTokenTooLong  = errors.New("token exceeds maximum length of 72 bytes")
)

// HashCost - стоимость bcrypt для админского токена. Токен проверяется
// редко (только на управляющих запросах), поэтому можно позволить дорогой хеш.
const HashCost = 12

// bcrypt использует только первые 72 байта входа
const maxTokenLength = 72

// HashToken хеширует админский токен через bcrypt со случайным salt.
// Хеш кладется в ADMIN_TOKEN_HASH, сам токен нигде не хранится.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > maxTokenLength {
		return "", ErrTokenTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), HashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken проверяет токен против bcrypt-хеша
func VerifyToken(token, hash string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrTokenMismatch
		}
		return ErrInvalidHash
	}
	return nil
}

// TokenMatches - bool-обертка над VerifyToken для использования в условиях
func TokenMatches(token, hash string) bool {
	return VerifyToken(token, hash) == nil
}
