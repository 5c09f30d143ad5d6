// Package crypto шифрует биржевые API-ключи для хранения вне памяти процесса
// и хеширует админский токен для HTTP-аутентификации.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
)

// Encrypt шифрует plaintext через AES-256-GCM и возвращает base64-строку.
// Nonce случайный и хранится в начале шифротекста.
func Encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != 32 {
		return "", ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// GCM добавляет аутентификационный тег, подмена обнаруживается при расшифровке
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает base64-строку, полученную из Encrypt
func Decrypt(ciphertextBase64 string, key []byte) (string, error) {
	if len(key) != 32 {
		return "", ErrInvalidKeyLength
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// EncryptWithKeyString шифрует со строковым ключом из переменной окружения
func EncryptWithKeyString(plaintext, keyString string) (string, error) {
	return Encrypt(plaintext, []byte(keyString))
}

// DecryptWithKeyString расшифровывает со строковым ключом из переменной окружения
func DecryptWithKeyString(ciphertextBase64, keyString string) (string, error) {
	return Decrypt(ciphertextBase64, []byte(keyString))
}
