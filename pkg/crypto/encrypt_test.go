package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

// 32 байта, как требует AES-256
var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty string", ""},
		{"api key", "bybit-key-abc123def456"},
		{"api secret", "very-long-secret-with-symbols!@#$%"},
		{"unicode", "ключ 密钥"},
		{"long value", strings.Repeat("x", 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := Encrypt(tt.plaintext, testKey)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}

			if _, err := base64.StdEncoding.DecodeString(encrypted); err != nil {
				t.Errorf("Encrypted result is not valid base64: %v", err)
			}

			decrypted, err := Decrypt(encrypted, testKey)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("Decrypted text mismatch: got %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

// Одинаковый plaintext должен давать разный шифротекст (случайный nonce)
func TestEncryptNonceIsRandom(t *testing.T) {
	first, _ := Encrypt("same secret", testKey)
	second, _ := Encrypt("same secret", testKey)

	if first == second {
		t.Error("two encryptions of the same text should produce different ciphertexts")
	}
}

func TestEncryptDecryptKeyLength(t *testing.T) {
	valid, _ := Encrypt("test", testKey)

	for _, n := range []int{0, 16, 31, 33, 64} {
		key := make([]byte, n)
		if _, err := Encrypt("test", key); err != ErrInvalidKeyLength {
			t.Errorf("Encrypt with %d byte key: got error %v, want %v", n, err, ErrInvalidKeyLength)
		}
		if _, err := Decrypt(valid, key); err != ErrInvalidKeyLength {
			t.Errorf("Decrypt with %d byte key: got error %v, want %v", n, err, ErrInvalidKeyLength)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	otherKey := []byte("fedcba9876543210fedcba9876543210")

	encrypted, _ := Encrypt("secret data", testKey)
	if _, err := Decrypt(encrypted, otherKey); err != ErrDecryptionFailed {
		t.Errorf("Decrypt with wrong key: got error %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	tests := []struct {
		name       string
		ciphertext string
		wantErr    error
	}{
		{"not base64", "not-valid-base64!!!", ErrInvalidCiphertext},
		{"shorter than nonce", "YWJj", ErrCiphertextTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(tt.ciphertext, testKey); err != tt.wantErr {
				t.Errorf("Decrypt(%q): got error %v, want %v", tt.ciphertext, err, tt.wantErr)
			}
		})
	}
}

// Изменение любого байта шифротекста ломает аутентификацию GCM
func TestDecryptTamperedCiphertext(t *testing.T) {
	encrypted, _ := Encrypt("original data", testKey)

	decoded, _ := base64.StdEncoding.DecodeString(encrypted)
	decoded[len(decoded)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(decoded)

	if _, err := Decrypt(tampered, testKey); err != ErrDecryptionFailed {
		t.Errorf("Decrypt tampered ciphertext: got error %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestEncryptDecryptWithKeyString(t *testing.T) {
	keyString := "12345678901234567890123456789012"

	encrypted, err := EncryptWithKeyString("test data", keyString)
	if err != nil {
		t.Fatalf("EncryptWithKeyString failed: %v", err)
	}

	decrypted, err := DecryptWithKeyString(encrypted, keyString)
	if err != nil {
		t.Fatalf("DecryptWithKeyString failed: %v", err)
	}
	if decrypted != "test data" {
		t.Errorf("Got %q, want %q", decrypted, "test data")
	}

	if _, err := EncryptWithKeyString("test", "short"); err != ErrInvalidKeyLength {
		t.Errorf("EncryptWithKeyString with short key: got error %v, want %v", err, ErrInvalidKeyLength)
	}
}
