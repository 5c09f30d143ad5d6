package middleware

import (
	"net/http"
	"strings"

	"tradebot/pkg/crypto"
)

// Auth - middleware авторизации управляющих эндпоинтов
//
// Сравнивает bearer-токен из Authorization с bcrypt-хешем из конфигурации.
// Пустой хеш отключает проверку: бот в paper режиме обычно живет на localhost.
func Auth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || !crypto.TokenMatches(token, tokenHash) {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
