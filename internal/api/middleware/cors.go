package middleware

import (
	"net/http"
	"os"
	"strings"
)

// allowedOrigins содержит список разрешенных доменов для CORS.
// В production дополняется из переменной окружения CORS_ALLOWED_ORIGINS.
var allowedOrigins = map[string]bool{
	"http://localhost:3000": true,
	"http://127.0.0.1:3000": true,
	"http://localhost:8080": true,
	"http://127.0.0.1:8080": true,
	"http://localhost:5173": true, // Vite dev server
	"http://127.0.0.1:5173": true,
}

func init() {
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}
}

// isOriginAllowed проверяет, разрешен ли origin
func isOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	return allowedOrigins[origin]
}

// CORS - middleware для настройки Cross-Origin Resource Sharing
//
// Позволяет браузерному frontend'у на другом домене обращаться к API.
// При credentials нельзя отдавать "*", поэтому для разрешенных origins
// устанавливается конкретный домен.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if isOriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else if origin == "" {
			// Запросы без Origin (curl, API клиенты) разрешаем
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		// Для неразрешенных origins заголовки не ставятся - браузер заблокирует

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 часа кеширования preflight

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
