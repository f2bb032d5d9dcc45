package middleware

import (
	"crypto/subtle"
	"net/http"

	"dcabot/pkg/crypto"

	"github.com/gorilla/mux"
)

// BasicAuth - middleware аутентификации администратора
//
// Назначение:
// Защищает API endpoints через HTTP Basic Authentication.
// Пароль в конфигурации хранится только bcrypt-хешем
// (ADMIN_PASSWORD_HASH), открытый текст нигде не сохраняется.
//
// Безопасность:
// - Имя пользователя сравнивается constant-time для защиты от timing attacks
// - Пароль проверяется через bcrypt (crypto.VerifyPassword)
// - Если хеш не настроен, все запросы отклоняются с 403
func BasicAuth(username, passwordHash string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if passwordHash == "" {
				http.Error(w, "Admin API disabled. Set ADMIN_PASSWORD_HASH.", http.StatusForbidden)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}

			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passMatch := crypto.VerifyPassword(pass, passwordHash) == nil

			if !userMatch || !passMatch {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Trading bot API"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
