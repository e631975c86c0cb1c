// Package middleware содержит HTTP middleware сервиса сверки платежей.
package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

// HeaderAdminKey — заголовок с ключом администратора.
const HeaderAdminKey = "X-Admin-Key"

// AdminAuth пропускает запросы только с верным ключом администратора.
type AdminAuth struct {
	keyHash [sha256.Size]byte
	enabled bool
}

// NewAdminAuth создаёт проверку ключа администратора. При пустом ключе все запросы отклоняются.
func NewAdminAuth(key string) *AdminAuth {
	key = strings.TrimSpace(key)
	return &AdminAuth{
		keyHash: sha256.Sum256([]byte(key)),
		enabled: key != "",
	}
}

// Middleware проверяет заголовок X-Admin-Key или токен Bearer.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		if !a.valid(presentedKey(r)) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) valid(key string) bool {
	if key == "" {
		return false
	}
	sum := sha256.Sum256([]byte(key))
	return hmac.Equal(sum[:], a.keyHash[:])
}

func presentedKey(r *http.Request) string {
	if key := r.Header.Get(HeaderAdminKey); key != "" {
		return strings.TrimSpace(key)
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
