package middleware

import (
	"net/http"
	"strings"

	"github.com/kiranshivaraju/imagehunter/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuth guards administrative routes with a single bearer key whose
// bcrypt hash is held in configuration.
type AdminAuth struct {
	keyHash []byte
}

// NewAdminAuth creates the middleware. An empty hash disables admin access.
func NewAdminAuth(keyHash string) *AdminAuth {
	return &AdminAuth{keyHash: []byte(strings.TrimSpace(keyHash))}
}

func (a *AdminAuth) Enabled() bool {
	return a != nil && len(a.keyHash) > 0
}

// Authenticate rejects requests that do not carry the admin key.
func (a *AdminAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			response.Error(w, http.StatusForbidden,
				response.CodeForbidden, "Admin access is not configured", nil)
			return
		}

		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Missing or invalid Authorization header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.keyHash, []byte(rawKey)) != nil {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Invalid admin key", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
