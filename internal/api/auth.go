package api

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// withAuth requires the configured API key on every route except the
// status endpoints. The key may arrive as a bearer token, an X-API-Key
// header, or (for browser WebSocket clients) an api_key query parameter.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.cfg.APIKeyHash == "" {
		return next
	}
	hash := []byte(s.cfg.APIKeyHash)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		key := presentedKey(r)
		if key == "" || bcrypt.CompareHashAndPassword(hash, []byte(key)) != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="turinglab"`)
			s.errorResponse(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func presentedKey(r *http.Request) string {
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	if v := r.Header.Get("X-API-Key"); v != "" {
		return v
	}
	return r.URL.Query().Get("api_key")
}

// HashAPIKey returns the bcrypt hash to store in listen.api_key_hash.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
