package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/videojobs/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

const minKeyLen = 16

// Auth checks bearer API keys against a fixed set of bcrypt hashes.
type Auth struct {
	hashes [][]byte
	open   bool
}

// NewAuth creates an Auth accepting any key whose bcrypt hash is in hashes.
// With open set and no hashes configured, requests pass unauthenticated and
// are rate limited per client address.
func NewAuth(hashes []string, open bool) *Auth {
	a := &Auth{open: open && len(hashes) == 0}
	for _, h := range hashes {
		a.hashes = append(a.hashes, []byte(h))
	}
	return a
}

// Authenticate validates the Bearer token and stores the caller's rate-limit
// identity in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.open {
			r = r.WithContext(WithClientKey(r.Context(), "anon:"+clientHost(r)))
			next.ServeHTTP(w, r)
			return
		}

		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}
		if len(rawKey) < minKeyLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		for _, hash := range a.hashes {
			if bcrypt.CompareHashAndPassword(hash, []byte(rawKey)) == nil {
				r = r.WithContext(WithClientKey(r.Context(), "key:"+fingerprint(rawKey)))
				next.ServeHTTP(w, r)
				return
			}
		}

		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid API key", nil)
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

// fingerprint identifies a key in rate-limit counters without storing it.
func fingerprint(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:8])
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
