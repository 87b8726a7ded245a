package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sha1n/blog-archiver/internal/config"
)

// Realm is announced in WWW-Authenticate challenges.
const Realm = "blog-archiver"

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/health": true,
}

// IsPublicPath reports whether the request path is served without credentials.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

// verifier reports whether a request carries acceptable credentials.
type verifier func(r *http.Request) bool

// NewMiddleware creates the authentication middleware for the server settings.
func NewMiddleware(settings config.AuthSettings) (func(http.Handler) http.Handler, error) {
	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler { return next }, nil
	case config.AuthTypeBasic:
		if settings.Basic.Username == "" || settings.Basic.Password == "" {
			return nil, fmt.Errorf("basic auth requires non-empty username and password")
		}
		challenge := fmt.Sprintf("Basic realm=%q", Realm)
		return guard(basicVerifier(settings.Basic), challenge), nil
	case config.AuthTypeAPIKey:
		if len(settings.APIKeys) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one API key")
		}
		return guard(apiKeyVerifier(settings.APIKeys), ""), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}
}

// guard rejects requests that fail verify, except on public paths.
func guard(verify verifier, challenge string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicPath(r.URL.Path) || verify(r) {
				next.ServeHTTP(w, r)
				return
			}
			slog.DebugContext(r.Context(), "Rejected unauthenticated request", "path", r.URL.Path, "remote", r.RemoteAddr)
			if challenge != "" {
				w.Header().Set("WWW-Authenticate", challenge)
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

func basicVerifier(creds config.BasicAuthSettings) verifier {
	return func(r *http.Request) bool {
		user, pass, ok := r.BasicAuth()
		if !ok {
			return false
		}
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(creds.Username)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(creds.Password)) == 1
		return userMatch && passMatch
	}
}

// apiKeyVerifier accepts a key in the X-API-Key header or as a bearer token.
func apiKeyVerifier(keys []string) verifier {
	return func(r *http.Request) bool {
		key := presentedKey(r)
		if key == "" {
			return false
		}
		valid := false
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
				valid = true
			}
		}
		return valid
	}
}

func presentedKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}
