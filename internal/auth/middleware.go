// Package auth is the admin gate in front of the panel API. It resolves a
// bearer token to an identity and rejects everything else; the panel treats
// the rest of authentication as somebody else's problem.
package auth

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/skyportlabs/panel/internal/config"
)

// Identity is who the gate let through.
type Identity struct {
	UserID   string
	Username string
	IsAdmin  bool
}

type ctxKey string

const identityKey ctxKey = "identity"

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// ClientIP extracts the caller's address for audit attribution.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type Gate struct {
	tokens []config.AdminToken
}

func NewGate(cfg config.AuthConfig) *Gate {
	return &Gate{tokens: cfg.AdminTokens}
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			deny(w, http.StatusUnauthorized, "unauthorized", "Missing API token.")
			return
		}
		for _, t := range g.tokens {
			if subtle.ConstantTimeCompare([]byte(token), []byte(t.Token)) == 1 {
				id := Identity{UserID: t.UserID, Username: t.Username, IsAdmin: true}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
				return
			}
		}
		deny(w, http.StatusForbidden, "forbidden", "Admin access required.")
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
}

func deny(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"success":false,"error":{"code":"` + errCode + `","message":"` + message + `"}}`))
}
