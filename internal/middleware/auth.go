package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/labtracksimple/labtrack/internal/config"
	"github.com/labtracksimple/labtrack/internal/domain/user"
)

type identityCtxKey struct{}

const headerAPIKey = "X-API-Key"

// serviceKeyPaths accept the internal service key in place of a user token.
var serviceKeyPaths = map[string]bool{
	"/api/v1/functions/extract": true,
}

// Claims are the bearer token claims issued by the identity provider.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator verifies bearer tokens and the internal service key.
type Authenticator struct {
	secret         []byte
	issuer         string
	serviceKeyHash []byte
}

// NewAuthenticator creates an Authenticator from the auth config.
func NewAuthenticator(cfg config.Auth) *Authenticator {
	return &Authenticator{
		secret:         []byte(cfg.JWTSecret),
		issuer:         cfg.JWTIssuer,
		serviceKeyHash: []byte(cfg.ServiceKeyHash),
	}
}

// ParseToken validates an HS256 token and returns the identity it names.
func (a *Authenticator) ParseToken(raw string) (user.Identity, error) {
	if len(a.secret) == 0 {
		return user.Identity{}, errors.New("token auth not configured")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return user.Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return user.Identity{}, errors.New("invalid token: wrong issuer")
	}
	if claims.Subject == "" {
		return user.Identity{}, errors.New("invalid token: missing subject")
	}
	return user.Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// VerifyServiceKey reports whether key matches the configured service key hash.
func (a *Authenticator) VerifyServiceKey(key string) bool {
	if len(a.serviceKeyHash) == 0 || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.serviceKeyHash, []byte(key)) == nil
}

// Auth returns middleware that attaches the caller identity to the request
// context. Requests without credentials pass through anonymously and are
// refused by the operations that need an identity; presented credentials
// that fail verification are rejected here with 401.
func Auth(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get(headerAPIKey); key != "" {
				if !serviceKeyPaths[r.URL.Path] || !a.VerifyServiceKey(key) {
					writeAuthError(w, "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), user.Identity{Service: true})))
				return
			}

			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := a.ParseToken(token)
			if err != nil {
				writeAuthError(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// bearerToken reads the Authorization header, falling back to ?token= on the
// WebSocket endpoint where browsers cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get("token")
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, id user.Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, &id)
}

// IdentityFromContext returns the caller identity, or nil for anonymous requests.
func IdentityFromContext(ctx context.Context) *user.Identity {
	id, _ := ctx.Value(identityCtxKey{}).(*user.Identity)
	return id
}
