package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const roleAdmin = "admin"

// AdminClaims is the bearer-token payload for back-office access.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewAdminToken mints an HS256 admin token. For ops tooling and tests.
func NewAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Role: roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseAdminToken(tokenString, secret string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, bool) {
	return strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// isAdmin reports whether the request carries a valid admin token. Used
// where admin access widens an endpoint rather than gating it.
func isAdmin(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	claims, err := parseAdminToken(token, secret)
	return err == nil && claims.Role == roleAdmin
}

// RequireAdmin guards back-office routes. Expired or mis-signed tokens are
// 401; a valid token without the admin role is 403.
func RequireAdmin(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || secret == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := parseAdminToken(token, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if claims.Role != roleAdmin {
				writeError(w, http.StatusForbidden, "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
