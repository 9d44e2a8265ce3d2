/**
 * @description
 * Authentication middleware for the wallet HTTP API. User routes carry an HS256 bearer
 * token whose subject is the wallet owner id; operator routes carry a shared API key.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: bearer token parsing and validation.
 */

package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const ownerIDContextKey = contextKey("ownerID")

// InternalAPIKeyHeader carries the operator key on /internal routes.
const InternalAPIKeyHeader = "X-Internal-API-Key"

// JWTAuthMiddleware validates HS256 bearer tokens and injects the subject into context.
func JWTAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}
			if secret == "" {
				writeError(w, http.StatusUnauthorized, "Token authentication is not configured")
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ownerID, err := claims.GetSubject()
			if err != nil || strings.TrimSpace(ownerID) == "" {
				writeError(w, http.StatusUnauthorized, "Subject not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDContextKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalAuthMiddleware requires the operator API key. An unset key closes the routes.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(InternalAPIKeyHeader)
			if requiredKey == "" || provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OwnerID retrieves the authenticated wallet owner from the request context.
func OwnerID(ctx context.Context) (string, bool) {
	ownerID, ok := ctx.Value(ownerIDContextKey).(string)
	return ownerID, ok
}
