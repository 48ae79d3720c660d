package appMiddleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	usernameKey contextKey = "username"
)

var errInvalidToken = errors.New("invalid token")

// Auth returns middleware that requires a valid bearer token and puts the
// caller's identity into the request context.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, username, err := ParseToken(TokenFromRequest(r), secret)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, username)))
		})
	}
}

// TokenFromRequest pulls the bearer token from the Authorization header, or
// from the token query parameter for clients that cannot set headers on a
// websocket dial.
func TokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if tokenStr := strings.TrimPrefix(authHeader, "Bearer "); tokenStr != authHeader {
			return tokenStr
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// ParseToken validates an HMAC-signed token and extracts the identity claims.
func ParseToken(tokenStr, secret string) (int, string, error) {
	if tokenStr == "" {
		return 0, "", errInvalidToken
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return 0, "", errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", errInvalidToken
	}
	rawID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, "", errInvalidToken
	}
	username, _ := claims["username"].(string)

	return int(rawID), username, nil
}

// WithUser returns a context carrying an authenticated identity.
func WithUser(ctx context.Context, userID int, username string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, usernameKey, username)
}

// UserID reads the authenticated user id set by Auth.
func UserID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(userIDKey).(int)
	return id, ok
}

// Username reads the authenticated username set by Auth.
func Username(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(usernameKey).(string)
	return name, ok
}
