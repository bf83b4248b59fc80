package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"annotationstore/internal/annotation/model"
	"annotationstore/pkg/logger"
)

type contextKey string

const UserKey contextKey = "user"

// TokenHeader is the header annotator clients send their token in.
const TokenHeader = "X-Annotator-Auth-Token"

// UserFromContext returns the request identity, or nil for anonymous
// requests.
func UserFromContext(ctx context.Context) *model.Identity {
	u, _ := ctx.Value(UserKey).(*model.Identity)
	return u
}

// AuthMiddleware resolves the request identity from a signed token.
// Requests without a token continue anonymously; a token that does not
// verify is rejected.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get(TokenHeader)
			if auth := r.Header.Get("Authorization"); tokenString == "" && strings.HasPrefix(auth, "Bearer ") {
				tokenString = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
			if tokenString == "" {
				tokenString = r.URL.Query().Get("token")
			}
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := ParseToken(tokenString, secret)
			if err != nil {
				logger.Sugar.Infof("Invalid token: %v", err)
				http.Error(w, "Unauthorized: Invalid or expired token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseToken verifies an HMAC signed token and reads its identity claims:
// the user id from "userId" or "sub", "consumerKey" and "admin".
func ParseToken(tokenString, secret string) (*model.Identity, error) {
	if secret == "" {
		return nil, fmt.Errorf("server is not configured to validate tokens")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("token rejected: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("could not parse token claims")
	}
	user := &model.Identity{}
	if id, ok := claims["userId"].(string); ok {
		user.ID = id
	} else if sub, ok := claims["sub"].(string); ok {
		user.ID = sub
	}
	if user.ID == "" {
		return nil, fmt.Errorf("user id claim is missing or invalid")
	}
	user.ConsumerKey, _ = claims["consumerKey"].(string)
	user.IsAdmin, _ = claims["admin"].(bool)
	return user, nil
}

// IssueToken signs a token for user valid for ttl.
func IssueToken(user *model.Identity, secret string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":         user.ID,
		"userId":      user.ID,
		"consumerKey": user.ConsumerKey,
		"admin":       user.IsAdmin,
		"iat":         now.Unix(),
		"exp":         now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
