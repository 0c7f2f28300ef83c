package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const staffEmailKey contextKey = "staffEmail"
const staffRoleKey contextKey = "staffRole"

// Reviewer roles. Deciders can approve or reject; reviewers can only
// record section verdicts.
const (
	RoleReviewer = "reviewer"
	RoleDecider  = "decider"
)

// JWTConfig holds JWT configuration for the case-working endpoints.
type JWTConfig struct {
	SecretKey string
}

// NewJWTConfig creates a new JWT config
func NewJWTConfig(secretKey string) *JWTConfig {
	if secretKey == "" {
		secretKey = "default-secret-key-change-in-production" // Default for development
	}
	return &JWTConfig{SecretKey: secretKey}
}

// Middleware authenticates staff requests. A valid Bearer token is
// required; applicant-facing routes are mounted outside this
// middleware and never pass through it.
func (c *JWTConfig) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Development mode: allow X-Staff-Email header
		staffEmail := r.Header.Get("X-Staff-Email")
		if staffEmail != "" {
			ctx := context.WithValue(r.Context(), staffEmailKey, staffEmail)
			ctx = context.WithValue(ctx, staffRoleKey, RoleDecider)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
			return
		}

		tokenString := parts[1]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(c.SecretKey), nil
		})

		if err != nil || !token.Valid {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			email, _ := claims["sub"].(string)
			role, _ := claims["role"].(string)
			if email == "" {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}
			if role == "" {
				role = RoleReviewer
			}

			ctx := context.WithValue(r.Context(), staffEmailKey, email)
			ctx = context.WithValue(ctx, staffRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		http.Error(w, "Invalid token claims", http.StatusUnauthorized)
	})
}

// GetStaffEmail extracts the authenticated staff email from context
func GetStaffEmail(ctx context.Context) string {
	if email, ok := ctx.Value(staffEmailKey).(string); ok {
		return email
	}
	return ""
}

// GetStaffRole extracts the staff role from context
func GetStaffRole(ctx context.Context) string {
	if role, ok := ctx.Value(staffRoleKey).(string); ok {
		return role
	}
	return ""
}
