package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quantonganh/bulletin"
)

// RoleAdmin is the role claim required by the admin routes
const RoleAdmin = "admin"

// Claims is the JWT payload of an admin token
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SignToken creates an HS256 token carrying role, valid for ttl.
func SignToken(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.authorize(r); err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(r *http.Request) error {
	const op = "http.authorize"

	header := r.Header.Get("Authorization")
	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == "" || tokenString == header {
		return &bulletin.Error{Code: bulletin.ErrUnauthorized, Op: op, Message: "Missing bearer token."}
	}
	if s.JWTSecret == "" {
		return &bulletin.Error{Code: bulletin.ErrUnauthorized, Op: op, Message: "Admin access is not configured."}
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return &bulletin.Error{Code: bulletin.ErrUnauthorized, Op: op, Message: "Invalid or expired token.", Err: err}
	}

	if claims.Role != RoleAdmin {
		return &bulletin.Error{Code: bulletin.ErrForbidden, Op: op, Message: "Admin role required."}
	}

	return nil
}
