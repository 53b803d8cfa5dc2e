package testutil

import (
	"time"

	"chatworks/pkg/auth"

	"github.com/golang-jwt/jwt/v5"
)

// JWTTestHelper mints session tokens for handler and hub tests.
type JWTTestHelper struct {
	Secret []byte
}

func NewJWTTestHelper() *JWTTestHelper {
	return &JWTTestHelper{Secret: []byte("test-secret-for-unit-tests")}
}

// GenerateValidJWT returns a token the middleware under test will accept.
func (h *JWTTestHelper) GenerateValidJWT(userID, username, phone string) (string, error) {
	return auth.GenerateJWT(userID, username, phone, h.Secret)
}

// GenerateExpiredJWT returns a token that expired an hour ago.
func (h *JWTTestHelper) GenerateExpiredJWT(userID, username, phone string) (string, error) {
	claims := &auth.Claims{
		UserID:   userID,
		Username: username,
		Phone:    phone,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.Secret)
}

// GenerateJWTWithWrongSecret returns a well-formed token signed with a
// different secret.
func (h *JWTTestHelper) GenerateJWTWithWrongSecret(userID, username, phone string) (string, error) {
	return auth.GenerateJWT(userID, username, phone, []byte("wrong-secret"))
}
