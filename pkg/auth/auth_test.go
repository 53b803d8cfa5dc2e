package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestPasswordHashAndCheck(t *testing.T) {
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if hash == "secret123" {
		t.Fatalf("hash must not be the plaintext password")
	}
	if !CheckPassword("secret123", hash) {
		t.Fatalf("password should match")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("password should not match")
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	secret := []byte("s3cr3t")
	token, err := GenerateJWT("user1", "alice", "+15550001111", secret)
	if err != nil {
		t.Fatalf("generate jwt: %v", err)
	}

	claims, err := ValidateJWT(token, secret)
	if err != nil {
		t.Fatalf("validate jwt: %v", err)
	}
	if claims.UserID != "user1" || claims.Username != "alice" || claims.Phone != "+15550001111" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.Issuer != "telegraph" || claims.Subject != "user1" {
		t.Fatalf("registered claims mismatch: %+v", claims.RegisteredClaims)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		t.Fatalf("expected timestamps on claims")
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		t.Fatalf("expected expiry after issue time")
	}
}

func TestValidateJWTRejections(t *testing.T) {
	secret := []byte("test-secret")

	expiredToken := func() string {
		claims := &Claims{
			UserID:   "user1",
			Username: "alice",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
				IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			},
		}
		signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		return signed
	}

	noneToken := func() string {
		claims := &Claims{
			UserID: "user1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("sign none token: %v", err)
		}
		return signed
	}

	wrongSecretToken := func() string {
		signed, _ := GenerateJWT("user1", "alice", "+15550001111", []byte("other-secret"))
		return signed
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"wrong secret", wrongSecretToken(), ErrInvalidJWT},
		{"expired token", expiredToken(), ErrExpiredJWT},
		{"none algorithm", noneToken(), ErrInvalidJWT},
		{"malformed token", "not.a.valid.jwt.token", ErrInvalidJWT},
		{"empty token", "", ErrInvalidJWT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ValidateJWT(tt.token, secret)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if claims != nil {
				t.Fatalf("expected nil claims on rejection")
			}
		})
	}
}

func TestGenerateJWTAllowsSparseIdentity(t *testing.T) {
	secret := []byte("test-secret")

	// Accounts created through the login-code flow may not have every
	// identity field populated yet.
	tests := []struct {
		name     string
		userID   string
		username string
		phone    string
	}{
		{"full identity", "user123", "alice", "+15550001111"},
		{"missing username", "user123", "", "+15550004444"},
		{"missing phone", "user123", "dave", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateJWT(tt.userID, tt.username, tt.phone, secret)
			if err != nil {
				t.Fatalf("generate jwt: %v", err)
			}
			claims, err := ValidateJWT(token, secret)
			if err != nil {
				t.Fatalf("validate jwt: %v", err)
			}
			if claims.UserID != tt.userID || claims.Username != tt.username || claims.Phone != tt.phone {
				t.Fatalf("claims mismatch: %+v", claims)
			}
		})
	}
}
