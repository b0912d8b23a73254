package jwtutil

import (
	"crypto/rsa"
	"errors"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

// Claims identify an operator of the admin API. UserID is recorded as the
// actor of every command the token authorizes.
type Claims struct {
	UserID      string   `json:"uid"`
	Role        string   `json:"role"`
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

func NewClaims(userID, role string, perms []string, expiry time.Duration) *Claims {
	now := time.Now().UTC()
	claims := &Claims{
		UserID:      userID,
		Role:        role,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return claims
}

func GenerateAccessToken(claims *Claims, privateKey *rsa.PrivateKey) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(privateKey)
}

func ParseAccessToken(tokenStr string, publicKey *rsa.PublicKey) (*Claims, error) {
	if publicKey == nil {
		return nil, errors.New("jwt public key not configured")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}

// LoadPublicKeyFile reads a PEM encoded RSA public key.
func LoadPublicKeyFile(path string) (*rsa.PublicKey, error) {
	raw, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(raw)
}

// LoadPrivateKeyFile reads a PEM encoded RSA private key. Only the token
// subcommand needs it; the server verifies with the public key alone.
func LoadPrivateKeyFile(path string) (*rsa.PrivateKey, error) {
	raw, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPrivateKeyFromPEM(raw)
}

func readKeyFile(path string) ([]byte, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return nil, errors.New("key file path is empty")
	}
	// #nosec G304 -- path comes from operator configuration.
	return os.ReadFile(clean)
}
