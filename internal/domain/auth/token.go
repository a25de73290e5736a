package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "nerfbot-server"

	// RoleAdmin grants the gun and ledger admin routes.
	RoleAdmin = "admin"
)

var (
	ErrEmptySecret  = errors.New("auth token secret is empty")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the registered claims plus the operator role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminToken signs and verifies operator JWTs.
type AdminToken struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewAdminToken builds a token helper using the provided secret.
func NewAdminToken(secretKey string) *AdminToken {
	return &AdminToken{
		secretKey: []byte(secretKey),
		ttl:       time.Hour,
		now:       time.Now,
	}
}

// WithTTL allows customising the expiration duration.
func (at *AdminToken) WithTTL(ttl time.Duration) *AdminToken {
	if ttl > 0 {
		at.ttl = ttl
	}
	return at
}

// WithClock replaces the time source used for iat/exp.
func (at *AdminToken) WithClock(now func() time.Time) *AdminToken {
	if now != nil {
		at.now = now
	}
	return at
}

// GenerateToken issues a JWT for subject and returns its expiry.
func (at *AdminToken) GenerateToken(subject, role string) (string, time.Time, error) {
	if at == nil {
		return "", time.Time{}, errors.New("auth token is nil")
	}
	if len(at.secretKey) == 0 {
		return "", time.Time{}, ErrEmptySecret
	}

	issuedAt := at.now()
	expireTime := issuedAt.Add(at.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expireTime),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(at.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, expireTime, nil
}

// VerifyToken validates the JWT and returns its claims.
func (at *AdminToken) VerifyToken(tokenString string) (*Claims, error) {
	if at == nil {
		return nil, errors.New("auth token is nil")
	}
	if len(at.secretKey) == 0 {
		return nil, ErrEmptySecret
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return at.secretKey, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(at.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
