// ABOUTME: JWT verification for workers connecting to the gateway
// ABOUTME: HS256 tokens carry the worker principal and the agent types it may host

package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Principal is the identity a worker authenticated as.
type Principal struct {
	ID string
	// AgentTypes limits which agent types the worker may register.
	// Empty means any type.
	AgentTypes []string
}

// MayHost reports whether the principal is allowed to register agentType.
func (p *Principal) MayHost(agentType string) bool {
	if p == nil || len(p.AgentTypes) == 0 {
		return true
	}
	return slices.Contains(p.AgentTypes, agentType)
}

// TokenVerifier turns a bearer token into a Principal.
type TokenVerifier interface {
	Verify(tokenString string) (*Principal, error)
}

type workerClaims struct {
	AgentTypes []string `json:"agent_types,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the principal from the "sub" and
// "agent_types" claims.
func (v *JWTVerifier) Verify(tokenString string) (*Principal, error) {
	var claims workerClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return &Principal{ID: claims.Subject, AgentTypes: claims.AgentTypes}, nil
}

// Generate signs a token for principalID valid for expiresIn. agentTypes
// restricts what the worker may register; pass none for no restriction.
func (v *JWTVerifier) Generate(principalID string, expiresIn time.Duration, agentTypes ...string) (string, error) {
	now := time.Now()
	claims := workerClaims{
		AgentTypes: agentTypes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
