// Package auth is the auth/session service (C2): short-lived bearer tokens,
// constant-time credential verification, and sliding-window rate limiting.
// Token signing follows the teacher's services.authService, generalized from
// its symmetric HS256 scheme to the asymmetric RS256 scheme the coordinator
// needs so the public verification key can be published at /jwks without
// exposing the signing secret.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the signed payload of a worker session token.
type Claims struct {
	jwt.RegisteredClaims
	Scope []string `json:"scope"`
}

// MinTokenLifetime and MaxTokenLifetime bound §3's Session lifetime band;
// the issuer rejects any configured TTL outside [600s, 1800s].
const (
	MinTokenLifetime = 600 * time.Second
	MaxTokenLifetime = 1800 * time.Second
)

// TokenIssuer signs worker session tokens with an RSA private key
// identified by KeyID, the value published in both the token header and the
// /jwks response so a verifier can select the right key.
type TokenIssuer struct {
	privateKey *rsa.PrivateKey
	keyID      string
	issuer     string
	ttl        time.Duration
}

func NewTokenIssuer(privateKey *rsa.PrivateKey, keyID, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if ttl < MinTokenLifetime || ttl > MaxTokenLifetime {
		return nil, fmt.Errorf("token ttl %s outside allowed band [%s, %s]", ttl, MinTokenLifetime, MaxTokenLifetime)
	}
	return &TokenIssuer{privateKey: privateKey, keyID: keyID, issuer: issuer, ttl: ttl}, nil
}

// Issue mints a signed bearer token for botKey carrying the scopes passed
// by the caller (the token endpoint always passes both "register" and
// "work").
func (ti *TokenIssuer) Issue(botKey string, scope []string) (tokenString string, claims Claims, err error) {
	now := time.Now().UTC()
	claims = Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   botKey,
			Audience:  jwt.ClaimStrings{"workers"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
			ID:        uuid.NewString(),
		},
		Scope: scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = ti.keyID
	signed, err := token.SignedString(ti.privateKey)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

func (ti *TokenIssuer) TTL() time.Duration { return ti.ttl }

// TokenVerifier validates bearer tokens against one or more known public
// keys, keyed by kid; issuance and verification are split so the
// coordinator can rotate signing keys by adding a new one here before
// retiring the old.
type TokenVerifier struct {
	publicKeys map[string]*rsa.PublicKey
	issuer     string
}

func NewTokenVerifier(issuer string, publicKeys map[string]*rsa.PublicKey) *TokenVerifier {
	return &TokenVerifier{publicKeys: publicKeys, issuer: issuer}
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Verify parses and validates tokenString, returning its claims. Expired and
// otherwise-invalid tokens are distinguished so callers can decide whether a
// refresh (expired) or a hard failure (tampered, wrong audience) applies.
func (tv *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience("workers"))
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := tv.publicKeys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HasScope reports whether claims grants the named scope.
func (c Claims) HasScope(name string) bool {
	for _, s := range c.Scope {
		if s == name {
			return true
		}
	}
	return false
}
