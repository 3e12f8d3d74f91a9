package authz

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PrincipalClaims are the JWT claims carried by a registry-issued principal
// token, adapted from the task-token claims of the registry's signing
// ancestry: subject, tenant, kind, roles and scopes replace the old
// agent-URI/task-scope pair.
type PrincipalClaims struct {
	jwt.RegisteredClaims
	Tenant string   `json:"tenant"`
	Kind   string   `json:"kind"`
	Roles  []string `json:"roles"`
	Scopes []string `json:"scopes"`
}

// Issuer issues and verifies RS256 principal tokens.
type Issuer struct {
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	issuer string
	ttl    time.Duration
}

// NewIssuer creates an Issuer backed by key, the registry's own signing key
// (internal/signing.KeyManager.Key()).
//
//	issuerURL — the "iss" claim value, the registry's base URL.
//	ttl        — token lifetime (default: 1 hour).
func NewIssuer(key *rsa.PrivateKey, issuerURL string, ttl time.Duration) *Issuer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Issuer{key: key, pub: &key.PublicKey, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed principal token.
func (iss *Issuer) Issue(p Principal) (string, error) {
	now := time.Now().UTC()
	claims := PrincipalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss.issuer,
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(iss.ttl)),
			ID:        uuid.New().String(),
		},
		Tenant: p.Tenant,
		Kind:   string(p.Kind),
		Roles:  p.Roles,
		Scopes: p.Scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(iss.key)
	if err != nil {
		return "", fmt.Errorf("authz: sign principal token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a principal token, returning the Principal it
// encodes.
func (iss *Issuer) Verify(tokenStr string) (Principal, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&PrincipalClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return iss.pub, nil
		},
		jwt.WithIssuer(iss.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("authz: verify principal token: %w", err)
	}
	claims, ok := token.Claims.(*PrincipalClaims)
	if !ok || !token.Valid {
		return Principal{}, fmt.Errorf("authz: invalid principal token claims")
	}
	return Principal{
		Subject: claims.Subject,
		Tenant:  claims.Tenant,
		Kind:    Kind(claims.Kind),
		Roles:   claims.Roles,
		Scopes:  claims.Scopes,
	}, nil
}
