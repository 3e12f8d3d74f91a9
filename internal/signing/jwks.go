package signing

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"net/http"

	"github.com/gin-gonic/gin"
)

// OIDCConfig is the OpenID Connect discovery document served at
// /.well-known/openid-configuration for this registry's own principal
// tokens (see internal/authz).
type OIDCConfig struct {
	Issuer                           string   `json:"issuer"`
	JWKSURI                          string   `json:"jwks_uri"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	ResponseTypesSupported          []string `json:"response_types_supported"`
	SubjectTypesSupported           []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
}

// JWKSet is a JSON Web Key Set (RFC 7517).
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWK is a JSON Web Key for an RSA public key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Provider exposes this registry's OIDC discovery and JWKS endpoints so
// that consumers holding a principal token can validate it without calling
// the registry.
type Provider struct {
	issuerURL string
	keys      *KeyManager
	kid       string
}

// NewProvider creates a Provider backed by keys.
func NewProvider(issuerURL string, keys *KeyManager, kid string) *Provider {
	return &Provider{issuerURL: issuerURL, keys: keys, kid: kid}
}

// RegisterWellKnown attaches the discovery and JWKS routes to the engine.
func (p *Provider) RegisterWellKnown(engine *gin.Engine) {
	engine.GET("/.well-known/openid-configuration", p.discoveryHandler)
	engine.GET("/.well-known/jwks.json", p.jwksHandler)
}

func (p *Provider) discoveryHandler(c *gin.Context) {
	c.JSON(http.StatusOK, OIDCConfig{
		Issuer:                           p.issuerURL,
		JWKSURI:                          p.issuerURL + "/.well-known/jwks.json",
		TokenEndpoint:                    p.issuerURL + "/oauth/token",
		ResponseTypesSupported:           []string{"token"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		GrantTypesSupported:              []string{"client_credentials"},
	})
}

func (p *Provider) jwksHandler(c *gin.Context) {
	c.JSON(http.StatusOK, JWKSet{Keys: []JWK{RSAPublicKeyToJWK(p.keys.Public(), p.kid)}})
}

// RSAPublicKeyToJWK encodes an RSA public key as a JWK (RFC 7518 §6.3).
func RSAPublicKeyToJWK(pub *rsa.PublicKey, kid string) JWK {
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())

	eBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(eBuf, uint64(pub.E))
	i := 0
	for i < len(eBuf)-1 && eBuf[i] == 0 {
		i++
	}
	e := base64.RawURLEncoding.EncodeToString(eBuf[i:])

	return JWK{Kty: "RSA", Use: "sig", Kid: kid, Alg: "RS256", N: n, E: e}
}
