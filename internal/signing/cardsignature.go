package signing

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/A2AReg/a2a-registry/pkg/agentcard"
)

// CardVerifier cryptographically verifies an Agent Card's Signature field
// against the JWKS advertised at Signature.JWKSURL. This type only answers
// "does the signature check out"; no publish or federation sync path calls
// it, so a card's signature is not verified when it is stored.
type CardVerifier struct {
	httpClient *http.Client
}

// NewCardVerifier creates a CardVerifier with the given fetch timeout.
func NewCardVerifier(timeout time.Duration) *CardVerifier {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &CardVerifier{httpClient: &http.Client{Timeout: timeout}}
}

// Verify fetches the JWKS at card.Signature.JWKSURL and checks that
// Signature.Signature is a valid RS256 signature (over the base64url
// "protected" header concatenated with the card's canonical bytes, in the
// JWS detached-content convention) by one of the advertised keys.
func (v *CardVerifier) Verify(ctx context.Context, card *agentcard.Card) error {
	if card.Signature == nil {
		return fmt.Errorf("signing: card has no signature to verify")
	}
	if card.Signature.JWKSURL == "" {
		return fmt.Errorf("signing: signature has no jwksUrl, cannot verify")
	}

	keys, err := v.fetchJWKS(ctx, card.Signature.JWKSURL)
	if err != nil {
		return fmt.Errorf("signing: fetch jwks: %w", err)
	}

	canon, err := agentcard.Canonicalize(card)
	if err != nil {
		return fmt.Errorf("signing: canonicalize card: %w", err)
	}
	signingInput := card.Signature.Protected + "." + base64.RawURLEncoding.EncodeToString(canon)
	digest := sha256.Sum256([]byte(signingInput))

	sigBytes, err := base64.RawURLEncoding.DecodeString(card.Signature.Signature)
	if err != nil {
		return fmt.Errorf("signing: decode signature: %w", err)
	}

	var lastErr error
	for _, k := range keys.Keys {
		pub, err := jwkToRSAPublicKey(k)
		if err != nil {
			lastErr = err
			continue
		}
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sigBytes); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no keys in jwks")
	}
	return fmt.Errorf("signing: no key in jwks verified the signature: %w", lastErr)
}

func (v *CardVerifier) fetchJWKS(ctx context.Context, jwksURL string) (*JWKSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, jwksURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var set JWKSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	return &set, nil
}

func jwkToRSAPublicKey(k JWK) (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// unusedPEMHelpers keeps x509/pem imports honest if a future caller needs
// to load a PEM-encoded RSA key directly instead of via JWKS; currently
// unreferenced paths are trimmed, not stubbed.
var _ = pem.Decode
var _ = x509.ParsePKCS1PublicKey
