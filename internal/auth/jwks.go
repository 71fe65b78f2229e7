package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"

	"crypto/x509"
)

// JWK mirrors the subset of RFC 7517 the coordinator needs to publish: an
// RSA public key keyed by kid. Field layout grounded on the teacher's
// OIDC-verifier jwk struct (services/oidc_verifier.go), mirrored here for
// the encode direction instead of decode.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Jwks is the RFC 7517 JWK set document served at /v1/auth/.well-known/jwks.
type Jwks struct {
	Keys []JWK `json:"keys"`
}

// PublicJWKS renders the verification key as a JWK set suitable for the
// /jwks endpoint.
func PublicJWKS(keyID string, pub *rsa.PublicKey) Jwks {
	eBytes := bigEndianBytes(pub.E)
	return Jwks{
		Keys: []JWK{{
			Kty: "RSA",
			Kid: keyID,
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(eBytes),
		}},
	}
}

func bigEndianBytes(e int) []byte {
	if e == 0 {
		return []byte{0}
	}
	var b []byte
	for e > 0 {
		b = append([]byte{byte(e & 0xff)}, b...)
		e >>= 8
	}
	return b
}

// LoadRSAPrivateKey reads a PEM-encoded PKCS#1 or PKCS#8 RSA private key
// from disk, the form the coordinator's signing key is provisioned as.
func LoadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}
