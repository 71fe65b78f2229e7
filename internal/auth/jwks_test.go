package auth

import "testing"

func TestPublicJWKS_RendersOneKeyWithExpectedFields(t *testing.T) {
	key := testKeyPair(t)
	jwks := PublicJWKS("kid-1", &key.PublicKey)

	if len(jwks.Keys) != 1 {
		t.Fatalf("expected exactly one key, got %d", len(jwks.Keys))
	}
	k := jwks.Keys[0]
	if k.Kty != "RSA" || k.Kid != "kid-1" || k.Use != "sig" || k.Alg != "RS256" {
		t.Fatalf("unexpected key metadata: %+v", k)
	}
	if k.N == "" || k.E == "" {
		t.Fatal("expected non-empty modulus and exponent")
	}
}

func TestPublicJWKS_DifferentKeysProduceDifferentModulus(t *testing.T) {
	key1 := testKeyPair(t)
	key2 := testKeyPair(t)

	jwks1 := PublicJWKS("kid-1", &key1.PublicKey)
	jwks2 := PublicJWKS("kid-2", &key2.PublicKey)

	if jwks1.Keys[0].N == jwks2.Keys[0].N {
		t.Fatal("expected distinct keys to produce distinct moduli")
	}
}
