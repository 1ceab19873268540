package idptest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// keyPair is the provider's token signing key
type keyPair struct {
	keyID      string
	privateKey *rsa.PrivateKey
}

// jwks is the JSON Web Key Set served at the certs endpoint
type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func generateRSAKeyPair(keyID string, bits int) (*keyPair, error) {
	if bits < 2048 {
		bits = 2048
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &keyPair{keyID: keyID, privateKey: privateKey}, nil
}

// toJWK converts the public half to JWK format
func (kp *keyPair) toJWK() jwk {
	pub := kp.privateKey.PublicKey
	return jwk{
		Kty: "RSA",
		Use: "sig",
		Kid: kp.keyID,
		Alg: jwtlib.SigningMethodRS256.Alg(),
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func (kp *keyPair) sign(claims jwtlib.MapClaims) (string, error) {
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	token.Header["kid"] = kp.keyID
	return token.SignedString(kp.privateKey)
}
