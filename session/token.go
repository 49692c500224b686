package session

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// KeyPair holds one ES256 signing key. The first pair in a Manager's key list
// signs new session tokens; every pair's public key is tried during
// verification so keys can rotate without invalidating live sessions.
type KeyPair struct {
	Public  *ecdsa.PublicKey
	Private *ecdsa.PrivateKey
}

// GenerateKeyPair creates a fresh P-256 key pair. Intended for development
// setups where no key material is configured.
func GenerateKeyPair() (KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "failed to generate ECDSA key")
	}
	return KeyPair{Public: &priv.PublicKey, Private: priv}, nil
}

// LoadKeyPairFromPEM parses a key pair from PEM-encoded private and public
// keys. The private key may be empty for verify-only deployments.
func LoadKeyPairFromPEM(privatePEM, publicPEM string) (KeyPair, error) {
	var kp KeyPair

	if privatePEM != "" {
		block, _ := pem.Decode([]byte(privatePEM))
		if block == nil {
			return kp, errors.New("failed to decode private key PEM block")
		}
		priv, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			key, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err2 != nil {
				return kp, errors.Wrap(err, "failed to parse EC private key")
			}
			ecKey, ok := key.(*ecdsa.PrivateKey)
			if !ok {
				return kp, errors.New("private key is not ECDSA")
			}
			priv = ecKey
		}
		kp.Private = priv
		kp.Public = &priv.PublicKey
	}

	if publicPEM != "" {
		block, _ := pem.Decode([]byte(publicPEM))
		if block == nil {
			return kp, errors.New("failed to decode public key PEM block")
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return kp, errors.Wrap(err, "failed to parse public key")
		}
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return kp, errors.New("public key is not ECDSA")
		}
		kp.Public = ecPub
	}

	if kp.Public == nil {
		return kp, errors.New("key pair must contain at least a public key")
	}
	return kp, nil
}

// ExportPrivateKeyPEM exports the private key as PEM.
func (kp KeyPair) ExportPrivateKeyPEM() (string, error) {
	if kp.Private == nil {
		return "", errors.New("key pair has no private key")
	}
	der, err := x509.MarshalECPrivateKey(kp.Private)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal EC private key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

// ExportPublicKeyPEM exports the public key as PEM.
func (kp KeyPair) ExportPublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.Public)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal public key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// signSessionToken issues a new ES256 session token. The payload is the given
// claim set plus a random nonce, so two sessions with identical claims still
// receive distinct identifiers. The issued claim set is returned alongside
// the token.
func signSessionToken(keys []KeyPair, claims map[string]any) (string, map[string]any, error) {
	if len(keys) == 0 || keys[0].Private == nil {
		return "", nil, errors.New("keys option with a private key is required to issue sessions")
	}

	payload := jwt.MapClaims{"nonce": randomString(16)}
	for k, v := range claims {
		payload[k] = v
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, payload).SignedString(keys[0].Private)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to sign session token")
	}
	return token, map[string]any(payload), nil
}

// verifySessionToken validates a session token against each configured public
// key in order, accepting the first that verifies. A token signed by an older
// key still listed in the rotation set therefore remains valid.
func verifySessionToken(keys []KeyPair, token string) (map[string]any, error) {
	var lastErr error
	for _, kp := range keys {
		if kp.Public == nil {
			continue
		}
		parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
			return kp.Public, nil
		}, jwt.WithValidMethods([]string{"ES256"}))
		if err != nil {
			lastErr = err
			continue
		}
		if claims, ok := parsed.Claims.(jwt.MapClaims); ok {
			return map[string]any(claims), nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no verification keys configured")
	}
	return nil, errors.Wrap(lastErr, "session token did not verify against any key")
}

// randomString creates a random base64url string of the given length in
// characters.
func randomString(length int) string {
	b := make([]byte, (length*6+7)/8+1)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}
