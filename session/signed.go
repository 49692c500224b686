package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// legacyPrefix marks cookie values carrying an HMAC-signed session identifier
// issued before the JWT format was introduced.
const legacyPrefix = "s:"

// signValue produces "value.signature" where the signature is the standard
// base64 HMAC-SHA256 of the value with trailing padding stripped. This is the
// wire format of pre-JWT signed session cookies.
func signValue(value, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(value))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return value + "." + strings.TrimRight(sig, "=")
}

// unsignValue verifies a signed value against each secret in order, returning
// the embedded value for the first secret that matches. Secrets are ordered
// newest first so rotated secrets keep old cookies valid.
func unsignValue(signed string, secrets []string) (string, bool) {
	i := strings.LastIndexByte(signed, '.')
	if i < 0 {
		return "", false
	}
	value := signed[:i]
	for _, secret := range secrets {
		expected := signValue(value, secret)
		if subtle.ConstantTimeCompare([]byte(signed), []byte(expected)) == 1 {
			return value, true
		}
	}
	return "", false
}
