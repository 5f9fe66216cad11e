package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

// HMACVerifier checks a hex encoded HMAC carried in a request header.
type HMACVerifier struct {
	Header string
	Secret []byte
	Hash   func() hash.Hash
}

// NewSHA512Verifier signs with HMAC-SHA512.
func NewSHA512Verifier(header, secret string) HMACVerifier {
	return HMACVerifier{Header: header, Secret: []byte(secret), Hash: sha512.New}
}

// NewSHA256Verifier signs with HMAC-SHA256.
func NewSHA256Verifier(header, secret string) HMACVerifier {
	return HMACVerifier{Header: header, Secret: []byte(secret), Hash: sha256.New}
}

// SignatureHeader names the header carrying the signature.
func (v HMACVerifier) SignatureHeader() string { return v.Header }

// Sign returns the hex signature of body.
func (v HMACVerifier) Sign(body []byte) string {
	mac := hmac.New(v.Hash, v.Secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature against the HMAC of the raw body in
// constant time. An unset secret or an empty signature never verifies.
func (v HMACVerifier) VerifySignature(body []byte, signature string) bool {
	if len(v.Secret) == 0 || v.Hash == nil {
		return false
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(given) == 0 {
		return false
	}
	mac := hmac.New(v.Hash, v.Secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), given)
}
