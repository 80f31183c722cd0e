package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
)

// PaystackSignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const PaystackSignatureHeader = "x-paystack-signature"

// Signature verification errors.
var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrEmptyBody        = errors.New("empty webhook body")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// SignatureVerifier authenticates webhook bodies signed with a shared secret.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier creates a verifier for the given shared secret.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Sign returns the lowercase hex HMAC-SHA512 digest of body.
func (v *SignatureVerifier) Sign(body []byte) string {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks that signature matches the digest of the untouched raw body.
// body must be the bytes read off the wire, before any JSON decoding.
func (v *SignatureVerifier) Verify(body []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if len(body) == 0 {
		return ErrEmptyBody
	}

	expected := v.Sign(body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
