package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body
const SignatureHeader = "X-Webhook-Signature"

// Verifier checks webhook signatures
type Verifier struct {
	secret []byte
}

// NewVerifier creates a new webhook verifier; an empty secret disables checks
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether signatures are required
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify reports whether signature matches body. Accepts "sha256=<hex>" or bare hex.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if !v.Enabled() {
		return true
	}

	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) != sha256.Size {
		return false
	}

	return hmac.Equal(got, v.Sign(body))
}

// Sign computes the raw HMAC for body
func (v *Verifier) Sign(body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return mac.Sum(nil)
}
