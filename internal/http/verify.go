package httpx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const verifyPrefix = "verify-"

// VerifyPayload is returned for verify-<token> identifiers. These requests
// never reach the classifier.
type VerifyPayload struct {
	Status    string `json:"status"`
	Token     string `json:"token"`
	Verified  bool   `json:"verified"`
	TS        string `json:"ts"`
	Signature string `json:"signature,omitempty"`
}

// Verifier signs verification tokens with VERIFY_SECRET.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier. An empty secret disables signatures.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Sign returns the hex HMAC-SHA256 of token, or "" without a secret.
func (v *Verifier) Sign(token string) string {
	if len(v.secret) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) Payload(token string) VerifyPayload {
	return VerifyPayload{
		Status:    "ok",
		Token:     token,
		Verified:  true,
		TS:        v.now().UTC().Format(time.RFC3339),
		Signature: v.Sign(token),
	}
}

// verifyToken splits a verify-<token> identifier. ok is false for ids
// without the prefix.
func verifyToken(id string) (token string, ok bool) {
	if !strings.HasPrefix(id, verifyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(id, verifyPrefix), true
}
