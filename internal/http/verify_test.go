package httpx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifierSign(t *testing.T) {
	t.Run("hex hmac of the token", func(t *testing.T) {
		mac := hmac.New(sha256.New, []byte("s3cret"))
		mac.Write([]byte("domain-42"))
		want := hex.EncodeToString(mac.Sum(nil))

		assert.Equal(t, want, NewVerifier("s3cret").Sign("domain-42"))
	})

	t.Run("no secret, no signature", func(t *testing.T) {
		v := NewVerifier("")
		assert.Empty(t, v.Sign("domain-42"))
		assert.Empty(t, v.Payload("domain-42").Signature)
	})
}

func TestVerifierPayload(t *testing.T) {
	v := NewVerifier("s3cret")
	v.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	p := v.Payload("domain-42")
	assert.Equal(t, VerifyPayload{
		Status:    "ok",
		Token:     "domain-42",
		Verified:  true,
		TS:        "2026-03-01T12:00:00Z",
		Signature: v.Sign("domain-42"),
	}, p)
}

func TestVerifyToken(t *testing.T) {
	tests := []struct {
		id    string
		token string
		ok    bool
	}{
		{"verify-abc", "abc", true},
		{"verify-", "", true},
		{"spring-sale", "", false},
		{"verifyabc", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			token, ok := verifyToken(tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, token)
		})
	}
}
