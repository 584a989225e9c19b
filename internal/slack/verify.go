package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderSignature = "X-Slack-Signature"

	signatureVersion     = "v0"
	DefaultMaxRequestAge = 300 * time.Second
)

var (
	ErrMissingHeaders   = errors.New("missing signature headers")
	ErrInvalidTimestamp = errors.New("invalid request timestamp")
	ErrStaleTimestamp   = errors.New("request timestamp outside allowed window")
	ErrInvalidSignature = errors.New("invalid request signature")
)

// Verifier checks that a request body was signed by the platform with the
// shared signing secret and is recent enough not to be a replay.
type Verifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

func NewVerifier(signingSecret string, maxAge time.Duration) *Verifier {
	if maxAge <= 0 {
		maxAge = DefaultMaxRequestAge
	}
	return &Verifier{
		secret: []byte(signingSecret),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Verify authenticates first, then checks freshness.
func (v *Verifier) Verify(timestamp, signature string, body []byte) error {
	timestamp = strings.TrimSpace(timestamp)
	signature = strings.TrimSpace(signature)
	if timestamp == "" || signature == "" {
		return ErrMissingHeaders
	}

	expected := Sign(v.secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	age := v.now().Sub(time.Unix(seconds, 0))
	if age < 0 {
		age = -age
	}
	if age > v.maxAge {
		return ErrStaleTimestamp
	}
	return nil
}

// Sign computes the v0 signature header value for a request.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}
