package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"

	"notionsync/internal/models"
)

// ValidateWebhook checks authenticity and freshness of an inbound Notion
// webhook. Fails closed: a missing header, an unparseable or stale
// timestamp, or a signature mismatch all reject the request. The expected
// signature is HMAC-SHA256 over "{timestamp}.{body}", base64-encoded.
func ValidateWebhook(secret, signature, timestamp string, body []byte, now time.Time) bool {
	if secret == "" || signature == "" || timestamp == "" {
		return false
	}

	requestTime, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Unix() - requestTime
	if skew < 0 {
		skew = -skew
	}
	// a request aged exactly the full window is still accepted
	if skew > models.WebhookSkewSeconds {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// constant-time: this gate is internet-facing
	return hmac.Equal([]byte(expected), []byte(signature))
}
