package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", timestamp, body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateWebhook(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"page"}`)
	now := time.Unix(1_700_000_000, 0)

	ts := fmt.Sprint(now.Unix())
	assert.True(t, ValidateWebhook(secret, sign(secret, ts, body), ts, body, now))

	t.Run("wrong secret", func(t *testing.T) {
		assert.False(t, ValidateWebhook(secret, sign("other", ts, body), ts, body, now))
	})

	t.Run("tampered body", func(t *testing.T) {
		assert.False(t, ValidateWebhook(secret, sign(secret, ts, body), ts, []byte(`{"type":"evil"}`), now))
	})

	t.Run("missing pieces fail closed", func(t *testing.T) {
		assert.False(t, ValidateWebhook(secret, "", ts, body, now))
		assert.False(t, ValidateWebhook(secret, sign(secret, ts, body), "", body, now))
		assert.False(t, ValidateWebhook("", sign(secret, ts, body), ts, body, now))
	})

	t.Run("garbage timestamp", func(t *testing.T) {
		assert.False(t, ValidateWebhook(secret, sign(secret, "soon", body), "soon", body, now))
	})
}

func TestValidateWebhookFreshnessWindow(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{}`)
	now := time.Unix(1_700_000_000, 0)

	cases := []struct {
		name string
		age  int64
		want bool
	}{
		{"fresh", 0, true},
		{"just inside", 299, true},
		{"exactly at the window", 300, true},
		{"just past", 301, false},
		{"ancient", 3600, false},
		{"from the future inside", -299, true},
		{"from the future past", -301, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := fmt.Sprint(now.Unix() - tc.age)
			got := ValidateWebhook(secret, sign(secret, ts, body), ts, body, now)
			assert.Equal(t, tc.want, got)
		})
	}
}
