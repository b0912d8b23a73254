package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SignPayload returns the hex HMAC-SHA256 of "<timestamp>.<body>" under
// secret. Binding the timestamp lets the verifier reject replays outside a
// tolerance window.
func SignPayload(body []byte, timestamp int64, secret string) string {
	cleanSecret := strings.TrimSpace(secret)
	if cleanSecret == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(cleanSecret))
	_, _ = mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifyPayloadSignature(body []byte, timestamp int64, signature, secret string, now time.Time, tolerance time.Duration) bool {
	expected := SignPayload(body, timestamp, secret)
	if expected == "" {
		return false
	}

	if tolerance > 0 {
		skew := now.Sub(time.Unix(timestamp, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return false
		}
	}

	provided := strings.ToLower(strings.TrimSpace(signature))
	if len(provided) != len(expected) {
		return false
	}

	return hmac.Equal([]byte(provided), []byte(expected))
}
