package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bar-crm/internal/api/response"
	"bar-crm/internal/service"
	cryptoutil "bar-crm/pkg/crypto"
)

const (
	HeaderInternalToken   = "X-Internal-Token"
	HeaderEventSignature  = "X-Event-Signature"
	HeaderEventTimestamp  = "X-Event-Timestamp"
	maxSignedEventPayload = 64 << 10
)

// InternalTokenAuth guards service-to-service routes. Loopback callers are
// let through only when allowLoopback is set, which is how the metrics
// scraper sidecar reaches /internal/metrics.
func InternalTokenAuth(token string, allowLoopback bool) gin.HandlerFunc {
	expected := strings.TrimSpace(token)

	return func(c *gin.Context) {
		if allowLoopback && isLoopbackClient(c.ClientIP()) {
			c.Next()
			return
		}

		provided := strings.TrimSpace(c.GetHeader(HeaderInternalToken))
		if provided == "" {
			provided = bearerTokenFromRequest(c.GetHeader("Authorization"))
		}

		if expected == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), service.ActorIntake))
		c.Next()
	}
}

// EventSignature verifies the HMAC of an event body when secret is set. An
// empty secret disables the check and the internal token alone applies.
func EventSignature(secret string, tolerance time.Duration) gin.HandlerFunc {
	cleanSecret := strings.TrimSpace(secret)

	return func(c *gin.Context) {
		if cleanSecret == "" {
			c.Next()
			return
		}

		timestamp, err := strconv.ParseInt(strings.TrimSpace(c.GetHeader(HeaderEventTimestamp)), 10, 64)
		if err != nil {
			response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "missing event timestamp")
			c.Abort()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSignedEventPayload+1))
		if err != nil || len(body) > maxSignedEventPayload {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidRequest, "invalid request body")
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		signature := c.GetHeader(HeaderEventSignature)
		if !cryptoutil.VerifyPayloadSignature(body, timestamp, signature, cleanSecret, time.Now(), tolerance) {
			response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "invalid event signature")
			c.Abort()
			return
		}

		c.Next()
	}
}

func bearerTokenFromRequest(header string) string {
	auth := strings.TrimSpace(header)
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

func isLoopbackClient(clientIP string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(clientIP))
	if err != nil {
		return false
	}
	return addr.IsLoopback()
}
