package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestSanitizeFieldsMasksNestedSecrets(t *testing.T) {
	t.Parallel()

	fields := SanitizeFields([]zap.Field{
		zap.String("X-Event-Signature", "deadbeef"),
		zap.Any("request_body", map[string]interface{}{
			"member_id": "m-1",
			"auth":      map[string]interface{}{"internal_token": "abc"},
		}),
	})

	got := fieldsToMap(fields)
	if got["X-Event-Signature"] != "***" {
		t.Fatalf("expected signature header to be masked, got %#v", got["X-Event-Signature"])
	}
	body, ok := got["request_body"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected body map, got %T", got["request_body"])
	}
	if body["member_id"] != "m-1" {
		t.Fatalf("expected member id to be kept, got %#v", body["member_id"])
	}
	auth := body["auth"].(map[string]interface{})
	if auth["internal_token"] != "***" {
		t.Fatalf("expected nested token to be masked, got %#v", auth["internal_token"])
	}
}

func TestSanitizeFieldsMasksMemberIdentifiers(t *testing.T) {
	t.Parallel()

	fields := SanitizeFields([]zap.Field{
		zap.String("member_phone", "0912345678"),
		zap.Any("request_body", map[string]interface{}{
			"member_id":    "m-1",
			"line_user_id": "U4af4980629a1b2c3",
			"phone":        "12",
			"email":        "guest@example.com",
			"amount":       "1200",
		}),
	})

	got := fieldsToMap(fields)
	if got["member_phone"] != "***678" {
		t.Fatalf("expected phone suffix only, got %#v", got["member_phone"])
	}
	body := got["request_body"].(map[string]interface{})
	want := map[string]interface{}{
		"member_id":    "m-1",
		"line_user_id": "***b2c3",
		"phone":        "***",
		"email":        "***",
		"amount":       "1200",
	}
	for key, value := range want {
		if body[key] != value {
			t.Fatalf("%s: expected %#v, got %#v", key, value, body[key])
		}
	}
}
