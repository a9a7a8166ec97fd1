package logging

import (
	"errors"
	"log/slog"
	"testing"
)

func TestAttrHelpers(t *testing.T) {
	tests := []struct {
		name  string
		attr  slog.Attr
		key   string
		value string
	}{
		{"operation", Operation("list_inbox"), KeyOperation, "list_inbox"},
		{"request id", RequestID("abc"), KeyRequestID, "abc"},
		{"tenant", Tenant("contoso"), KeyTenant, "contoso"},
		{"error kind", ErrorKind("unauthorized"), KeyErrorKind, "unauthorized"},
		{"error", Err(errors.New("test error")), KeyError, "test error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.key {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.key)
			}
			if tt.attr.Value.String() != tt.value {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.value)
			}
		})
	}
}

func TestErr_Nil(t *testing.T) {
	attr := Err(nil)
	if attr.Key != "" {
		t.Errorf("Err(nil) key = %q, want empty group", attr.Key)
	}
}

func TestWithComponent_NilLogger(t *testing.T) {
	if WithComponent(nil, "credential") == nil {
		t.Error("WithComponent returned nil")
	}
}

func TestAnonymizeEmail(t *testing.T) {
	if got := AnonymizeEmail(""); got != "" {
		t.Errorf("AnonymizeEmail(\"\") = %q, want empty", got)
	}

	hash := AnonymizeEmail("jane@example.com")
	if len(hash) != 21 || hash[:5] != "user:" {
		t.Errorf("unexpected hash format %q", hash)
	}
	if hash != AnonymizeEmail("jane@example.com") {
		t.Error("AnonymizeEmail should be deterministic")
	}
	if hash == AnonymizeEmail("john@example.com") {
		t.Error("different addresses should hash differently")
	}

	attr := UserHash("jane@example.com")
	if attr.Key != KeyUserHash || attr.Value.String() != hash {
		t.Errorf("UserHash = %v", attr)
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"", "<empty>"},
		{"abc123", "[token:6 chars]"},
		{"eyJ0eXAiOiJKV1QiLCJhbGciOi", "[token:26 chars]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := SanitizeToken(tt.token); got != tt.expected {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, got, tt.expected)
			}
		})
	}
}
