package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Common log attribute keys.
const (
	KeyComponent = "component"
	KeyOperation = "operation"
	KeyRequestID = "request_id"
	KeyUserHash  = "user_hash"
	KeyTenant    = "tenant_id"
	KeyStatus    = "status"
	KeyError     = "error"
	KeyErrorKind = "error_kind"
)

// WithComponent returns a logger tagged with the component name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String(KeyComponent, component))
}

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// RequestID returns a slog attribute for the inbound request ID.
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// Tenant returns a slog attribute for the directory tenant.
func Tenant(tenantID string) slog.Attr {
	return slog.String(KeyTenant, tenantID)
}

// ErrorKind returns a slog attribute for an error kind.
func ErrorKind(kind string) slog.Attr {
	return slog.String(KeyErrorKind, kind)
}

// Err returns a slog attribute for an error. A nil err yields an empty
// group, which slog omits.
//
//	logger.Info("operation", logging.Err(err))  // safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a stable hash of an address so log lines can be
// correlated without exposing it.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized address.
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}

// SanitizeToken reports only the length of a token.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
