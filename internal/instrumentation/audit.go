package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// MailOperation is the audit record for one upstream mail API call.
//
// Recipient is PII. AuditLogger only emits it in full when configured with
// IncludePII; otherwise the recipient domain is logged instead.
type MailOperation struct {
	Operation string
	Recipient string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	ErrorKind string
	Error     string

	TraceID string
	SpanID  string
}

// NewMailOperation starts timing an upstream operation.
func NewMailOperation(operation string) *MailOperation {
	return &MailOperation{
		Operation: operation,
		StartTime: time.Now(),
	}
}

// WithRecipient records the destination address of a send.
func (op *MailOperation) WithRecipient(recipient string) *MailOperation {
	op.Recipient = recipient
	return op
}

// WithSpanContext copies trace identifiers from the span in ctx.
func (op *MailOperation) WithSpanContext(ctx context.Context) *MailOperation {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		op.TraceID = sc.TraceID().String()
		op.SpanID = sc.SpanID().String()
	}
	return op
}

// Complete stops the timer. kind is the error kind and is ignored when err
// is nil.
func (op *MailOperation) Complete(kind string, err error) *MailOperation {
	op.Duration = time.Since(op.StartTime)
	op.Success = err == nil
	if err != nil {
		op.ErrorKind = kind
		op.Error = err.Error()
	}
	return op
}

// Status returns "success" or "error".
func (op *MailOperation) Status() string {
	if op.Success {
		return StatusSuccess
	}
	return StatusError
}

func (op *MailOperation) attrs(includePII bool) []any {
	args := []any{
		slog.String("operation", op.Operation),
		slog.String("status", op.Status()),
		slog.Duration("duration", op.Duration),
	}

	if op.Recipient != "" {
		if includePII {
			args = append(args, slog.String("recipient", op.Recipient))
		} else {
			args = append(args, slog.String("recipient_domain", ExtractUserDomain(op.Recipient)))
		}
	}
	if op.ErrorKind != "" {
		args = append(args, slog.String("error_kind", op.ErrorKind))
	}
	if op.Error != "" {
		args = append(args, slog.String("error", op.Error))
	}
	if op.TraceID != "" {
		args = append(args, slog.String("trace_id", op.TraceID), slog.String("span_id", op.SpanID))
	}

	return args
}

// AuditLogger writes one structured line per upstream mail operation.
// A nil AuditLogger discards everything.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an AuditLogger. A nil logger means slog.Default().
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With("component", "audit"),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// Log emits op. Failed operations are logged at warn level.
func (al *AuditLogger) Log(op *MailOperation) {
	if al == nil || !al.enabled || op == nil {
		return
	}

	if op.Success {
		al.logger.Info("mail_operation", op.attrs(al.includePII)...)
		return
	}
	al.logger.Warn("mail_operation_failed", op.attrs(al.includePII)...)
}
