// Package logging builds the process slog.Logger and provides the shared
// attribute helpers used across mailgate.
//
// Records are written as JSON (or text) and carry trace_id/span_id when
// the context holds a span. With Options.OTel set they are also forwarded
// to the OpenTelemetry log bridge.
//
// Addresses and tokens never go into logs as-is:
//
//	logger.Info("profile fetched", logging.UserHash(profile.Email))
//	logger.Debug("token acquired", "token", logging.SanitizeToken(tok))
package logging
