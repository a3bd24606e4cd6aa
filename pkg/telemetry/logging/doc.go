// Package logging provides structured logging with PII redaction.
//
// It builds a log/slog logger from the logging configuration section:
//   - JSON or text output
//   - Redaction of email addresses, bearer tokens and passwords in attribute
//     values when RedactPII is set
//   - request_id, owner_key, trace_id and span_id attributes taken from the
//     context passed to InfoContext and friends
//   - A level that can be changed at runtime with SetLevel
//
// # Usage
//
//	logger, err := logging.New(logging.ConfigFrom(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//	logger.SetDefault()
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	slog.Default().InfoContext(ctx, "sweep requested", "owner", "alice@example.com")
//	// {"level":"INFO","msg":"sweep requested","owner":"***@example.com","request_id":"req-123"}
package logging
