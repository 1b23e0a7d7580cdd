// Package logging builds the structured loggers used across Bastion.
//
// Loggers are plain *slog.Logger values so every component can accept one
// and fall back to slog.Default. New adds two things on top of the standard
// handlers:
//
//   - Redaction of sensitive attributes (session ids, tokens, passwords)
//     through HandlerOptions.ReplaceAttr.
//   - request_id and actor attributes taken from the context passed to the
//     *Context logging methods.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json", Redact: true})
//	if err != nil {
//	    return err
//	}
//	ctx = logging.WithRequestID(ctx, "req-123")
//	logger.InfoContext(ctx, "policy created", "policy_id", id, "session_id", sid)
//	// {"level":"INFO","msg":"policy created","policy_id":"p1","session_id":"***","request_id":"req-123"}
package logging
