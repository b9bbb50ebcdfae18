// Package logging provides structured, context-aware logging for insightd.
//
// The package wraps Zap with a Logger whose methods accept a context.Context
// and automatically attach correlation fields stored in the context: the
// active trace/span ids, the analysis session id, the current phase, and the
// dataset name. Output goes to stdout (JSON or console encoding) and
// optionally to an OpenTelemetry log bridge, with level-aware sampling and
// redaction of sensitive fields.
//
// Typical usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, sessionID)
//	logger.Info(ctx, "phase complete", zap.String("phase", "analyze"))
//
// Tests use NewTestLogger, which records entries in memory and offers
// assertion helpers.
package logging
