package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// EnvironmentLocal renders human readable console output; any other
// environment logs JSON lines. Logs go to stderr so command output on stdout
// stays clean.
const EnvironmentLocal = "local"

// SetupLogger - helper to setup a logger and associate it with ctx
func SetupLogger(ctx context.Context, environment string, debug bool) (context.Context, *zerolog.Logger) {
	var w io.Writer = os.Stderr
	if environment == "" || strings.EqualFold(environment, EnvironmentLocal) {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return SetupLoggerWithWriter(ctx, w, level)
}

// SetupLoggerWithWriter - helper to setup a logger writing to w at level
func SetupLoggerWithWriter(ctx context.Context, w io.Writer, level zerolog.Level) (context.Context, *zerolog.Logger) {
	// always print out timestamp
	l := zerolog.New(w).With().Timestamp().Logger().Level(level)
	return l.WithContext(ctx), &l
}

// AddSessionIDToContext adds the claim session id to the logger bound to ctx
func AddSessionIDToContext(ctx context.Context, sessionID string) context.Context {
	l := zerolog.Ctx(ctx).With().Str("session", sessionID).Logger()
	return l.WithContext(ctx)
}
