package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// NewHandler builds the JSON handler auctiond logs through. Attribute keys
// are renamed to the ingestion schema of the log pipeline (timestamp,
// severity, message) and the level follows the environment: development and
// test environments log at debug, everything else at info.
func NewHandler(w io.Writer, env string) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       LevelFor(env),
		ReplaceAttr: renameAttr,
	})
}

// LevelFor maps an environment name onto the minimum log level.
func LevelFor(env string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "test":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Setup installs the process-wide logger tagged with the service name and
// environment, and bridges the standard library logger so stray log output
// from dependencies stays structured.
func Setup(service, env string) *slog.Logger {
	logger := slog.New(NewHandler(os.Stdout, env)).With(
		slog.String("service", strings.TrimSpace(service)),
	)
	if env = strings.TrimSpace(env); env != "" {
		logger = logger.With(slog.String("env", env))
	}
	slog.SetDefault(logger)

	bridge := slog.NewLogLogger(logger.Handler(), slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return logger
}

func renameAttr(groups []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "timestamp"
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "message"
	}
	return attr
}
