package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

type Logger struct {
	*slog.Logger
	verbose bool
}

type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// NewLogger creates a new logger based on the configuration
func NewLogger(format string, verbose bool, output io.Writer, build BuildInfo) *Logger {
	if output == nil {
		output = os.Stdout
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	var application string
	if len(os.Args) > 0 {
		application = filepath.Base(os.Args[0])
	}

	logger := slog.New(handler).With(
		slog.String("service", application),
		slog.String("version", build.Version),
		slog.String("commit", build.Commit),
	)

	return &Logger{
		Logger:  logger,
		verbose: verbose,
	}
}

// SetAsDefault sets this logger as the default slog logger
func (l *Logger) SetAsDefault() {
	slog.SetDefault(l.Logger)
	if l.verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		slog.SetLogLoggerLevel(slog.LevelInfo)
	}
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) *slog.Logger {
	return l.Logger.With(slog.String("component", name))
}

// Verbose logs a message only if verbose logging is enabled
func (l *Logger) Verbose(msg string, args ...any) {
	if l.verbose {
		l.Debug(msg, args...)
	}
}

// LogStats logs a statistics map in a structured way
func (l *Logger) LogStats(msg string, stats map[string]interface{}) {
	attrs := make([]any, 0, len(stats)*2)
	for k, v := range stats {
		attrs = append(attrs, k, v)
	}
	l.Info(msg, attrs...)
}

// LogError logs an error with context
func (l *Logger) LogError(msg string, err error, args ...any) {
	allArgs := append([]any{slog.String("error", err.Error())}, args...)
	l.Error(msg, allArgs...)
}
