// Package log wraps a process-wide zerolog logger with leveled helpers. The
// logger is always initialized so packages can log before main calls Init.
package log

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"path"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	RFC3339Milli = "2006-01-02T15:04:05.000Z07:00" // like time.RFC3339Nano but with 3 fixed-width decimals
)

var (
	log   zerolog.Logger
	logMu sync.RWMutex
)

func init() {
	// $LOG_LEVEL lets tests and embedding applications raise verbosity
	// without calling Init.
	Init(cmp.Or(os.Getenv("LOG_LEVEL"), LogLevelError), "stderr", nil)
}

// Logger returns a copy of the global logger.
func Logger() *zerolog.Logger {
	logger := current()
	return &logger
}

func current() zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return log
}

func replace(logger zerolog.Logger) {
	logMu.Lock()
	log = logger
	logMu.Unlock()
}

// warnLevelWriter only forwards warn and higher entries.
type warnLevelWriter struct {
	io.Writer
}

var _ zerolog.LevelWriter = &warnLevelWriter{}

func (w *warnLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return w.Writer.Write(p)
}

// Init replaces the global logger. Output is "stdout", "stderr" or a file
// path; paths ending in ".json" receive raw JSON lines while the console
// output goes to stdout. If errorOutput is not nil, warnings and errors are
// also copied there without colors.
func Init(level, output string, errorOutput io.Writer) {
	lvl, err := parseLevel(level)
	if err != nil {
		panic(err.Error())
	}

	var writers []io.Writer
	var console io.Writer
	switch output {
	case "stdout":
		console = os.Stdout
	case "stderr":
		console = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			panic(fmt.Sprintf("cannot create log output: %v", err))
		}
		console = f
		if strings.HasSuffix(output, ".json") {
			writers = append(writers, f)
			console = os.Stdout
		}
	}
	writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: RFC3339Milli})
	if errorOutput != nil {
		writers = append(writers, &warnLevelWriter{zerolog.ConsoleWriter{
			Out:        errorOutput,
			TimeFormat: RFC3339Milli,
			NoColor:    true,
		}})
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	// skip the frames added by this package's helpers
	zerolog.CallerSkipFrameCount = 3
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return fmt.Sprintf("%s/%s:%d", path.Base(path.Dir(file)), path.Base(file), line)
	}
	logger := zerolog.New(out).With().Timestamp().Caller().Logger().Level(lvl)

	replace(logger)
	logger.Info().Msgf("logger construction succeeded at level %s with output %s", level, output)
}

func parseLevel(level string) (zerolog.Level, error) {
	switch level {
	case LogLevelDebug:
		return zerolog.DebugLevel, nil
	case LogLevelInfo:
		return zerolog.InfoLevel, nil
	case LogLevelWarn:
		return zerolog.WarnLevel, nil
	case LogLevelError:
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("invalid log level: %q", level)
	}
}

// Level returns the current log level
func Level() string {
	logger := current()
	switch level := logger.GetLevel(); level {
	case zerolog.DebugLevel:
		return LogLevelDebug
	case zerolog.InfoLevel:
		return LogLevelInfo
	case zerolog.WarnLevel:
		return LogLevelWarn
	case zerolog.ErrorLevel:
		return LogLevelError
	default:
		panic(fmt.Sprintf("invalid log level: %q", level))
	}
}

// Debug sends a debug level log message
func Debug(args ...any) {
	logger := current()
	if logger.GetLevel() > zerolog.DebugLevel {
		return
	}
	logger.Debug().Msg(fmt.Sprint(args...))
}

// Info sends an info level log message
func Info(args ...any) {
	logger := current()
	logger.Info().Msg(fmt.Sprint(args...))
}

// Monitor logs msg at info level with the given fields and no caller.
func Monitor(msg string, fields map[string]any) {
	logger := current()
	logger.Info().CallerSkipFrame(100).Fields(fields).Msg(msg)
}

// Warn sends a warn level log message
func Warn(args ...any) {
	logger := current()
	logger.Warn().Msg(fmt.Sprint(args...))
}

// Error sends an error level log message
func Error(args ...any) {
	logger := current()
	logger.Error().Msg(fmt.Sprint(args...))
}

// Fatal logs the message with a stack trace and exits.
func Fatal(args ...any) {
	logger := current()
	logger.Fatal().Msg(fmt.Sprint(args...) + "\n" + string(debug.Stack()))
	panic("unreachable")
}

// Debugf sends a formatted debug level log message
func Debugf(template string, args ...any) {
	Logger().Debug().Msgf(template, args...)
}

// Infof sends a formatted info level log message
func Infof(template string, args ...any) {
	Logger().Info().Msgf(template, args...)
}

// Warnf sends a formatted warn level log message
func Warnf(template string, args ...any) {
	Logger().Warn().Msgf(template, args...)
}

// Fatalf sends a formatted fatal level log message
func Fatalf(template string, args ...any) {
	Logger().Fatal().Msgf(template+"\n"+string(debug.Stack()), args...)
}

// Debugw sends a debug level log message with key-value pairs.
func Debugw(msg string, keyvalues ...any) {
	Logger().Debug().Fields(keyvalues).Msg(msg)
}

// Infow sends an info level log message with key-value pairs.
func Infow(msg string, keyvalues ...any) {
	Logger().Info().Fields(keyvalues).Msg(msg)
}

// Warnw sends a warning level log message with key-value pairs.
func Warnw(msg string, keyvalues ...any) {
	Logger().Warn().Fields(keyvalues).Msg(msg)
}

// Errorw sends an error level log message with the error attached.
func Errorw(err error, msg string) {
	Logger().Error().Err(err).Msg(msg)
}
