package util

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var globalLog = zerolog.Nop()

func InitLog(level string, dev bool) {
	var out io.Writer = os.Stdout
	if dev {
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}
	SetLogOutput(out, level)
}

// SetLogOutput replaces the global logger; tests use it to capture output.
func SetLogOutput(out io.Writer, level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
	globalLog = zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Logger().
		Hook(redactHook{})
	log.Logger = globalLog
}
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}
func Debug() *zerolog.Event { return globalLog.Debug() }
func Info() *zerolog.Event  { return globalLog.Info() }
func Warn() *zerolog.Event  { return globalLog.Warn() }
func Error() *zerolog.Event { return globalLog.Error() }
func Fatal() *zerolog.Event { return globalLog.Fatal() }
func GetLogger() zerolog.Logger {
	return globalLog
}

type redactHook struct{}

// Run flags messages that look like they carry a credential, e.g. a DSN echoed by a driver.
func (h redactHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if msg != RedactSecret(msg) {
		e.Bool("possible_secret", true)
	}
}
