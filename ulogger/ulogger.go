// Package ulogger provides the Logger interface used by every package of the module, backed
// by zerolog by default or by the gocore logger.
package ulogger

import (
	"strings"

	"github.com/ordishs/gocore"
	"github.com/rs/zerolog"
)

type Logger interface {
	LogLevel() int
	SetLogLevel(level string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	New(service string, options ...Option) Logger
	Duplicate(options ...Option) Logger
}

// defaultService names loggers created without a service.
const defaultService = "spv"

// New returns a logger for the given service. The zerolog logger is the default,
// WithLoggerType("gocore") selects the gocore logger.
func New(service string, options ...Option) Logger {
	if buildOptions(options...).loggerType == "gocore" {
		return NewGoCoreLogger(service, options...)
	}

	return NewZeroLogger(service, options...)
}

// level pairs a log level name with its zerolog value.
type level struct {
	name    string
	zerolog zerolog.Level
}

var levels = map[string]level{
	"DEBUG": {"DEBUG", zerolog.DebugLevel},
	"INFO":  {"INFO", zerolog.InfoLevel},
	"WARN":  {"WARN", zerolog.WarnLevel},
	"ERROR": {"ERROR", zerolog.ErrorLevel},
	"FATAL": {"FATAL", zerolog.FatalLevel},
	"PANIC": {"PANIC", zerolog.PanicLevel},
}

// gocoreLevel returns the gocore value of l as reported by Logger.LogLevel.
func (l level) gocoreLevel() int {
	return int(gocore.NewLogLevelFromString(l.name))
}

// parseLevel returns the level named by s, INFO when the name is unknown.
func parseLevel(s string) level {
	if l, ok := levels[strings.ToUpper(s)]; ok {
		return l
	}

	return levels["INFO"]
}
