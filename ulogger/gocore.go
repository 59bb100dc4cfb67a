package ulogger

import (
	"github.com/ordishs/gocore"
)

// GoCoreLogger adapts the gocore logger to the Logger interface. It always writes to stdout
// and its level is fixed when it is created.
type GoCoreLogger struct {
	*gocore.Logger
	skipFrame int
}

func NewGoCoreLogger(service string, options ...Option) *GoCoreLogger {
	if service == "" {
		service = defaultService
	}

	opts := buildOptions(options...)

	return &GoCoreLogger{
		Logger:    gocore.Log(service, gocore.NewLogLevelFromString(parseLevel(opts.logLevel).name)),
		skipFrame: opts.skip,
	}
}

func (g *GoCoreLogger) New(service string, options ...Option) Logger {
	return &GoCoreLogger{
		Logger:    gocore.Log(service, g.GetLogLevel()),
		skipFrame: buildOptions(options...).skip,
	}
}

func (g *GoCoreLogger) Duplicate(options ...Option) Logger {
	duplicate := *g

	if skip := buildOptions(options...).skip; skip != 0 {
		duplicate.skipFrame = skip
	}

	return &duplicate
}

func (g *GoCoreLogger) SetLogLevel(_ string) {}

func (g *GoCoreLogger) LogLevel() int {
	return int(g.GetLogLevel())
}
