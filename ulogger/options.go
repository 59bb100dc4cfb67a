package ulogger

import (
	"io"
	"os"

	"github.com/ordishs/gocore"
)

type Options struct {
	logLevel   string
	loggerType string
	writer     io.Writer
	skip       int
	json       bool
}

type Option func(*Options)

// DefaultOptions logs INFO and above to stdout with the zerolog console writer. Setting
// PRETTY_LOGS=false in the gocore config switches to JSON lines.
func DefaultOptions() *Options {
	return &Options{
		logLevel:   "INFO",
		loggerType: "zerolog",
		writer:     os.Stdout,
		json:       !gocore.Config().GetBool("PRETTY_LOGS", true),
	}
}

func buildOptions(options ...Option) *Options {
	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	return opts
}

func WithLevel(level string) Option {
	return func(o *Options) {
		o.logLevel = level
	}
}

func WithLoggerType(loggerType string) Option {
	return func(o *Options) {
		o.loggerType = loggerType
	}
}

func WithWriter(w io.Writer) Option {
	return func(o *Options) {
		o.writer = w
	}
}

func WithSkipFrame(skip int) Option {
	return func(o *Options) {
		o.skip = skip
	}
}

// WithJSON selects JSON lines instead of the console format.
func WithJSON(json bool) Option {
	return func(o *Options) {
		o.json = json
	}
}
