package ulogger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const (
	colorRed    = 31
	colorGreen  = 32
	colorYellow = 33
	colorBlue   = 34
	colorWhite  = 37
	colorBold   = 1

	callerWidth = 32
)

var levelColors = map[string]int{
	"debug": colorBlue,
	"info":  colorGreen,
	"warn":  colorYellow,
	"error": colorRed,
	"fatal": colorRed,
	"panic": colorRed,
}

// ZLoggerWrapper adapts a zerolog logger to the Logger interface.
type ZLoggerWrapper struct {
	zerolog.Logger
	service string
	w       io.Writer
	json    bool
}

func NewZeroLogger(service string, options ...Option) *ZLoggerWrapper {
	if service == "" {
		service = defaultService
	}

	opts := buildOptions(options...)

	var output io.Writer = opts.writer
	if !opts.json {
		output = consoleWriter(opts.writer, service)
	}

	ctx := zerolog.New(output).With().
		CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 1 + opts.skip).
		Timestamp()

	if opts.json {
		ctx = ctx.Str("service", service)
	}

	z := &ZLoggerWrapper{
		Logger:  ctx.Logger(),
		service: service,
		w:       opts.writer,
		json:    opts.json,
	}

	z.SetLogLevel(opts.logLevel)

	return z
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return term.IsTerminal(int(f.Fd()))
}

// consoleWriter formats lines as "15:04:05 | LEVEL | caller | service | message".
func consoleWriter(w io.Writer, service string) zerolog.ConsoleWriter {
	noColor := !isTerminalWriter(w) || os.Getenv("NO_COLOR") != ""

	output := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    noColor,
		TimeFormat: time.RFC3339,
	}

	output.FormatTimestamp = func(i interface{}) string {
		s, _ := i.(string)

		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return s
		}

		return ts.Format("15:04:05")
	}

	output.FormatLevel = func(i interface{}) string {
		name, _ := i.(string)

		c, ok := levelColors[name]
		if !ok {
			c = colorWhite
		}

		return "| " + colorize(strings.ToUpper(fmt.Sprintf("%-6s", name)), c, noColor) + "|"
	}

	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("| %-6s| %s", service, i)
	}

	output.FormatFieldName = func(i interface{}) string {
		return fmt.Sprintf("%s=", i)
	}

	output.FormatCaller = func(i interface{}) string {
		caller, _ := i.(string)
		if caller == "" {
			return caller
		}

		return colorize(fmt.Sprintf("%-*s", callerWidth, shortCaller(caller)), colorBold, noColor)
	}

	return output
}

// shortCaller trims caller to the trailing path elements that fit in callerWidth characters.
func shortCaller(caller string) string {
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(cwd, caller); err == nil && !strings.HasPrefix(rel, "..") {
			caller = rel
		}
	}

	parts := strings.Split(caller, "/")
	short := parts[len(parts)-1]

	for i := len(parts) - 2; i >= 0 && len(short)+len(parts[i])+1 <= callerWidth; i-- {
		short = parts[i] + "/" + short
	}

	return short
}

func (z *ZLoggerWrapper) New(service string, options ...Option) Logger {
	inherited := []Option{
		WithWriter(z.w),
		WithLevel(z.GetLevel().String()),
		WithJSON(z.json),
	}

	return NewZeroLogger(service, append(inherited, options...)...)
}

func (z *ZLoggerWrapper) Duplicate(options ...Option) Logger {
	duplicate := *z

	if opts := buildOptions(options...); opts.logLevel != DefaultOptions().logLevel {
		duplicate.SetLogLevel(opts.logLevel)
	}

	return &duplicate
}

func (z *ZLoggerWrapper) SetLogLevel(logLevel string) {
	z.Logger = z.Level(parseLevel(logLevel).zerolog)
}

func (z *ZLoggerWrapper) LogLevel() int {
	return parseLevel(z.GetLevel().String()).gocoreLevel()
}

func (z *ZLoggerWrapper) Debugf(format string, args ...interface{}) {
	z.Debug().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Infof(format string, args ...interface{}) {
	z.Info().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Warnf(format string, args ...interface{}) {
	z.Warn().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Errorf(format string, args ...interface{}) {
	z.Error().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Fatalf(format string, args ...interface{}) {
	z.Fatal().Msgf(format, args...)
}

func colorize(s string, c int, disabled bool) string {
	if disabled || c == 0 {
		return s
	}

	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", c, s)
}
