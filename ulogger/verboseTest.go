package ulogger

import (
	"sync"
	"testing"
)

// VerboseTestLogger writes every line to the test log. Lines logged after the test finished,
// typically by a network goroutine still winding down, are dropped because testing panics
// on them.
type VerboseTestLogger struct {
	t       testing.TB
	service string
	state   *verboseState
}

type verboseState struct {
	mu   sync.Mutex
	done bool
}

func NewVerboseTestLogger(t testing.TB) *VerboseTestLogger {
	state := &verboseState{}

	t.Cleanup(func() {
		state.mu.Lock()
		state.done = true
		state.mu.Unlock()
	})

	return &VerboseTestLogger{t: t, state: state}
}

func (l *VerboseTestLogger) LogLevel() int {
	return 0
}

func (l *VerboseTestLogger) SetLogLevel(_ string) {}

// New returns a logger sharing the test that prefixes lines with service.
func (l *VerboseTestLogger) New(service string, _ ...Option) Logger {
	return &VerboseTestLogger{t: l.t, service: service, state: l.state}
}

func (l *VerboseTestLogger) Duplicate(_ ...Option) Logger {
	return l
}

func (l *VerboseTestLogger) log(level, format string, args ...interface{}) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()

	if l.state.done {
		return
	}

	if l.service != "" {
		format = l.service + " | " + format
	}

	l.t.Helper()
	l.t.Logf("["+level+"] "+format, args...)
}

func (l *VerboseTestLogger) Debugf(format string, args ...interface{}) {
	l.log("DEBUG", format, args...)
}

func (l *VerboseTestLogger) Infof(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

func (l *VerboseTestLogger) Warnf(format string, args ...interface{}) {
	l.log("WARN", format, args...)
}

func (l *VerboseTestLogger) Errorf(format string, args ...interface{}) {
	l.log("ERROR", format, args...)
}

func (l *VerboseTestLogger) Fatalf(format string, args ...interface{}) {
	l.log("FATAL", format, args...)
	l.t.FailNow()
}
