package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// testOutput makes the test a valid io.Writer, for logs and CLI output.
type testOutput struct{ testing.TB }

func (to testOutput) Write(p []byte) (n int, err error) {
	to.Logf("%s", p)

	return len(p), nil
}

// NewTestOutput returns an io.Writer that writes to the test's log.
func NewTestOutput(t testing.TB) io.Writer {
	return testOutput{t}
}

// NewLogger returns a debug level logger writing to the test's log.
func NewLogger(t testing.TB) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(NewTestOutput(t))
	l.SetLevel(logrus.DebugLevel)

	return l
}

// NewLoggerWithHook returns a logger like NewLogger with a hook recording
// every entry.
func NewLoggerWithHook(t testing.TB, levels ...logrus.Level) (*logrus.Logger, *SimpleLogrusHook) {
	l := NewLogger(t)
	hook := NewLogHook(levels...)
	l.AddHook(hook)

	return l, hook
}
