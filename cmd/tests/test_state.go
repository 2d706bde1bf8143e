// Package tests contains helpers for end-to-end tests of replayd commands.
package tests

import (
	"bytes"
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/replayd/cmd/state"
	"github.com/liuxd6825/replayd/lib/testutils"
)

// GlobalTestState is a wrapper around GlobalState for use in tests.
type GlobalTestState struct {
	*state.GlobalState
	Cancel func()

	Stdout, Stderr *bytes.Buffer
	LoggerHook     *testutils.SimpleLogrusHook

	Cwd string

	ExpectedExitCode int
}

// NewGlobalTestState returns an initialized GlobalTestState, mocking all
// GlobalState fields for use in tests.
func NewGlobalTestState(tb testing.TB) *GlobalTestState {
	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)

	fs := afero.NewMemMapFs()
	cwd := "/test/"
	require.NoError(tb, fs.MkdirAll(cwd, 0o755))

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.Out = testutils.NewTestOutput(tb)
	hook := testutils.NewLogHook()
	logger.AddHook(hook)

	ts := &GlobalTestState{
		Cwd:        cwd,
		Cancel:     cancel,
		LoggerHook: hook,
		Stdout:     new(bytes.Buffer),
		Stderr:     new(bytes.Buffer),
	}

	var osExitCalled bool
	defaultOsExitHandle := func(exitCode int) {
		cancel()
		osExitCalled = true
		assert.Equal(tb, ts.ExpectedExitCode, exitCode)
	}

	tb.Cleanup(func() {
		if ts.ExpectedExitCode > 0 {
			// Ensure that, if we expected to receive an error, our `os.Exit()` mock
			// function was actually called.
			assert.Truef(tb, osExitCalled, "expected exit code %d, but the os.Exit() mock was not called", ts.ExpectedExitCode)
		}
	})

	outMutex := &sync.Mutex{}
	defaultFlags := state.GetDefaultGlobalOptions(".config")
	defaultFlags.Address = getFreeBindAddr(tb)

	ts.GlobalState = &state.GlobalState{
		Ctx:            ctx,
		FS:             fs,
		Getwd:          func() (string, error) { return ts.Cwd, nil },
		BinaryName:     "replayd",
		CmdArgs:        []string{},
		Env:            map[string]string{},
		DefaultFlags:   defaultFlags,
		Flags:          defaultFlags,
		OutMutex:       outMutex,
		Stdout:         &state.ConsoleWriter{Writer: ts.Stdout, Mutex: outMutex},
		Stderr:         &state.ConsoleWriter{Writer: ts.Stderr, Mutex: outMutex},
		TermWidth:      func() int { return 0 },
		OSExit:         defaultOsExitHandle,
		SignalNotify:   signal.Notify,
		SignalStop:     signal.Stop,
		Logger:         logger,
		FallbackLogger: testutils.NewLogger(tb).WithField("fallback", true),
	}
	return ts
}

// StubSignals replaces the signal handling of ts with a stub and returns a
// function that delivers sig to whoever is subscribed at that moment.
func (ts *GlobalTestState) StubSignals() (send func(os.Signal) bool) {
	var (
		mx   sync.Mutex
		subs []chan<- os.Signal
	)
	ts.SignalNotify = func(c chan<- os.Signal, _ ...os.Signal) {
		mx.Lock()
		defer mx.Unlock()
		subs = append(subs, c)
	}
	ts.SignalStop = func(c chan<- os.Signal) {
		mx.Lock()
		defer mx.Unlock()
		for i, s := range subs {
			if s == c {
				subs = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
	return func(sig os.Signal) bool {
		mx.Lock()
		defer mx.Unlock()
		for _, c := range subs {
			c <- sig
		}
		return len(subs) > 0
	}
}

func getFreeBindAddr(tb testing.TB) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)
	defer func() { _ = l.Close() }()
	return l.Addr().String()
}
