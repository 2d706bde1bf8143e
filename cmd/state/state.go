// Package state contains the process-wide state shared by every replayd
// command: the file system, the environment, the console and the loggers.
package state

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/term"
)

// GlobalState contains the GlobalOptions and accessors for most of the global
// process-external state like CLI arguments, env vars, standard input, output
// and error, etc. In practice, most of it is normally accessed through the `os`
// package from the Go stdlib.
//
// We group them here so we can prevent direct access to them from the rest of
// the replayd codebase. This gives us the ability to mock them and have robust
// and easy-to-write integration-like tests to check the replayd end-to-end
// behavior in any simulated conditions.
type GlobalState struct {
	Ctx context.Context

	FS         afero.Fs
	Getwd      func() (string, error)
	BinaryName string
	CmdArgs    []string
	Env        map[string]string

	DefaultFlags, Flags GlobalOptions

	OutMutex       *sync.Mutex
	Stdout, Stderr *ConsoleWriter
	// TermWidth returns the width of the stdout terminal, 0 if unknown.
	TermWidth func() int

	OSExit       func(int)
	SignalNotify func(chan<- os.Signal, ...os.Signal)
	SignalStop   func(chan<- os.Signal)

	Logger         *logrus.Logger
	FallbackLogger logrus.FieldLogger
}

// NewGlobalState returns a new GlobalState with the given ctx.
// Ideally, this should be the only function in the whole codebase where we use
// global variables and functions from the os package. Anywhere else, things
// like os.Stdout, os.Stderr, os.Stdin, os.Getenv(), etc. should be removed and
// the respective properties of globalState used instead.
func NewGlobalState(ctx context.Context) *GlobalState {
	isDumbTerm := os.Getenv("TERM") == "dumb"
	stdoutTTY := !isDumbTerm && (isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
	stderrTTY := !isDumbTerm && (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()))
	outMutex := &sync.Mutex{}
	stdout := &ConsoleWriter{Writer: colorable.NewColorable(os.Stdout), IsTTY: stdoutTTY, Mutex: outMutex}
	stderr := &ConsoleWriter{Writer: colorable.NewColorable(os.Stderr), IsTTY: stderrTTY, Mutex: outMutex}

	env := BuildEnvMap(os.Environ())
	confDir, err := os.UserConfigDir()
	if err != nil {
		confDir = ".config"
	}
	defaultFlags := GetDefaultGlobalOptions(confDir)
	globalFlags := consolidateGlobalFlags(defaultFlags, env)

	logLevel := logrus.InfoLevel
	if globalFlags.Verbose {
		logLevel = logrus.DebugLevel
	}
	logger := &logrus.Logger{
		Out: stderr,
		Formatter: &logrus.TextFormatter{
			ForceColors:   stderrTTY,
			DisableColors: !stderrTTY || globalFlags.NoColor,
		},
		Hooks: make(logrus.LevelHooks),
		Level: logLevel,
	}

	return &GlobalState{
		Ctx:          ctx,
		FS:           afero.NewOsFs(),
		Getwd:        os.Getwd,
		BinaryName:   "replayd",
		CmdArgs:      os.Args,
		Env:          env,
		DefaultFlags: defaultFlags,
		Flags:        globalFlags,
		OutMutex:     outMutex,
		Stdout:       stdout,
		Stderr:       stderr,
		TermWidth: func() int {
			if !stdoutTTY {
				return 0
			}
			width, _, err := term.GetSize(int(os.Stdout.Fd())) //nolint:gosec
			if err != nil {
				return 0
			}
			return width
		},
		OSExit:       os.Exit,
		SignalNotify: signal.Notify,
		SignalStop:   signal.Stop,
		Logger:       logger,
		FallbackLogger: &logrus.Logger{ // we may modify the other one
			Out:       stderr,
			Formatter: new(logrus.TextFormatter), // no fancy formatting here
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
	}
}

// BuildEnvMap returns a map from raw environment variable pairs.
func BuildEnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}
