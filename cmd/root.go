/*
 *
 * k6 - a next-generation load testing tool
 * Copyright (C) 2016 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package cmd implements the replayd command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/replayd/cmd/state"
	"github.com/liuxd6825/replayd/errext"
	"github.com/liuxd6825/replayd/errext/exitcodes"
	"github.com/liuxd6825/replayd/lib/consts"
	"github.com/liuxd6825/replayd/log"
)

const waitLoggerCloseTimeout = time.Second * 5

// This is to keep all fields needed for the main/root replayd command
type rootCommand struct {
	globalState *state.GlobalState

	cmd           *cobra.Command
	stopLoggersCh chan struct{}
	loggersWg     sync.WaitGroup
	loggerIsFile  bool
}

func newRootCommand(gs *state.GlobalState) *rootCommand {
	c := &rootCommand{
		globalState:   gs,
		stopLoggersCh: make(chan struct{}),
	}
	// the base command when called without any subcommands.
	rootCmd := &cobra.Command{
		Use:               gs.BinaryName,
		Short:             "replayd serves recorded JavaScript executions to debuggers",
		Long:              "replayd replays recorded JavaScript executions and lets debugger front-ends step through them.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
		Version:           consts.FullVersion(),
	}
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "v%s\n" .Version}}`)

	rootCmd.PersistentFlags().AddFlagSet(rootCmdPersistentFlagSet(gs))
	rootCmd.SetArgs(gs.CmdArgs[1:])
	rootCmd.SetOut(gs.Stdout)
	rootCmd.SetErr(gs.Stderr)

	subCommands := []func(*state.GlobalState) *cobra.Command{
		getCmdServe, getCmdScripts, getCmdVersion,
	}
	for _, sc := range subCommands {
		rootCmd.AddCommand(sc(gs))
	}

	c.cmd = rootCmd
	return c
}

func (c *rootCommand) persistentPreRunE(_ *cobra.Command, _ []string) error {
	if err := c.setupLoggers(c.stopLoggersCh); err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	c.globalState.Logger.Debugf("replayd version: v%s", consts.FullVersion())
	return nil
}

func (c *rootCommand) execute() {
	ctx, cancel := context.WithCancel(c.globalState.Ctx)
	c.globalState.Ctx = ctx

	exitCode := -1
	defer func() {
		cancel()
		c.stopLoggers()
		c.globalState.OSExit(exitCode)
	}()

	defer func() {
		if r := recover(); r != nil {
			exitCode = int(exitcodes.GenericError)
			err := fmt.Errorf("unexpected replayd panic: %s\n%s", r, debug.Stack())
			if c.loggerIsFile {
				c.globalState.FallbackLogger.Error(err)
			}
			c.globalState.Logger.Error(err)
		}
	}()

	err := c.cmd.Execute()
	exitCode = int(errext.ExitCodeOf(err))
	if err == nil {
		return
	}

	errText, fields := errext.Format(err)
	c.globalState.Logger.WithFields(fields).Error(errText)
	if c.loggerIsFile {
		c.globalState.FallbackLogger.WithFields(fields).Error(errText)
	}
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It is called by main.main(). It only needs to happen once.
func Execute() {
	gs := state.NewGlobalState(context.Background())

	newRootCommand(gs).execute()
}

func (c *rootCommand) stopLoggers() {
	done := make(chan struct{})
	go func() {
		c.loggersWg.Wait()
		close(done)
	}()
	close(c.stopLoggersCh)
	select {
	case <-done:
	case <-time.After(waitLoggerCloseTimeout):
		c.globalState.FallbackLogger.Errorf("The logger didn't stop in %s", waitLoggerCloseTimeout)
	}
}

func rootCmdPersistentFlagSet(gs *state.GlobalState) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	// We need to use `gs.Flags.<value>` both as the destination and as
	// the value here, since the config values could have already been set by
	// their respective environment variables. However, we then also have to
	// explicitly set the DefValue to the respective default value from
	// `gs.DefaultFlags.<value>`, so that the `replayd --help` message is
	// not messed up...

	flags.StringVar(&gs.Flags.LogOutput, "log-output", gs.Flags.LogOutput,
		"change the output for replayd logs, possible values are: "+
			"'stderr', 'stdout', 'none', 'file=./path[,level=lvl]'")
	flags.Lookup("log-output").DefValue = gs.DefaultFlags.LogOutput

	flags.StringVar(&gs.Flags.LogFormat, "log-format", gs.Flags.LogFormat, "log output format: 'text', 'json' or 'raw'")
	flags.Lookup("log-format").DefValue = gs.DefaultFlags.LogFormat

	flags.StringVarP(&gs.Flags.ConfigFilePath, "config", "c", gs.Flags.ConfigFilePath, "YAML config file")
	// And we also need to explicitly set the default value for the usage message here, so things
	// like `REPLAYD_CONFIG="blah" replayd serve -h` don't produce a weird usage message
	flags.Lookup("config").DefValue = gs.DefaultFlags.ConfigFilePath
	must(cobra.MarkFlagFilename(flags, "config"))

	flags.BoolVar(&gs.Flags.NoColor, "no-color", gs.Flags.NoColor, "disable colored output")
	flags.Lookup("no-color").DefValue = strconv.FormatBool(gs.DefaultFlags.NoColor)

	flags.BoolVarP(&gs.Flags.Verbose, "verbose", "v", gs.Flags.Verbose, "enable verbose logging")
	flags.Lookup("verbose").DefValue = strconv.FormatBool(gs.DefaultFlags.Verbose)

	flags.StringVarP(&gs.Flags.Address, "address", "a", gs.Flags.Address, "address for the replay server")
	flags.Lookup("address").DefValue = gs.DefaultFlags.Address

	return flags
}

// RawFormatter it does nothing with the message just prints it
type RawFormatter struct{}

// Format renders a single log entry
func (f RawFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}

// setupLoggers configures the logger from the global flags. Asynchronous
// hooks are stopped and flushed once stop is closed.
func (c *rootCommand) setupLoggers(stop <-chan struct{}) error {
	gs := c.globalState
	if gs.Flags.Verbose {
		gs.Logger.SetLevel(logrus.DebugLevel)
	}

	loggerForceColors := false // disable color by default
	switch line := gs.Flags.LogOutput; {
	case line == "stderr":
		loggerForceColors = !gs.Flags.NoColor && gs.Stderr.IsTTY
		gs.Logger.SetOutput(gs.Stderr)
	case line == "stdout":
		loggerForceColors = !gs.Flags.NoColor && gs.Stdout.IsTTY
		gs.Logger.SetOutput(gs.Stdout)
	case line == "none":
		gs.Logger.SetOutput(io.Discard)
	case strings.HasPrefix(line, "file"):
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		hook, err := log.FileHookFromConfigLine(ctx, gs.FS, gs.Getwd, gs.FallbackLogger, line, done)
		if err != nil {
			cancel()
			return err
		}
		c.loggerIsFile = true
		gs.Logger.AddHook(hook)
		gs.Logger.SetOutput(io.Discard) // don't output to anywhere else

		c.loggersWg.Add(1)
		go func() {
			<-stop
			cancel()
			<-done
			c.loggersWg.Done()
		}()
	default:
		return fmt.Errorf("unsupported log output '%s'", line)
	}

	switch gs.Flags.LogFormat {
	case "raw":
		gs.Logger.SetFormatter(&RawFormatter{})
		gs.Logger.Debug("Logger format: RAW")
	case "json":
		gs.Logger.SetFormatter(&logrus.JSONFormatter{})
		gs.Logger.Debug("Logger format: JSON")
	case "", "text":
		gs.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors: loggerForceColors, DisableColors: gs.Flags.NoColor,
		})
		gs.Logger.Debug("Logger format: TEXT")
	default:
		return fmt.Errorf("unsupported log format '%s'", gs.Flags.LogFormat)
	}

	// Sometimes the Go runtime uses the standard log output to
	// log some messages directly, like net/http does for server errors.
	w := gs.Logger.Writer()
	stdlog.SetOutput(w)
	c.loggersWg.Add(1)
	go func() {
		<-stop
		_ = w.Close()
		c.loggersWg.Done()
	}()
	return nil
}
