package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/liuxd6825/replayd/api"
	"github.com/liuxd6825/replayd/cmd/state"
	"github.com/liuxd6825/replayd/errext"
	"github.com/liuxd6825/replayd/errext/exitcodes"
	"github.com/liuxd6825/replayd/js"
)

const serverShutdownTimeout = 10 * time.Second

// cmdServe handles the `replayd serve` sub-command
type cmdServe struct {
	gs *state.GlobalState
}

func (c *cmdServe) run(cmd *cobra.Command, args []string) error {
	cliConf, err := getConfig(cmd.Flags())
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	conf, err := getConsolidatedConfig(c.gs, cliConf)
	if err != nil {
		return err
	}

	load, err := recordingLoader(c.gs, args[0])
	if err != nil {
		return err
	}
	// fail early on a broken recording rather than on the first session
	rec, err := load()
	if err != nil {
		return err
	}
	logger := c.gs.Logger
	logger.WithFields(logrus.Fields{
		"recording": rec.Name,
		"scripts":   len(rec.Scripts),
		"events":    len(rec.Events),
	}).Debug("Recording loaded")

	srv := api.GetServer(c.gs.Flags.Address, api.Config{
		Logger: logger,
		Load:   load,
		Player: js.PlayerOptions{
			Fs:              c.gs.FS,
			ContentRoot:     conf.ContentRoot.String,
			AllowDivergence: conf.AllowDivergence.Bool,
			EvalTimeout:     conf.EvalTimeout.TimeDuration(),
		},
		InternalURLPrefixes: conf.InternalURLPrefixes,
		RequestRate:         rate.Limit(conf.RequestRate.Float64),
		RequestBurst:        int(conf.RequestBurst.Int64),
	})

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return errext.WithExitCodeIfNone(
			errext.WithHint(fmt.Errorf("couldn't start the replay server: %w", err), "use --address to listen elsewhere"),
			exitcodes.CannotStartServer,
		)
	}

	sessionsCtx, stopSessions := context.WithCancel(c.gs.Ctx)
	defer stopSessions()
	srv.BaseContext = func(net.Listener) context.Context { return sessionsCtx }

	sigC := make(chan os.Signal, 1)
	stopSignalHandling := handleAbortSignals(c.gs, func(sig os.Signal) {
		logger.WithField("sig", sig).Info("Stopping the server, press Ctrl+C again to exit immediately")
		sigC <- sig
	}, nil)
	defer stopSignalHandling()

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Serve(listener)
	}()
	logger.WithField("address", listener.Addr().String()).Info("Serving replay sessions")

	var result error
	select {
	case err := <-srvErr:
		return errext.WithExitCodeIfNone(err, exitcodes.CannotStartServer)
	case sig := <-sigC:
		result = &errext.InterruptError{Reason: fmt.Sprintf("replayd was stopped by signal %s", sig)}
	case <-c.gs.Ctx.Done():
	}

	stopSessions()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("The server didn't stop gracefully")
		_ = srv.Close()
	}
	if err := <-srvErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("The server failed while stopping")
	}
	logger.Debug("Server stopped")
	return result
}

func getCmdServe(gs *state.GlobalState) *cobra.Command {
	c := &cmdServe{gs: gs}

	serveCmd := &cobra.Command{
		Use:   "serve <recording>",
		Short: "Serve a recording to debuggers",
		Long: `Serve a recording to debuggers.

Every websocket connection to /v1/session replays its own copy of the
recording, driven by the requests of the debugger on the other end.`,
		Example: `  # Serve a recording on the default address
  replayd serve recording.yaml

  # Let debuggers evaluate arbitrary code in paused frames
  replayd serve --allow-divergence --eval-timeout 2s recording.yaml`,
		Args: exactArgsWithMsg(1, "arg should either be a path to a recording file"),
		RunE: c.run,
	}

	serveCmd.Flags().SortFlags = false
	serveCmd.Flags().AddFlagSet(configFlagSet())
	return serveCmd
}
