package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liuxd6825/replayd/cmd/state"
	"github.com/liuxd6825/replayd/errext"
	"github.com/liuxd6825/replayd/errext/exitcodes"
	"github.com/liuxd6825/replayd/js"
	"github.com/liuxd6825/replayd/replay"
)

// cmdScripts handles the `replayd scripts` sub-command
type cmdScripts struct {
	gs      *state.GlobalState
	isJSON  bool
	console bool
}

type scriptsOutput struct {
	Scripts  []replay.ScriptData     `json:"scripts"`
	Messages []replay.ConsoleMessage `json:"messages,omitempty"`
}

func (c *cmdScripts) run(cmd *cobra.Command, args []string) error {
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
	rec, err := load()
	if err != nil {
		return err
	}

	player := js.NewPlayer(rec, js.PlayerOptions{Logger: c.gs.Logger, Fs: c.gs.FS, ContentRoot: conf.ContentRoot.String})
	session, err := replay.NewSession(replay.Config{
		Debugger:            player,
		Host:                player,
		Logger:              c.gs.Logger,
		InternalURLPrefixes: conf.InternalURLPrefixes,
	})
	if err != nil {
		return err
	}
	player.Attach(session)
	if err := player.Play(c.gs.Ctx); err != nil {
		return errext.WithExitCodeIfNone(fmt.Errorf("couldn't play %s: %w", rec.Name, err), exitcodes.PlaybackFailed)
	}

	out := scriptsOutput{Scripts: session.Scripts()}
	if c.console {
		out.Messages = session.Console().All()
	}

	if c.isJSON {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("couldn't encode the scripts: %w", err)
		}
		printToStdout(c.gs, string(data)+"\n")
		return nil
	}
	printToStdout(c.gs, c.render(out))
	return nil
}

func (c *cmdScripts) render(out scriptsOutput) string {
	noColor := c.gs.Flags.NoColor || !c.gs.Stdout.IsTTY
	idColor := getColor(noColor, color.FgCyan)
	nameColor := getColor(noColor, color.FgGreen)
	faint := getColor(noColor, color.Faint)

	width := 0
	if c.gs.TermWidth != nil {
		width = c.gs.TermWidth()
	}

	var sb strings.Builder
	if len(out.Scripts) == 0 {
		sb.WriteString(faint.Sprint("no scripts") + "\n")
	}
	for _, s := range out.Scripts {
		var name string
		if s.DisplayName != "" {
			name = " " + s.DisplayName
		}
		lines := fmt.Sprintf(" lines %d-%d", s.StartLine, s.StartLine+s.LineCount-1)
		url := s.URL
		if width > 0 {
			url = fitURL(url, width-5-len(name)-len(lines))
		}
		fmt.Fprintf(&sb, "%s %s%s%s\n", idColor.Sprintf("%4d", s.ID), url, nameColor.Sprint(name), faint.Sprint(lines))
	}

	if c.console {
		sb.WriteString("\n")
		for _, msg := range out.Messages {
			fmt.Fprintf(&sb, "%s %s\n", idColor.Sprintf("%4d", msg.ExecutionPoint.Progress), describeMessage(msg))
		}
	}
	return sb.String()
}

// fitURL shortens url to room characters, keeping its end. URLs are left
// alone when there is hardly any room.
func fitURL(url string, room int) string {
	if room < 10 || len(url) <= room {
		return url
	}
	return "..." + url[len(url)-(room-3):]
}

func describeMessage(msg replay.ConsoleMessage) string {
	if msg.MessageType == replay.MessagePageError {
		return fmt.Sprintf("error: %v", msg.Contents["errorMessage"])
	}
	args, _ := msg.Contents["arguments"].([]any)
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprint(arg)
	}
	return fmt.Sprintf("%v: %s", msg.Contents["level"], strings.Join(parts, " "))
}

func getCmdScripts(gs *state.GlobalState) *cobra.Command {
	c := &cmdScripts{gs: gs}

	scriptsCmd := &cobra.Command{
		Use:   "scripts <recording>",
		Short: "List the scripts of a recording",
		Long: `List the scripts of a recording.

The recording is played to its end and every script a debugger could see is
listed, one per line, with its id, URL, function name and lines.`,
		Args: exactArgsWithMsg(1, "arg should either be a path to a recording file"),
		RunE: c.run,
	}

	flags := scriptsCmd.Flags()
	flags.SortFlags = false
	flags.BoolVar(&c.isJSON, "json", false, "print the scripts as JSON")
	flags.BoolVar(&c.console, "console", false, "also print the console messages of the recording")
	flags.AddFlagSet(configFlagSet())
	return scriptsCmd
}
