package cmd

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/replayd/cmd/tests"
	"github.com/liuxd6825/replayd/errext/exitcodes"
	"github.com/liuxd6825/replayd/lib/testutils"
)

const testRecording = `
sources:
  - url: https://example.com/app.js
    text: |
      var total = 0;
      function add(a, b) {
        var sum = a + b;
        return sum;
      }
      total = add(1, 2);
      console.log(total);
events:
  - newScript: https://example.com/app.js
  - enter: {url: https://example.com/app.js}
  - step: {line: 6}
  - enter: {url: https://example.com/app.js, function: add, arguments: [1, 2], scope: {a: 1, b: 2}}
  - step: {line: 4}
  - pop: {return: 3}
  - step: {line: 7}
  - consoleAPI: {arguments: [3]}
  - pop: {return: !undefined }
`

// newTestState returns a test state with the recording at /test/app.yaml and
// the given command line.
func newTestState(t *testing.T, args ...string) *tests.GlobalTestState {
	t.Helper()
	ts := tests.NewGlobalTestState(t)
	require.NoError(t, afero.WriteFile(ts.FS, "/test/app.yaml", []byte(testRecording), 0o644))
	ts.CmdArgs = append([]string{"replayd"}, args...)
	return ts
}

func TestScripts(t *testing.T) {
	t.Parallel()

	t.Run("text", func(t *testing.T) {
		t.Parallel()
		ts := newTestState(t, "scripts", "app.yaml")
		newRootCommand(ts.GlobalState).execute()

		assert.Equal(t,
			"   1 https://example.com/app.js lines 1-7\n"+
				"   2 https://example.com/app.js add lines 2-5\n",
			ts.Stdout.String())
	})

	t.Run("narrow terminal", func(t *testing.T) {
		t.Parallel()
		ts := newTestState(t, "scripts", "app.yaml")
		ts.TermWidth = func() int { return 30 }
		newRootCommand(ts.GlobalState).execute()

		assert.Equal(t,
			"   1 ...e.com/app.js lines 1-7\n"+
				"   2 ...m/app.js add lines 2-5\n",
			ts.Stdout.String())
	})

	t.Run("console", func(t *testing.T) {
		t.Parallel()
		ts := newTestState(t, "scripts", "--console", "/test/app.yaml")
		newRootCommand(ts.GlobalState).execute()

		assert.Contains(t, ts.Stdout.String(), "add lines 2-5\n\n")
		assert.Contains(t, ts.Stdout.String(), " log: 3\n")
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		ts := newTestState(t, "scripts", "--json", "--console", "app.yaml")
		newRootCommand(ts.GlobalState).execute()

		out := ts.Stdout.String()
		require.True(t, gjson.Valid(out), out)
		scripts := gjson.Get(out, "scripts").Array()
		require.Len(t, scripts, 2)
		assert.Equal(t, int64(1), scripts[0].Get("id").Int())
		assert.Equal(t, "https://example.com/app.js", scripts[0].Get("url").String())
		assert.Equal(t, "add", scripts[1].Get("displayName").String())
		assert.Equal(t, int64(2), scripts[1].Get("startLine").Int())

		messages := gjson.Get(out, "messages").Array()
		require.Len(t, messages, 1)
		assert.Equal(t, "ConsoleAPI", messages[0].Get("messageType").String())
		assert.JSONEq(t, `[3]`, messages[0].Get("arguments").Raw)
	})

	t.Run("internal scripts", func(t *testing.T) {
		t.Parallel()
		ts := newTestState(t, "scripts", "--json", "--internal-url-prefix", "https://example.com/", "app.yaml")
		newRootCommand(ts.GlobalState).execute()

		assert.JSONEq(t, `[]`, gjson.Get(ts.Stdout.String(), "scripts").Raw)
	})
}

func TestScriptsErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		args      []string
		recording string
		exitCode  exitcodes.ExitCode
		log       string
	}{
		{
			name:     "no recording",
			args:     []string{"scripts"},
			exitCode: exitcodes.GenericError,
			log:      "accepts 1 arg(s), received 0",
		},
		{
			name:     "missing recording",
			args:     []string{"scripts", "gone.yaml"},
			exitCode: exitcodes.InvalidRecording,
			log:      "gone.yaml",
		},
		{
			name:      "invalid recording",
			args:      []string{"scripts", "bad.yaml"},
			recording: "sources: [{url: a.js, text: 'var ='}]",
			exitCode:  exitcodes.InvalidRecording,
			log:       "invalid recording /test/bad.yaml",
		},
		{
			name:      "playback failure",
			args:      []string{"scripts", "bad.yaml"},
			recording: "sources: [{url: a.js, text: 'var a = 1;'}]\nevents: [{pop: {}}]",
			exitCode:  exitcodes.PlaybackFailed,
			log:       "pop without a frame",
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestState(t, tc.args...)
			if tc.recording != "" {
				require.NoError(t, afero.WriteFile(ts.FS, "/test/bad.yaml", []byte(tc.recording), 0o644))
			}
			ts.ExpectedExitCode = int(tc.exitCode)
			newRootCommand(ts.GlobalState).execute()

			assert.Empty(t, ts.Stdout.String())
			assert.True(t, testutils.LogContains(ts.LoggerHook.Drain(), logrus.ErrorLevel, tc.log))
		})
	}
}
