package cmd

import (
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/liuxd6825/replayd/cmd/state"
	"github.com/liuxd6825/replayd/errext"
	"github.com/liuxd6825/replayd/errext/exitcodes"
	"github.com/liuxd6825/replayd/js"
	"github.com/liuxd6825/replayd/js/compiler"
)

// recordingLoader returns a function that parses a fresh copy of the
// recording at path on every call.
func recordingLoader(gs *state.GlobalState, path string) (func() (*js.Recording, error), error) {
	if !filepath.IsAbs(path) {
		cwd, err := gs.Getwd()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(cwd, path)
	}
	dir := filepath.Dir(path)

	return func() (*js.Recording, error) {
		c := compiler.New(gs.Logger)
		c.Options.SourceMapLoader = func(mapURL string) ([]byte, error) {
			return readSourceMap(gs.FS, dir, mapURL)
		}
		rec, err := js.LoadRecording(gs.FS, path, c)
		if err != nil {
			return nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidRecording)
		}
		return rec, nil
	}, nil
}

// readSourceMap reads source maps with file URLs or URLs relative to the
// recording. Remote source maps have to be recorded.
func readSourceMap(fs afero.Fs, dir, mapURL string) ([]byte, error) {
	u, err := url.Parse(mapURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "file":
		return afero.ReadFile(fs, u.Path)
	case "":
		if filepath.IsAbs(u.Path) {
			return afero.ReadFile(fs, u.Path)
		}
		return afero.ReadFile(fs, filepath.Join(dir, u.Path))
	default:
		return nil, fmt.Errorf("source map %s isn't part of the recording", mapURL)
	}
}
