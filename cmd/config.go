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

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/replayd/api"
	"github.com/liuxd6825/replayd/cmd/state"
	"github.com/liuxd6825/replayd/errext"
	"github.com/liuxd6825/replayd/errext/exitcodes"
	"github.com/liuxd6825/replayd/js"
	"github.com/liuxd6825/replayd/lib/types"
)

// Config is the configuration of replay sessions. Every field is nullable so
// the sources it's consolidated from only override what they set.
type Config struct {
	RequestRate         null.Float         `yaml:"requestRate" envconfig:"REPLAYD_REQUEST_RATE"`
	RequestBurst        null.Int           `yaml:"requestBurst" envconfig:"REPLAYD_REQUEST_BURST"`
	EvalTimeout         types.NullDuration `yaml:"evalTimeout" envconfig:"REPLAYD_EVAL_TIMEOUT"`
	AllowDivergence     null.Bool          `yaml:"allowDivergence" envconfig:"REPLAYD_ALLOW_DIVERGENCE"`
	ContentRoot         null.String        `yaml:"contentRoot" envconfig:"REPLAYD_CONTENT_ROOT"`
	InternalURLPrefixes []string           `yaml:"internalURLPrefixes" envconfig:"REPLAYD_INTERNAL_URL_PREFIXES"`
}

// Apply returns c with every set field of cfg applied over it.
func (c Config) Apply(cfg Config) Config {
	if cfg.RequestRate.Valid {
		c.RequestRate = cfg.RequestRate
	}
	if cfg.RequestBurst.Valid {
		c.RequestBurst = cfg.RequestBurst
	}
	if cfg.EvalTimeout.Valid {
		c.EvalTimeout = cfg.EvalTimeout
	}
	if cfg.AllowDivergence.Valid {
		c.AllowDivergence = cfg.AllowDivergence
	}
	if cfg.ContentRoot.Valid {
		c.ContentRoot = cfg.ContentRoot
	}
	if cfg.InternalURLPrefixes != nil {
		c.InternalURLPrefixes = cfg.InternalURLPrefixes
	}
	return c
}

func defaultConfig() Config {
	return Config{
		RequestRate:     null.NewFloat(api.DefaultRequestRate, false),
		RequestBurst:    null.NewInt(api.DefaultRequestBurst, false),
		EvalTimeout:     types.NewNullDuration(js.DefaultEvalTimeout, false),
		AllowDivergence: null.NewBool(false, false),
	}
}

func configFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.Float64("request-rate", api.DefaultRequestRate, "requests per second a single session may send")
	flags.Int64("request-burst", api.DefaultRequestBurst, "requests a session may send at once above the rate")
	flags.Duration("eval-timeout", js.DefaultEvalTimeout, "time limit of a single evaluation in a paused frame")
	flags.Bool("allow-divergence", false, "let debuggers evaluate code beyond what the recording guarantees")
	flags.String("content-root", "", "directory serving the documents the recording doesn't contain")
	flags.StringSlice("internal-url-prefix", nil, "hide scripts whose URL starts with this prefix, can be repeated")
	return flags
}

func getConfig(flags *pflag.FlagSet) (Config, error) {
	conf := Config{
		RequestRate:     getNullFloat64(flags, "request-rate"),
		RequestBurst:    getNullInt64(flags, "request-burst"),
		EvalTimeout:     getNullDuration(flags, "eval-timeout"),
		AllowDivergence: getNullBool(flags, "allow-divergence"),
		ContentRoot:     getNullString(flags, "content-root"),
	}
	if flags.Changed("internal-url-prefix") {
		prefixes, err := flags.GetStringSlice("internal-url-prefix")
		if err != nil {
			return conf, err
		}
		conf.InternalURLPrefixes = prefixes
	}
	return conf, nil
}

// readDiskConfig reads the YAML config file. A missing file is only an error
// when it isn't the default one.
func readDiskConfig(gs *state.GlobalState) (Config, error) {
	data, err := afero.ReadFile(gs.FS, gs.Flags.ConfigFilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && gs.Flags.ConfigFilePath == gs.DefaultFlags.ConfigFilePath {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("couldn't read the config file %s: %w", gs.Flags.ConfigFilePath, err)
	}

	var conf Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&conf); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("couldn't parse the config file %s: %w", gs.Flags.ConfigFilePath, err)
	}
	return conf, nil
}

func readEnvConfig(env map[string]string) (Config, error) {
	var conf Config
	err := envconfig.Process("", &conf, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	return conf, err
}

// getConsolidatedConfig combines the default config values with the ones from
// the config file, the environment variables and the CLI flags, in that
// order of precedence.
func getConsolidatedConfig(gs *state.GlobalState, cliConf Config) (Config, error) {
	fileConf, err := readDiskConfig(gs)
	if err != nil {
		return Config{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	envConf, err := readEnvConfig(gs.Env)
	if err != nil {
		return Config{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	conf := defaultConfig().Apply(fileConf).Apply(envConf).Apply(cliConf)
	if conf.ContentRoot.Valid && !filepath.IsAbs(conf.ContentRoot.String) {
		cwd, err := gs.Getwd()
		if err != nil {
			return Config{}, err
		}
		conf.ContentRoot = null.StringFrom(filepath.Join(cwd, conf.ContentRoot.String))
	}
	return conf, validateConfig(conf)
}

func validateConfig(conf Config) error {
	var err error
	switch {
	case conf.RequestRate.Float64 <= 0:
		err = fmt.Errorf("the request rate must be positive, got %g", conf.RequestRate.Float64)
	case conf.RequestBurst.Int64 <= 0:
		err = fmt.Errorf("the request burst must be positive, got %d", conf.RequestBurst.Int64)
	case conf.EvalTimeout.Duration <= 0:
		err = fmt.Errorf("the evaluation timeout must be positive, got %s", conf.EvalTimeout.Duration)
	}
	if err != nil {
		return errext.WithExitCodeIfNone(
			errext.WithHint(err, "check the flags, REPLAYD_* environment variables and the config file"),
			exitcodes.InvalidConfig,
		)
	}
	return nil
}
