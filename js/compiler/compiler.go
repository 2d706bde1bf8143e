// Package compiler parses JavaScript sources into the script trees the
// replay engine exposes to debug sessions: one script for the top level of a
// source and one for every function in it, each with the offsets of the
// statements it owns.
package compiler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja/parser"
	"github.com/go-sourcemap/sourcemap"
	"github.com/sirupsen/logrus"
)

// Options are options to the compiler
type Options struct {
	// SourceMapLoader loads source maps referenced by URL. Without it only
	// source maps embedded in the source or given in SourceInfo are used.
	SourceMapLoader func(url string) ([]byte, error)
}

// A Compiler turns sources into script trees.
type Compiler struct {
	logger  logrus.FieldLogger
	Options Options
}

// New returns a new Compiler
func New(logger logrus.FieldLogger) *Compiler {
	return &Compiler{logger: logger}
}

// SourceInfo describes a source as it was introduced into the debuggee.
type SourceInfo struct {
	URL                  string
	Text                 string
	DisplayURL           string
	ElementAttributeName string
	IntroductionType     string
	SourceMapURL         string
	// SourceMap is the raw source map, when it was recorded together with
	// the source.
	SourceMap []byte
}

// Compile parses the source and returns the script of its top level.
func (c *Compiler) Compile(info SourceInfo) (*Script, error) {
	prg, err := parser.ParseFile(nil, info.URL, info.Text, 0, parser.WithDisableSourceMaps)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse %s: %w", info.URL, err)
	}

	src := &Source{
		url:                  info.URL,
		text:                 info.Text,
		displayURL:           info.DisplayURL,
		elementAttributeName: info.ElementAttributeName,
		introductionType:     info.IntroductionType,
		sourceMapURL:         info.SourceMapURL,
	}
	if src.sourceMapURL == "" {
		src.sourceMapURL = sourceMappingURL(info.Text)
	}

	srcMap, err := c.loadSourceMap(src.sourceMapURL, info.SourceMap)
	if err != nil {
		// a broken source map only costs us original locations
		c.logger.WithError(err).Warnf("Couldn't load source map for %s", info.URL)
	}
	src.sourceMap = srcMap

	return newBuilder(prg, src).build(), nil
}

const sourceMappingURLPrefix = "//# sourceMappingURL="

// sourceMappingURL returns the URL of the last source map comment in code.
func sourceMappingURL(code string) string {
	index := strings.LastIndex(code, sourceMappingURLPrefix)
	if index == -1 {
		return ""
	}
	rest := code[index+len(sourceMappingURLPrefix):]
	if nextnewline := strings.IndexAny(rest, "\r\n"); nextnewline != -1 {
		rest = rest[:nextnewline]
	}
	return strings.TrimSpace(rest)
}

var errNoSourceMapLoader = errors.New("no loader for external source maps")

func (c *Compiler) loadSourceMap(url string, raw []byte) (*sourcemap.Consumer, error) {
	if len(raw) == 0 {
		if url == "" {
			return nil, nil //nolint:nilnil
		}
		var err error
		raw, err = c.readSourceMap(url)
		if err != nil {
			return nil, err
		}
	}
	if strings.HasPrefix(url, "data:") {
		// sources can't be resolved relative to a data URL
		url = ""
	}
	return sourcemap.Parse(url, raw)
}

func (c *Compiler) readSourceMap(url string) ([]byte, error) {
	const base64EncodePrefix = "application/json;base64,"
	if strings.HasPrefix(url, "data:") {
		start := strings.Index(url, base64EncodePrefix)
		if start == -1 {
			return nil, fmt.Errorf("unsupported source map data URL %q", url)
		}
		return base64.StdEncoding.DecodeString(url[start+len(base64EncodePrefix):])
	}
	if c.Options.SourceMapLoader == nil {
		return nil, errNoSourceMapLoader
	}
	return c.Options.SourceMapLoader(url)
}
