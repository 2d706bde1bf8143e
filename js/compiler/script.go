package compiler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-sourcemap/sourcemap"

	"github.com/liuxd6825/replayd/replay"
)

// ErrInvalidOffset is returned for offsets that are not the start of a
// statement of the script.
var ErrInvalidOffset = errors.New("invalid script offset")

// Source is the text a tree of scripts was compiled from.
type Source struct {
	url                  string
	text                 string
	displayURL           string
	elementAttributeName string
	introductionScript   *Script
	introductionOffset   int
	introductionType     string
	sourceMapURL         string
	sourceMap            *sourcemap.Consumer
}

var _ replay.Source = &Source{}

func (s *Source) Text() string                 { return s.text }
func (s *Source) URL() string                  { return s.url }
func (s *Source) DisplayURL() string           { return s.displayURL }
func (s *Source) ElementAttributeName() string { return s.elementAttributeName }
func (s *Source) IntroductionOffset() int      { return s.introductionOffset }
func (s *Source) IntroductionType() string     { return s.introductionType }
func (s *Source) SourceMapURL() string         { return s.sourceMapURL }

// IntroductionScript returns the script whose evaluation created the
// source, if any.
func (s *Source) IntroductionScript() replay.Script {
	if s.introductionScript == nil {
		return nil
	}
	return s.introductionScript
}

// SetIntroduction records the script and offset that introduced the source,
// as happens for eval and new Function.
func (s *Source) SetIntroduction(script *Script, offset int) {
	s.introductionScript = script
	s.introductionOffset = offset
}

type offsetLocation struct {
	line   int
	column int
}

// Script is the compiled form of a top level program or of one function.
// Breakpoint handlers are stored on the script and run by whoever executes
// it. A Script is not safe for concurrent use.
type Script struct {
	source   *Source
	parent   *Script
	children []*Script

	name      string
	params    []string
	start     int
	length    int
	startLine int
	lineCount int

	// statement offsets, sorted
	offsets   []int
	locations map[int]offsetLocation

	breakpoints map[int][]func(replay.Frame)
}

var _ replay.Script = &Script{}

func (s *Script) URL() string           { return s.source.url }
func (s *Script) StartLine() int        { return s.startLine }
func (s *Script) LineCount() int        { return s.lineCount }
func (s *Script) SourceStart() int      { return s.start }
func (s *Script) SourceLength() int     { return s.length }
func (s *Script) DisplayName() string   { return s.name }
func (s *Script) Source() replay.Source { return s.source }

// MainOffset is the offset of the first statement.
func (s *Script) MainOffset() int {
	return s.offsets[0]
}

// Offsets returns the statement offsets of the script in source order.
func (s *Script) Offsets() []int {
	return append([]int(nil), s.offsets...)
}

// Parent returns the script of the enclosing function, or nil.
func (s *Script) Parent() *Script {
	return s.parent
}

// ParameterNames returns the declared parameter names of a function script.
func (s *Script) ParameterNames() []string {
	return s.params
}

// CompiledSource returns the source the script was compiled from.
func (s *Script) CompiledSource() *Source {
	return s.source
}

// ChildScripts returns the scripts of the functions directly nested in this
// one, in source order.
func (s *Script) ChildScripts() []replay.Script {
	rv := make([]replay.Script, len(s.children))
	for i, child := range s.children {
		rv[i] = child
	}
	return rv
}

// Walk calls fn for the script and all of its descendants, depth first and
// in source order.
func (s *Script) Walk(fn func(*Script)) {
	stack := []*Script{s}
	for len(stack) > 0 {
		script := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(script)
		for i := len(script.children) - 1; i >= 0; i-- {
			stack = append(stack, script.children[i])
		}
	}
}

// FindFunction returns the first script in the tree with the given display
// name.
func (s *Script) FindFunction(name string) *Script {
	var found *Script
	s.Walk(func(script *Script) {
		if found == nil && script.name == name {
			found = script
		}
	})
	return found
}

func (s *Script) index(offset int) (int, bool) {
	i := sort.SearchInts(s.offsets, offset)
	return i, i < len(s.offsets) && s.offsets[i] == offset
}

// HasOffset reports whether offset is a statement offset of the script.
func (s *Script) HasOffset(offset int) bool {
	_, ok := s.index(offset)
	return ok
}

// SetBreakpoint adds a handler run whenever the statement at offset is
// about to execute.
func (s *Script) SetBreakpoint(offset int, handler func(replay.Frame)) error {
	if !s.HasOffset(offset) {
		return fmt.Errorf("%w %d in %s", ErrInvalidOffset, offset, s.source.url)
	}
	s.breakpoints[offset] = append(s.breakpoints[offset], handler)
	return nil
}

// Breakpoints returns the handlers installed at offset.
func (s *Script) Breakpoints(offset int) []func(replay.Frame) {
	return append([]func(replay.Frame){}, s.breakpoints[offset]...)
}

// ClearBreakpoints removes every handler installed on the script.
func (s *Script) ClearBreakpoints() {
	s.breakpoints = make(map[int][]func(replay.Frame))
}

// LineOffsets returns the offsets of the statements starting on line.
func (s *Script) LineOffsets(line int) []int {
	var rv []int
	for _, offset := range s.offsets {
		if s.locations[offset].line == line {
			rv = append(rv, offset)
		}
	}
	return rv
}

// OffsetLocation returns the location of the statement at offset. Columns
// are zero based. When the source has a source map, the original location is
// included.
func (s *Script) OffsetLocation(offset int) (replay.Location, error) {
	if !s.HasOffset(offset) {
		return replay.Location{}, fmt.Errorf("%w %d in %s", ErrInvalidOffset, offset, s.source.url)
	}
	loc := s.locations[offset]
	rv := replay.Location{
		LineNumber:   loc.line,
		ColumnNumber: loc.column,
		IsEntryPoint: true,
	}
	if sm := s.source.sourceMap; sm != nil {
		if file, name, line, column, ok := sm.Source(loc.line, loc.column); ok {
			rv.Original = &replay.OriginalLocation{Source: file, Name: name, Line: line, Column: column}
		}
	}
	return rv, nil
}

// SuccessorOffsets returns the offset of the statement following the one at
// offset.
func (s *Script) SuccessorOffsets(offset int) []int {
	i, ok := s.index(offset)
	if !ok || i+1 >= len(s.offsets) {
		return nil
	}
	return []int{s.offsets[i+1]}
}

// PredecessorOffsets returns the offset of the statement preceding the one
// at offset.
func (s *Script) PredecessorOffsets(offset int) []int {
	i, ok := s.index(offset)
	if !ok || i == 0 {
		return nil
	}
	return []int{s.offsets[i-1]}
}
