package js

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/replayd/js/compiler"
	"github.com/liuxd6825/replayd/replay"
)

// EventKind is the kind of a recorded event.
type EventKind string

// Event kinds.
const (
	EventNewScript  EventKind = "newScript"
	EventEnter      EventKind = "enter"
	EventStep       EventKind = "step"
	EventPop        EventKind = "pop"
	EventConsoleAPI EventKind = "consoleAPI"
	EventPageError  EventKind = "pageError"
)

// Event is one recorded event. Which fields are set depends on Kind.
type Event struct {
	Kind EventKind

	// newScript, enter
	Script *compiler.Script

	// enter
	Callee       *Object
	This         replay.Value
	Arguments    []replay.Value
	Scope        *Environment
	Constructing bool

	// step; Line is used when no offset was recorded
	Offset    int
	HasOffset bool
	Line      int

	// pop
	Completion replay.Completion

	// consoleAPI
	Level string

	// pageError
	Message      string
	Category     string
	Warning      bool
	LineNumber   int
	ColumnNumber int
	WarpTarget   uint64
}

// Recording is a parsed recording: the sources the debuggee ran, the
// documents it loaded and the events of its execution.
type Recording struct {
	Name    string
	Scripts map[string]*compiler.Script
	Content map[string]replay.Content
	Global  *Object
	Events  []Event
}

// ErrInvalidRecording is wrapped by every recording parse error.
var ErrInvalidRecording = errors.New("invalid recording")

type rawSource struct {
	URL                  string `yaml:"url"`
	Text                 string `yaml:"text"`
	DisplayURL           string `yaml:"displayURL"`
	ElementAttributeName string `yaml:"elementAttributeName"`
	IntroductionType     string `yaml:"introductionType"`
	SourceMapURL         string `yaml:"sourceMapURL"`
	SourceMap            string `yaml:"sourceMap"`
	IntroducedBy         *struct {
		URL      string `yaml:"url"`
		Function string `yaml:"function"`
		Offset   int    `yaml:"offset"`
	} `yaml:"introducedBy"`
}

type rawEnter struct {
	URL          string      `yaml:"url"`
	Function     string      `yaml:"function"`
	This         yaml.Node   `yaml:"this"`
	Arguments    []yaml.Node `yaml:"arguments"`
	Scope        yaml.Node   `yaml:"scope"`
	Constructing bool        `yaml:"new"`
}

type rawStep struct {
	Offset *int `yaml:"offset"`
	Line   int  `yaml:"line"`
}

type rawPop struct {
	Return yaml.Node `yaml:"return"`
	Throw  yaml.Node `yaml:"throw"`
}

type rawConsoleAPI struct {
	Level     string      `yaml:"level"`
	Arguments []yaml.Node `yaml:"arguments"`
}

type rawPageError struct {
	Message    string `yaml:"message"`
	Category   string `yaml:"category"`
	Warning    bool   `yaml:"warning"`
	Line       int    `yaml:"line"`
	Column     int    `yaml:"column"`
	WarpTarget uint64 `yaml:"warpTarget"`
}

type rawEvent struct {
	NewScript  string         `yaml:"newScript"`
	Enter      *rawEnter      `yaml:"enter"`
	Step       *rawStep       `yaml:"step"`
	Pop        *rawPop        `yaml:"pop"`
	ConsoleAPI *rawConsoleAPI `yaml:"consoleAPI"`
	PageError  *rawPageError  `yaml:"pageError"`
}

type rawRecording struct {
	Sources []rawSource               `yaml:"sources"`
	Content map[string]replay.Content `yaml:"content"`
	Globals yaml.Node                 `yaml:"globals"`
	Events  []rawEvent                `yaml:"events"`
}

// LoadRecording reads and parses the recording at path. Recordings ending in
// .gz, .zst or .br are decompressed first.
func LoadRecording(fs afero.Fs, path string, c *compiler.Compiler) (*Recording, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	compression, _ := CompressionOf(path)
	data, err := decompress(compression, f)
	if err != nil {
		return nil, fmt.Errorf("%w %s: couldn't decompress it as %s: %w", ErrInvalidRecording, path, compression, err)
	}
	return ParseRecording(path, data, c)
}

// ParseRecording parses a YAML recording.
func ParseRecording(name string, data []byte, c *compiler.Compiler) (*Recording, error) {
	var raw rawRecording
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidRecording, name, err)
	}
	p := &recordingParser{
		compiler: c,
		values:   newValueDecoder(),
		rec: &Recording{
			Name:    name,
			Scripts: make(map[string]*compiler.Script),
			Content: raw.Content,
		},
	}
	if err := p.parse(&raw); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidRecording, name, err)
	}
	return p.rec, nil
}

type recordingParser struct {
	compiler *compiler.Compiler
	values   *valueDecoder
	rec      *Recording
	global   *Environment
	urls     []string
}

func (p *recordingParser) parse(raw *rawRecording) error {
	if p.rec.Content == nil {
		p.rec.Content = make(map[string]replay.Content)
	}
	for i := range raw.Sources {
		if err := p.compile(&raw.Sources[i]); err != nil {
			return err
		}
	}
	for i := range raw.Sources {
		if err := p.introduce(&raw.Sources[i]); err != nil {
			return err
		}
	}
	p.values.functions = p.findFunction

	global, err := p.globals(&raw.Globals)
	if err != nil {
		return err
	}
	p.rec.Global = global
	p.global = NewObjectEnvironment(global)

	p.rec.Events = make([]Event, 0, len(raw.Events))
	for i := range raw.Events {
		ev, err := p.event(&raw.Events[i])
		if err != nil {
			return fmt.Errorf("event %d: %w", i+1, err)
		}
		p.rec.Events = append(p.rec.Events, ev)
	}
	return nil
}

func (p *recordingParser) compile(src *rawSource) error {
	if src.URL == "" {
		return errors.New("source without url")
	}
	if _, dup := p.rec.Scripts[src.URL]; dup {
		return fmt.Errorf("duplicate source %s", src.URL)
	}
	script, err := p.compiler.Compile(compiler.SourceInfo{
		URL:                  src.URL,
		Text:                 src.Text,
		DisplayURL:           src.DisplayURL,
		ElementAttributeName: src.ElementAttributeName,
		IntroductionType:     src.IntroductionType,
		SourceMapURL:         src.SourceMapURL,
		SourceMap:            []byte(src.SourceMap),
	})
	if err != nil {
		return err
	}
	p.rec.Scripts[src.URL] = script
	p.urls = append(p.urls, src.URL)
	return nil
}

func (p *recordingParser) introduce(src *rawSource) error {
	if src.IntroducedBy == nil {
		return nil
	}
	by, err := p.script(src.IntroducedBy.URL, src.IntroducedBy.Function)
	if err != nil {
		return err
	}
	p.rec.Scripts[src.URL].CompiledSource().SetIntroduction(by, src.IntroducedBy.Offset)
	return nil
}

// script finds the script of a function, or the top level when function
// is empty.
func (p *recordingParser) script(url, function string) (*compiler.Script, error) {
	top, ok := p.rec.Scripts[url]
	if !ok {
		return nil, fmt.Errorf("unknown source %s", url)
	}
	if function == "" {
		return top, nil
	}
	script := top.FindFunction(function)
	if script == nil {
		return nil, fmt.Errorf("no function %q in %s", function, url)
	}
	return script, nil
}

// findFunction resolves the code of a recorded function by name, in any
// source.
func (p *recordingParser) findFunction(name string) *compiler.Script {
	for _, url := range p.urls {
		top := p.rec.Scripts[url]
		if script := top.FindFunction(name); script != nil && script != top {
			return script
		}
	}
	return nil
}

func (p *recordingParser) globals(node *yaml.Node) (*Object, error) {
	if node.Kind == 0 {
		return NewObject(ClassObject), nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, errors.New("globals must be a mapping")
	}
	v, err := p.values.decode(node)
	if err != nil {
		return nil, err
	}
	global, ok := v.(*Object)
	if !ok {
		return nil, errors.New("globals must be a mapping")
	}
	return global, nil
}

func (p *recordingParser) event(raw *rawEvent) (Event, error) {
	switch {
	case raw.NewScript != "":
		script, err := p.script(raw.NewScript, "")
		return Event{Kind: EventNewScript, Script: script}, err
	case raw.Enter != nil:
		return p.enter(raw.Enter)
	case raw.Step != nil:
		ev := Event{Kind: EventStep, Line: raw.Step.Line}
		if raw.Step.Offset != nil {
			ev.Offset, ev.HasOffset = *raw.Step.Offset, true
		} else if raw.Step.Line <= 0 {
			return ev, errors.New("step needs an offset or a line")
		}
		return ev, nil
	case raw.Pop != nil:
		return p.pop(raw.Pop)
	case raw.ConsoleAPI != nil:
		args, err := p.values.decodeAll(raw.ConsoleAPI.Arguments)
		level := raw.ConsoleAPI.Level
		if level == "" {
			level = "log"
		}
		return Event{Kind: EventConsoleAPI, Level: level, Arguments: args}, err
	case raw.PageError != nil:
		pe := raw.PageError
		category := pe.Category
		if category == "" {
			category = "content javascript"
		}
		return Event{
			Kind:         EventPageError,
			Message:      pe.Message,
			Category:     category,
			Warning:      pe.Warning,
			LineNumber:   pe.Line,
			ColumnNumber: pe.Column,
			WarpTarget:   pe.WarpTarget,
		}, nil
	}
	return Event{}, errors.New("unknown event")
}

func (p *recordingParser) enter(raw *rawEnter) (Event, error) {
	script, err := p.script(raw.URL, raw.Function)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Kind: EventEnter, Script: script, Constructing: raw.Constructing, Scope: p.global}
	if raw.Function == "" {
		ev.This = p.rec.Global
		return ev, nil
	}

	ev.Callee = NewFunction(raw.Function, script)
	if ev.This, err = p.values.decode(&raw.This); err != nil {
		return ev, err
	}
	if ev.Arguments, err = p.values.decodeAll(raw.Arguments); err != nil {
		return ev, err
	}
	if ev.Arguments == nil {
		ev.Arguments = []replay.Value{}
	}

	ev.Scope = NewDeclarativeEnvironment(p.global, ev.Callee)
	if raw.Scope.Kind == 0 {
		return ev, nil
	}
	if raw.Scope.Kind != yaml.MappingNode {
		return ev, errors.New("scope must be a mapping")
	}
	for i := 0; i+1 < len(raw.Scope.Content); i += 2 {
		v, err := p.values.decode(raw.Scope.Content[i+1])
		if err != nil {
			return ev, err
		}
		ev.Scope.Bind(raw.Scope.Content[i].Value, v)
	}
	return ev, nil
}

func (p *recordingParser) pop(raw *rawPop) (Event, error) {
	ev := Event{Kind: EventPop}
	var err error
	if raw.Throw.Kind != 0 {
		ev.Completion.Threw = true
		ev.Completion.Throw, err = p.values.decode(&raw.Throw)
		return ev, err
	}
	ev.Completion.Return, err = p.values.decode(&raw.Return)
	return ev, err
}

// fields describes the recording in log entries.
func (r *Recording) fields() logrus.Fields {
	return logrus.Fields{"recording": r.Name, "sources": len(r.Scripts), "events": len(r.Events)}
}
