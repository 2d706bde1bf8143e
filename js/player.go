// Package js replays recorded JavaScript executions: recordings are parsed
// into compiled scripts and events, and a Player steps through them as the
// debugger and host of a replay.Session.
package js

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/liuxd6825/replayd/js/compiler"
	"github.com/liuxd6825/replayd/replay"
)

// Sink receives the events of the replayed execution. *replay.Session
// implements it.
type Sink interface {
	OnNewScript(replay.Script)
	OnConsoleAPICall(replay.ConsoleAPICall)
	OnPageError(replay.PageError)
	CurrentExecutionPoint(replay.PositionKind) replay.ExecutionPoint
}

// ErrStopped is returned by Play when playback was stopped.
var ErrStopped = errors.New("playback stopped")

// ErrNoSink is returned by Play when no sink is attached.
var ErrNoSink = errors.New("no sink attached")

// DefaultEvalTimeout bounds evaluations when PlayerOptions don't.
const DefaultEvalTimeout = 5 * time.Second

// PlayerOptions configure a Player.
type PlayerOptions struct {
	Logger logrus.FieldLogger
	// Fs and ContentRoot serve documents the recording doesn't contain.
	Fs          afero.Fs
	ContentRoot string
	// AllowDivergence lets the controller evaluate code and inspect values
	// beyond what the recording guarantees.
	AllowDivergence bool
	EvalTimeout     time.Duration
}

// Player replays a recording. It is the debugger and the host a session
// works against: engine callbacks fire while events are played, and hits are
// handed to the pause handler, which blocks until the controller resumes.
// A Player is not safe for concurrent use.
type Player struct {
	rec             *Recording
	logger          logrus.FieldLogger
	fs              afero.Fs
	contentRoot     string
	allowDivergence bool
	evalTimeout     time.Duration

	sink    Sink
	pause   func(replay.Position)
	onEnter func(replay.Frame)

	newest  *Frame
	cursor  int
	points  []replay.ExecutionPoint
	stopped bool
}

var (
	_ replay.Debugger   = &Player{}
	_ replay.Host       = &Player{}
	_ replay.Divergence = &Player{}
)

// NewPlayer returns a player positioned at the start of rec.
func NewPlayer(rec *Recording, opts PlayerOptions) *Player {
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewMemMapFs()
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = DefaultEvalTimeout
	}
	return &Player{
		rec:             rec,
		logger:          logger.WithField("component", "player"),
		fs:              opts.Fs,
		contentRoot:     opts.ContentRoot,
		allowDivergence: opts.AllowDivergence,
		evalTimeout:     opts.EvalTimeout,
	}
}

// Attach sets the sink events are delivered to.
func (p *Player) Attach(sink Sink) {
	p.sink = sink
}

// SetPauseHandler sets the function position hits are reported to.
func (p *Player) SetPauseHandler(handler func(replay.Position)) {
	p.pause = handler
}

// Recording returns the recording being played.
func (p *Player) Recording() *Recording {
	return p.rec
}

// Cursor returns the number of events played so far.
func (p *Player) Cursor() int {
	return p.cursor
}

// Done reports whether every event was played.
func (p *Player) Done() bool {
	return p.cursor >= len(p.rec.Events)
}

// MayDiverge reports whether the controller may go beyond the recording.
func (p *Player) MayDiverge() bool {
	return p.allowDivergence
}

// NewestFrame returns the innermost frame, or nil.
func (p *Player) NewestFrame() replay.Frame {
	if p.newest == nil {
		return nil
	}
	return p.newest
}

// ClearAllBreakpoints removes the breakpoints of every script.
func (p *Player) ClearAllBreakpoints() {
	for _, top := range p.rec.Scripts {
		top.Walk((*compiler.Script).ClearBreakpoints)
	}
}

// SetOnEnterFrame sets the hook run whenever a frame is pushed.
func (p *Player) SetOnEnterFrame(handler func(replay.Frame)) {
	p.onEnter = handler
}

// PositionHit hands a hit to the pause handler.
func (p *Player) PositionHit(pos replay.Position) {
	p.logger.WithField("position", pos.Kind).Debug("Position hit")
	if p.pause != nil {
		p.pause(pos)
	}
}

// Content returns a document loaded by the debuggee: recorded documents
// first, then recorded sources, then files below the content root.
func (p *Player) Content(rawURL string) (replay.Content, error) {
	if c, ok := p.rec.Content[rawURL]; ok {
		return c, nil
	}
	if script, ok := p.rec.Scripts[rawURL]; ok {
		return replay.Content{ContentType: "text/javascript", Content: script.CompiledSource().Text()}, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return replay.Content{}, err
	}
	if u.Scheme != "" && u.Scheme != "file" {
		return replay.Content{}, fmt.Errorf("no content recorded for %s", rawURL)
	}
	name := filepath.Join(p.contentRoot, filepath.FromSlash(path.Clean("/"+u.Path)))
	data, err := afero.ReadFile(p.fs, name)
	if err != nil {
		return replay.Content{}, err
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "text/plain"
	}
	return replay.Content{ContentType: contentType, Content: string(data)}, nil
}

// TimeWarpTargetExecutionPoint returns the execution point reached after
// the target'th event, once that event was played.
func (p *Player) TimeWarpTargetExecutionPoint(target uint64) (replay.ExecutionPoint, bool) {
	if target == 0 || target > uint64(len(p.points)) {
		return replay.ExecutionPoint{}, false
	}
	return p.points[target-1], true
}

// Stop makes Play return after the current event.
func (p *Player) Stop() {
	p.stopped = true
}

// Rewind drops the stack and moves back to the first event. The sink is
// expected to be reset separately.
func (p *Player) Rewind() {
	p.ClearAllBreakpoints()
	p.onEnter = nil
	p.newest = nil
	p.cursor = 0
	p.points = nil
	p.stopped = false
	p.logger.WithFields(p.rec.fields()).Debug("Rewound")
}

// Play plays events until the end of the recording, an error, the context
// being done or Stop.
func (p *Player) Play(ctx context.Context) error {
	if p.sink == nil {
		return ErrNoSink
	}
	p.stopped = false
	for !p.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Step(); err != nil {
			return err
		}
		if p.stopped {
			return ErrStopped
		}
	}
	return nil
}

// Step plays the next event.
func (p *Player) Step() error {
	if p.sink == nil {
		return ErrNoSink
	}
	if p.Done() {
		return nil
	}
	ev := &p.rec.Events[p.cursor]
	p.cursor++
	if err := p.apply(ev); err != nil {
		return fmt.Errorf("event %d (%s): %w", p.cursor, ev.Kind, err)
	}
	p.points = append(p.points, p.sink.CurrentExecutionPoint(replay.PositionBreak))
	return nil
}

func (p *Player) apply(ev *Event) error {
	switch ev.Kind {
	case EventNewScript:
		p.sink.OnNewScript(ev.Script)
	case EventEnter:
		p.enter(ev)
	case EventStep:
		return p.step(ev)
	case EventPop:
		return p.pop(ev)
	case EventConsoleAPI:
		p.consoleAPI(ev)
	case EventPageError:
		p.pageError(ev)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}

func (p *Player) enter(ev *Event) {
	frame := &Frame{
		player:       p,
		script:       ev.Script,
		older:        p.newest,
		callee:       ev.Callee,
		env:          ev.Scope,
		this:         ev.This,
		args:         ev.Arguments,
		constructing: ev.Constructing,
		offset:       ev.Script.MainOffset(),
	}
	p.newest = frame
	if p.onEnter != nil {
		p.onEnter(frame)
	}
	p.execute(frame)
}

func (p *Player) step(ev *Event) error {
	frame := p.newest
	if frame == nil {
		return errors.New("step without a frame")
	}
	offset := ev.Offset
	if !ev.HasOffset {
		offsets := frame.script.LineOffsets(ev.Line)
		if len(offsets) == 0 {
			return fmt.Errorf("no statement on line %d of %s", ev.Line, frame.script.URL())
		}
		offset = offsets[0]
	}
	if !frame.script.HasOffset(offset) {
		return fmt.Errorf("%w %d in %s", compiler.ErrInvalidOffset, offset, frame.script.URL())
	}
	frame.offset = offset
	p.execute(frame)
	return nil
}

// execute runs the breakpoint handlers of the frame's current offset.
func (p *Player) execute(frame *Frame) {
	for _, handler := range frame.script.Breakpoints(frame.offset) {
		handler(frame)
	}
}

func (p *Player) pop(ev *Event) error {
	frame := p.newest
	if frame == nil {
		return errors.New("pop without a frame")
	}
	if frame.onPop != nil {
		frame.onPop(ev.Completion)
	}
	p.newest = frame.older
	return nil
}

func (p *Player) consoleAPI(ev *Event) {
	call := replay.ConsoleAPICall{
		Level:     ev.Level,
		Arguments: make([]any, len(ev.Arguments)),
		TimeStamp: int64(p.cursor),
	}
	for i, arg := range ev.Arguments {
		call.Arguments[i] = plainValue(arg, nil)
	}
	if frame := p.newest; frame != nil {
		call.Filename = frame.script.URL()
		call.FunctionName = frame.script.DisplayName()
		if loc, err := frame.script.OffsetLocation(frame.offset); err == nil {
			call.LineNumber, call.ColumnNumber = loc.LineNumber, loc.ColumnNumber
		}
	}
	p.sink.OnConsoleAPICall(call)
}

func (p *Player) pageError(ev *Event) {
	pe := replay.PageError{
		ErrorMessage:   ev.Message,
		Category:       ev.Category,
		Warning:        ev.Warning,
		LineNumber:     ev.LineNumber,
		ColumnNumber:   ev.ColumnNumber,
		TimeWarpTarget: ev.WarpTarget,
	}
	if p.newest != nil {
		pe.SourceName = p.newest.script.URL()
	}

	// the stack is built outermost first so each frame can point at its
	// caller
	var frames []*Frame
	for f := p.newest; f != nil; f = f.older {
		frames = append(frames, f)
	}
	var parent *replay.StackFrame
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		sf := &replay.StackFrame{
			Source:              f.script.URL(),
			FunctionDisplayName: f.script.DisplayName(),
			Parent:              parent,
		}
		if loc, err := f.script.OffsetLocation(f.offset); err == nil {
			sf.Line, sf.Column = loc.LineNumber, loc.ColumnNumber
		}
		parent = sf
	}
	pe.Stack = parent
	if pe.LineNumber == 0 && parent != nil {
		pe.LineNumber, pe.ColumnNumber = parent.Line, parent.Column
	}
	p.sink.OnPageError(pe)
}

// plainValue converts a recorded value into plain JSON data for console
// messages.
func plainValue(v replay.Value, seen map[*Object]bool) any {
	switch val := v.(type) {
	case *Object:
		if seen[val] {
			return "[Circular]"
		}
		if seen == nil {
			seen = make(map[*Object]bool)
		}
		seen[val] = true
		defer delete(seen, val)

		switch val.class {
		case ClassFunction:
			return functionLog
		case ClassArray:
			n, _ := val.Property("length")
			length, _ := n.(float64)
			items := make([]any, 0, int(length))
			for i := 0; i < int(length); i++ {
				item, _ := val.Property(strconv.Itoa(i))
				items = append(items, plainValue(item, seen))
			}
			return items
		}
		m := make(map[string]any, len(val.props))
		for _, prop := range val.props {
			m[prop.name] = plainValue(prop.value, seen)
		}
		return m
	case float64:
		switch {
		case math.IsNaN(val):
			return "NaN"
		case math.IsInf(val, 1):
			return "Infinity"
		case math.IsInf(val, -1):
			return "-Infinity"
		}
		return val
	}
	if replay.IsUndefined(v) {
		return "undefined"
	}
	return v
}
