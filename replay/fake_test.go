package replay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	url, text string
	intro     Script
}

func (s *fakeSource) Text() string                 { return s.text }
func (s *fakeSource) URL() string                  { return s.url }
func (s *fakeSource) DisplayURL() string           { return "" }
func (s *fakeSource) ElementAttributeName() string { return "" }
func (s *fakeSource) IntroductionScript() Script   { return s.intro }
func (s *fakeSource) IntroductionOffset() int      { return 7 }
func (s *fakeSource) IntroductionType() string     { return "eval" }
func (s *fakeSource) SourceMapURL() string         { return "" }

type fakeScript struct {
	url      string
	name     string
	source   *fakeSource
	children []Script
	bps      map[int][]func(Frame)
}

func newFakeScript(url string, children ...Script) *fakeScript {
	return &fakeScript{
		url:      url,
		source:   &fakeSource{url: url, text: "// " + url},
		children: children,
		bps:      make(map[int][]func(Frame)),
	}
}

func (s *fakeScript) URL() string            { return s.url }
func (s *fakeScript) StartLine() int         { return 1 }
func (s *fakeScript) LineCount() int         { return 3 }
func (s *fakeScript) SourceStart() int       { return 0 }
func (s *fakeScript) SourceLength() int      { return 10 }
func (s *fakeScript) DisplayName() string    { return s.name }
func (s *fakeScript) MainOffset() int        { return 2 }
func (s *fakeScript) Source() Source         { return s.source }
func (s *fakeScript) ChildScripts() []Script { return s.children }

func (s *fakeScript) SetBreakpoint(offset int, h func(Frame)) error {
	s.bps[offset] = append(s.bps[offset], h)
	return nil
}

func (s *fakeScript) LineOffsets(line int) []int {
	if line == 1 {
		return []int{0, 2}
	}
	return nil
}

func (s *fakeScript) OffsetLocation(offset int) (Location, error) {
	if offset < 0 {
		return Location{}, errors.New("bad offset")
	}
	return Location{LineNumber: 1, ColumnNumber: offset, IsEntryPoint: offset == 2}, nil
}

func (s *fakeScript) SuccessorOffsets(offset int) []int   { return []int{offset + 1} }
func (s *fakeScript) PredecessorOffsets(offset int) []int { return nil }

// execute simulates the engine reaching offset in frame.
func (s *fakeScript) execute(f Frame, offset int) {
	for _, h := range s.bps[offset] {
		h(f)
	}
}

type fakeObject struct {
	class string
	props map[string]Value
	order []string
	proto Object
}

func (o *fakeObject) Callable() bool             { return o.class == "Function" }
func (o *fakeObject) IsBoundFunction() bool      { return false }
func (o *fakeObject) IsArrowFunction() bool      { return false }
func (o *fakeObject) IsGeneratorFunction() bool  { return false }
func (o *fakeObject) IsAsyncFunction() bool      { return false }
func (o *fakeObject) Proto() Object              { return o.proto }
func (o *fakeObject) Class() string              { return o.class }
func (o *fakeObject) Name() string               { return "" }
func (o *fakeObject) DisplayName() string        { return "" }
func (o *fakeObject) ParameterNames() []string   { return nil }
func (o *fakeObject) Script() Script             { return nil }
func (o *fakeObject) Environment() Environment   { return nil }
func (o *fakeObject) Global() Object             { return nil }
func (o *fakeObject) IsProxy() bool              { return false }
func (o *fakeObject) IsExtensible() bool         { return true }
func (o *fakeObject) IsSealed() bool             { return false }
func (o *fakeObject) IsFrozen() bool             { return false }
func (o *fakeObject) OwnPropertyNames() []string { return o.order }

func (o *fakeObject) OwnPropertyDescriptor(name string) (PropertyDescriptor, bool) {
	v, ok := o.props[name]
	if !ok {
		return PropertyDescriptor{}, false
	}
	return PropertyDescriptor{Value: v, HasValue: true, Writable: true, Enumerable: true, Configurable: true}, true
}

type fakeEnv struct {
	parent Environment
	vars   map[string]Value
	names  []string
}

func (e *fakeEnv) Type() string               { return "declarative" }
func (e *fakeEnv) Parent() Environment        { return e.parent }
func (e *fakeEnv) Object() Object             { return nil }
func (e *fakeEnv) Callee() Object             { return nil }
func (e *fakeEnv) OptimizedOut() bool         { return false }
func (e *fakeEnv) Names() []string            { return e.names }
func (e *fakeEnv) Variable(name string) Value { return e.vars[name] }

type fakeFrame struct {
	script *fakeScript
	older  *fakeFrame
	this   Value
	args   []Value
	env    Environment
	offset int
	onPop  func(Completion)
	eval   func(text string) (Completion, error)
}

func (f *fakeFrame) Script() Script {
	if f.script == nil {
		return nil
	}
	return f.script
}

func (f *fakeFrame) Older() Frame {
	if f.older == nil {
		return nil
	}
	return f.older
}

func (f *fakeFrame) Type() string             { return "call" }
func (f *fakeFrame) Callee() Object           { return nil }
func (f *fakeFrame) Environment() Environment { return f.env }
func (f *fakeFrame) Generator() bool          { return false }
func (f *fakeFrame) Constructing() bool       { return false }
func (f *fakeFrame) This() Value              { return f.this }
func (f *fakeFrame) Offset() int              { return f.offset }

func (f *fakeFrame) Arguments() ([]Value, bool) {
	return f.args, f.args != nil
}

func (f *fakeFrame) Eval(text string, _ EvalOptions) (Completion, error) {
	if f.eval == nil {
		return Completion{Return: Undefined}, nil
	}
	return f.eval(text)
}

func (f *fakeFrame) SetOnPop(h func(Completion)) { f.onPop = h }

type fakeDebugger struct {
	newest  *fakeFrame
	enter   func(Frame)
	scripts []*fakeScript
	cleared int
}

func (d *fakeDebugger) NewestFrame() Frame {
	if d.newest == nil {
		return nil
	}
	return d.newest
}

func (d *fakeDebugger) ClearAllBreakpoints() {
	d.cleared++
	for _, s := range d.scripts {
		s.bps = make(map[int][]func(Frame))
	}
}

func (d *fakeDebugger) SetOnEnterFrame(h func(Frame)) { d.enter = h }

func (d *fakeDebugger) push(f *fakeFrame) {
	f.older = d.newest
	d.newest = f
	if d.enter != nil {
		d.enter(f)
	}
}

func (d *fakeDebugger) pop(c Completion) {
	f := d.newest
	if f.onPop != nil {
		f.onPop(c)
	}
	d.newest = f.older
}

type fakeHost struct {
	hits    []Position
	onHit   func(Position)
	content map[string]Content
	warps   map[uint64]ExecutionPoint
}

func (h *fakeHost) PositionHit(pos Position) {
	h.hits = append(h.hits, pos)
	if h.onHit != nil {
		h.onHit(pos)
	}
}

func (h *fakeHost) Content(url string) (Content, error) {
	c, ok := h.content[url]
	if !ok {
		return Content{}, errors.New("no content for " + url)
	}
	return c, nil
}

func (h *fakeHost) TimeWarpTargetExecutionPoint(target uint64) (ExecutionPoint, bool) {
	p, ok := h.warps[target]
	return p, ok
}

func newTestSession(t *testing.T) (*Session, *fakeDebugger, *fakeHost) {
	t.Helper()
	dbg := &fakeDebugger{}
	host := &fakeHost{content: map[string]Content{}, warps: map[uint64]ExecutionPoint{}}
	s, err := NewSession(Config{Debugger: dbg, Host: host})
	require.NoError(t, err)
	return s, dbg, host
}

func allowDivergence() Divergence {
	return DivergenceFunc(func() bool { return true })
}
