package replay

import "math"

// Value is a debuggee value as seen by the session. Primitives are nil (null),
// Undefined, bool, float64 and string; references are Object or Environment.
type Value = any

type undefinedValue struct{}

// Undefined is the JS undefined value. It is distinct from nil, which stands
// for null.
var Undefined Value = undefinedValue{} //nolint:gochecknoglobals

// IsUndefined reports whether v is the undefined value.
func IsUndefined(v Value) bool {
	_, ok := v.(undefinedValue)
	return ok
}

// IsNaN reports whether v is a NaN number.
func IsNaN(v Value) bool {
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}

// Script is an engine handle for one compiled unit of code: a whole program
// or a single function body.
type Script interface {
	URL() string
	StartLine() int
	LineCount() int
	SourceStart() int
	SourceLength() int
	DisplayName() string
	MainOffset() int
	Source() Source
	ChildScripts() []Script

	SetBreakpoint(offset int, handler func(Frame)) error
	LineOffsets(line int) []int
	OffsetLocation(offset int) (Location, error)
	SuccessorOffsets(offset int) []int
	PredecessorOffsets(offset int) []int
}

// Source is the text backing one or more scripts.
type Source interface {
	Text() string
	URL() string
	DisplayURL() string
	ElementAttributeName() string
	IntroductionScript() Script
	IntroductionOffset() int
	IntroductionType() string
	SourceMapURL() string
}

// Location is the position of a bytecode offset within its source.
type Location struct {
	LineNumber   int               `json:"lineNumber"`
	ColumnNumber int               `json:"columnNumber"`
	IsEntryPoint bool              `json:"isEntryPoint"`
	Original     *OriginalLocation `json:"original,omitempty"`
}

// OriginalLocation is a Location mapped back through a source map.
type OriginalLocation struct {
	Source string `json:"source"`
	Name   string `json:"name,omitempty"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Completion is the result of running a frame or an evaluation to its end.
// Exactly one of Return or Throw is meaningful, selected by Threw.
type Completion struct {
	Return Value
	Throw  Value
	Threw  bool
}

// EvalOptions are passed through to Frame.Eval.
type EvalOptions struct {
	URL        string `json:"url,omitempty"`
	LineNumber int    `json:"lineNumber,omitempty"`
}

// Frame is a live stack frame.
type Frame interface {
	Script() Script
	Older() Frame
	Type() string
	Callee() Object
	Environment() Environment
	Generator() bool
	Constructing() bool
	This() Value
	Offset() int
	// Arguments returns the frame's arguments, or false when the frame has
	// no arguments object (e.g. global code).
	Arguments() ([]Value, bool)
	Eval(text string, opts EvalOptions) (Completion, error)
	// SetOnPop installs the handler called with the frame's completion just
	// before the frame is popped. A nil handler removes it.
	SetOnPop(handler func(Completion))
}

// PropertyDescriptor describes one own property of an Object.
type PropertyDescriptor struct {
	Value        Value
	HasValue     bool
	Get          Object
	Set          Object
	Writable     bool
	Enumerable   bool
	Configurable bool
}

// Object is a debuggee object handle.
type Object interface {
	Callable() bool
	IsBoundFunction() bool
	IsArrowFunction() bool
	IsGeneratorFunction() bool
	IsAsyncFunction() bool
	Proto() Object
	Class() string
	Name() string
	DisplayName() string
	ParameterNames() []string
	Script() Script
	Environment() Environment
	Global() Object
	IsProxy() bool
	IsExtensible() bool
	IsSealed() bool
	IsFrozen() bool
	OwnPropertyNames() []string
	OwnPropertyDescriptor(name string) (PropertyDescriptor, bool)
}

// Environment is a lexical scope handle.
type Environment interface {
	Type() string
	Parent() Environment
	Object() Object
	Callee() Object
	OptimizedOut() bool
	Names() []string
	Variable(name string) Value
}

// Debugger is the engine-wide introspection surface the session drives.
type Debugger interface {
	NewestFrame() Frame
	ClearAllBreakpoints()
	// SetOnEnterFrame installs the hook called for every frame pushed. A nil
	// hook removes it.
	SetOnEnterFrame(hook func(Frame))
}

// Content is a raw resource fetched by URL.
type Content struct {
	ContentType string `json:"contentType" yaml:"contentType"`
	Content     string `json:"content" yaml:"content"`
}

// Host is the embedding process: it is told about position hits and it
// serves content and time-warp lookups.
type Host interface {
	PositionHit(pos Position)
	Content(url string) (Content, error)
	TimeWarpTargetExecutionPoint(target uint64) (ExecutionPoint, bool)
}

// Divergence is the authority consulted before any operation that could run
// debuggee code or depend on state outside of the recording.
type Divergence interface {
	MayDiverge() bool
}

// DivergenceFunc adapts a plain function to Divergence.
type DivergenceFunc func() bool

// MayDiverge calls f.
func (f DivergenceFunc) MayDiverge() bool { return f() }

// NoDivergence refuses every divergence request.
var NoDivergence Divergence = DivergenceFunc(func() bool { return false }) //nolint:gochecknoglobals
