package replay

import "encoding/json"

// Console message kinds.
const (
	MessagePageError  = "PageError"
	MessageConsoleAPI = "ConsoleAPI"
)

// ConsoleMessage is one immutable entry of the console log.
type ConsoleMessage struct {
	MessageType    string
	ExecutionPoint ExecutionPoint
	Contents       map[string]any
}

// MarshalJSON flattens the contents next to the message type and point.
func (m ConsoleMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Contents)+2)
	for k, v := range m.Contents {
		out[k] = v
	}
	out["messageType"] = m.MessageType
	out["executionPoint"] = m.ExecutionPoint
	return json.Marshal(out)
}

// ConsoleLog is the append-only log of console messages of a session.
type ConsoleLog struct {
	session  *Session
	messages []ConsoleMessage
}

func newConsoleLog(s *Session) *ConsoleLog {
	return &ConsoleLog{session: s}
}

func (l *ConsoleLog) reset() {
	l.messages = nil
}

// append advances the progress counter and stores a copy of contents. A nil
// point is replaced by the current execution point.
func (l *ConsoleLog) append(kind string, point *ExecutionPoint, contents map[string]any) ConsoleMessage {
	// every message gets its own progress value
	l.session.advanceProgress()

	if point == nil {
		current := l.session.CurrentExecutionPoint(PositionConsoleMessage)
		point = &current
	}
	msg := ConsoleMessage{
		MessageType:    kind,
		ExecutionPoint: *point,
		Contents:       cloneContents(contents),
	}
	l.messages = append(l.messages, msg)

	l.session.hitGlobalHandler(PositionConsoleMessage)
	return msg
}

// All returns copies of every message in append order.
func (l *ConsoleLog) All() []ConsoleMessage {
	rv := make([]ConsoleMessage, len(l.messages))
	for i, msg := range l.messages {
		rv[i] = msg.clone()
	}
	return rv
}

// Last returns a copy of the most recent message.
func (l *ConsoleLog) Last() (ConsoleMessage, bool) {
	if len(l.messages) == 0 {
		return ConsoleMessage{}, false
	}
	return l.messages[len(l.messages)-1].clone(), true
}

// Len returns the number of messages.
func (l *ConsoleLog) Len() int {
	return len(l.messages)
}

func (m ConsoleMessage) clone() ConsoleMessage {
	m.Contents = cloneContents(m.Contents)
	if m.ExecutionPoint.Position != nil {
		pos := *m.ExecutionPoint.Position
		m.ExecutionPoint.Position = &pos
	}
	return m
}

func cloneContents(contents map[string]any) map[string]any {
	if contents == nil {
		return map[string]any{}
	}
	rv, _ := cloneJSONValue(contents).(map[string]any)
	return rv
}

func cloneJSONValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		rv := make(map[string]any, len(val))
		for k, e := range val {
			rv[k] = cloneJSONValue(e)
		}
		return rv
	case []any:
		rv := make([]any, len(val))
		for i, e := range val {
			rv[i] = cloneJSONValue(e)
		}
		return rv
	}
	return v
}

// Console returns the session's console log.
func (s *Session) Console() *ConsoleLog {
	return s.console
}

// StackFrame is one frame of the stack attached to a page error.
type StackFrame struct {
	Source              string
	Line                int
	Column              int
	FunctionDisplayName string
	Parent              *StackFrame
}

// PageError is a script error reported by the page.
type PageError struct {
	ErrorMessage string
	SourceName   string
	LineNumber   int
	ColumnNumber int
	Category     string
	Warning      bool
	// TimeWarpTarget, when non-zero, names the point where the error was
	// originally generated.
	TimeWarpTarget uint64
	Stack          *StackFrame
}

// ConsoleAPICall is a call to one of the console methods.
type ConsoleAPICall struct {
	Level        string
	Arguments    []any
	Filename     string
	LineNumber   int
	ColumnNumber int
	FunctionName string
	TimeStamp    int64
}

// OnPageError records a page error. When the host can map the error's
// time-warp target, the message is stamped with that point instead of the
// current one.
func (s *Session) OnPageError(e PageError) {
	var point *ExecutionPoint
	if e.TimeWarpTarget != 0 {
		if p, ok := s.host.TimeWarpTargetExecutionPoint(e.TimeWarpTarget); ok {
			point = &p
		}
	}
	contents := map[string]any{
		"errorMessage": e.ErrorMessage,
		"sourceName":   e.SourceName,
		"lineNumber":   e.LineNumber,
		"columnNumber": e.ColumnNumber,
		"category":     e.Category,
		"warning":      e.Warning,
		"stack":        convertStack(e.Stack),
	}
	if e.TimeWarpTarget != 0 {
		contents["timeWarpTarget"] = e.TimeWarpTarget
	}
	s.console.append(MessagePageError, point, contents)
}

// OnConsoleAPICall records a console API call at the current point.
func (s *Session) OnConsoleAPICall(c ConsoleAPICall) {
	args := make([]any, len(c.Arguments))
	copy(args, c.Arguments)
	s.console.append(MessageConsoleAPI, nil, map[string]any{
		"level":        c.Level,
		"arguments":    args,
		"filename":     c.Filename,
		"lineNumber":   c.LineNumber,
		"columnNumber": c.ColumnNumber,
		"functionName": c.FunctionName,
		"timeStamp":    c.TimeStamp,
	})
}

// convertStack turns a stack chain into nested maps, innermost first.
func convertStack(stack *StackFrame) any {
	var frames []*StackFrame
	for f := stack; f != nil; f = f.Parent {
		frames = append(frames, f)
	}

	var rv any
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		rv = map[string]any{
			"source":              f.Source,
			"line":                f.Line,
			"column":              f.Column,
			"functionDisplayName": f.FunctionDisplayName,
			"parent":              rv,
		}
	}
	return rv
}
