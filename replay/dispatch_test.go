package replay

import (
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/replayd/lib/testutils"
)

func TestRequestTypesHaveHandlers(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSession(t)
	for _, typ := range RequestTypes() {
		_, ok := s.handlers[typ]
		assert.True(t, ok, "no handler for %s", typ)
	}
	assert.Len(t, s.handlers, len(RequestTypes()))
}

func TestUnknownRequest(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSession(t)
	resp := s.ProcessRequest(Request{Type: "launchRockets"}, nil)
	exc, ok := resp.(ExceptionResponse)
	require.True(t, ok)
	assert.Contains(t, exc.Exception, "launchRockets")
}

func TestScriptRequests(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSession(t)

	resp := s.ProcessRequest(Request{Type: RequestGetNewScript}, nil)
	assert.Equal(t, ExceptionResponse{Exception: ErrNoScripts.Error()}, resp)

	inner := newFakeScript("a.js")
	inner.name = "inner"
	s.OnNewScript(newFakeScript("a.js", inner))

	resp = s.ProcessRequest(Request{Type: RequestGetNewScript}, nil)
	data, ok := resp.(ScriptData)
	require.True(t, ok)
	assert.Equal(t, 2, data.ID)
	assert.Equal(t, "inner", data.DisplayName)

	resp = s.ProcessRequest(Request{Type: RequestGetScript, ID: 1}, nil)
	data, ok = resp.(ScriptData)
	require.True(t, ok)
	assert.Equal(t, 1, data.ID)
	assert.Equal(t, 1, data.SourceID)
	assert.Equal(t, "a.js", data.URL)

	resp = s.ProcessRequest(Request{Type: RequestGetScript, ID: 3}, nil)
	assert.Equal(t, ExceptionResponse{Exception: ErrUnknownScript.Error()}, resp)

	resp = s.ProcessRequest(Request{Type: RequestGetSource, ID: 1}, nil)
	src, ok := resp.(SourceData)
	require.True(t, ok)
	assert.Equal(t, "// a.js", src.Text)

	resp = s.ProcessRequest(Request{Type: RequestFindScripts}, nil)
	assert.Len(t, resp, 2)
}

func TestForwardedScriptRequests(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSession(t)
	s.OnNewScript(newFakeScript("a.js"))

	tests := []struct {
		req      Request
		expected any
	}{
		{Request{Type: RequestGetLineOffsets, ID: 1, Value: 1}, []int{0, 2}},
		{Request{Type: RequestGetLineOffsets, ID: 1, Value: 7}, []int{}},
		{Request{Type: RequestGetOffsetLocation, ID: 1, Value: 2}, Location{LineNumber: 1, ColumnNumber: 2, IsEntryPoint: true}},
		{Request{Type: RequestGetOffsetLocation, ID: 1, Value: -1}, ExceptionResponse{Exception: "bad offset"}},
		{Request{Type: RequestGetSuccessorOffsets, ID: 1, Value: 4}, []int{5}},
		{Request{Type: RequestGetPredecessorOffsets, ID: 1, Value: 4}, []int{}},
		{Request{Type: RequestGetLineOffsets, ID: 2, Value: 1}, ExceptionResponse{Exception: ErrUnknownScript.Error()}},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, s.ProcessRequest(tc.req, nil), "%+v", tc.req)
	}
}

func TestGetContent(t *testing.T) {
	t.Parallel()

	s, _, host := newTestSession(t)
	host.content["page.html"] = Content{ContentType: "text/html", Content: "<p>hi</p>"}

	assert.Equal(t, Content{ContentType: "text/html", Content: "<p>hi</p>"},
		s.ProcessRequest(Request{Type: RequestGetContent, URL: "page.html"}, nil))
	resp := s.ProcessRequest(Request{Type: RequestGetContent, URL: "missing.html"}, nil)
	assert.IsType(t, ExceptionResponse{}, resp)
}

// pauseWithFrame sets up a paused session with one frame of a.js whose
// arguments and scope refer to a few objects.
func pauseWithFrame(t *testing.T) (*Session, *fakeFrame) {
	t.Helper()
	s, dbg, _ := newTestSession(t)
	a := newFakeScript("a.js")
	s.OnNewScript(a)

	proto := &fakeObject{class: "Object"}
	obj := &fakeObject{
		class: "Object",
		proto: proto,
		props: map[string]Value{"x": 1.0, "nan": math.NaN(), "self": nil},
		order: []string{"x", "nan"},
	}
	global := &fakeEnv{names: []string{"g"}, vars: map[string]Value{"g": math.Inf(-1)}}
	env := &fakeEnv{parent: global, names: []string{"o", "u"}, vars: map[string]Value{"o": obj, "u": Undefined}}
	frame := &fakeFrame{script: a, this: obj, args: []Value{obj, "str"}, env: env, offset: 4}
	dbg.push(frame)
	return s, frame
}

func TestGetFrame(t *testing.T) {
	t.Parallel()

	t.Run("no frames", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newTestSession(t)
		assert.Equal(t, struct{}{}, s.ProcessRequest(Request{Type: RequestGetFrame, Index: -1}, nil))
		assert.Equal(t, ExceptionResponse{Exception: ErrUnknownFrame.Error()},
			s.ProcessRequest(Request{Type: RequestGetFrame, Index: 0}, nil))
	})

	t.Run("newest", func(t *testing.T) {
		t.Parallel()
		s, _ := pauseWithFrame(t)
		resp := s.ProcessRequest(Request{Type: RequestGetFrame, Index: -1}, nil)
		data, ok := resp.(FrameData)
		require.True(t, ok)
		assert.Equal(t, 0, data.Index)
		assert.Equal(t, 1, data.Script)
		assert.Equal(t, 4, data.Offset)
		assert.Equal(t, "call", data.Type)
		assert.Equal(t, ObjectRef{Object: 2}, data.This, "the environment got id 1")
		assert.Equal(t, []any{ObjectRef{Object: 2}, "str"}, data.Arguments)
		assert.Equal(t, 1, data.Environment)
		assert.Equal(t, 2, s.PausedObjects())
	})
}

func TestPausedObjects(t *testing.T) {
	t.Parallel()

	s, _ := pauseWithFrame(t)
	s.ProcessRequest(Request{Type: RequestGetFrame, Index: 0}, nil)

	resp := s.ProcessRequest(Request{Type: RequestGetObject, ID: 2}, nil)
	obj, ok := resp.(ObjectData)
	require.True(t, ok)
	assert.Equal(t, "Object", obj.Kind)
	assert.Equal(t, "Object", obj.Class)
	assert.Equal(t, 3, obj.Proto)
	assert.False(t, obj.Callable)

	resp = s.ProcessRequest(Request{Type: RequestGetObject, ID: 1}, nil)
	env, ok := resp.(EnvironmentData)
	require.True(t, ok)
	assert.Equal(t, "Environment", env.Kind)
	assert.Equal(t, "declarative", env.Type)
	assert.Equal(t, 4, env.Parent)
	assert.Equal(t, 0, env.Object)

	resp = s.ProcessRequest(Request{Type: RequestGetObjectProperties, ID: 2}, allowDivergence())
	assert.Equal(t, []PropertyData{
		{Name: "x", Desc: map[string]any{"value": 1.0, "writable": true, "enumerable": true, "configurable": true}},
		{Name: "nan", Desc: map[string]any{"value": SpecialValue{Special: "NaN"}, "writable": true, "enumerable": true, "configurable": true}},
	}, resp)

	resp = s.ProcessRequest(Request{Type: RequestGetEnvironmentNames, ID: 1}, allowDivergence())
	assert.Equal(t, []NameData{
		{Name: "o", Value: ObjectRef{Object: 2}},
		{Name: "u", Value: SpecialValue{Special: "undefined"}},
	}, resp)

	resp = s.ProcessRequest(Request{Type: RequestGetEnvironmentNames, ID: 4}, allowDivergence())
	assert.Equal(t, []NameData{{Name: "g", Value: SpecialValue{Special: "-Infinity"}}}, resp)

	// environments have no properties and objects have no names
	assert.IsType(t, ExceptionResponse{}, s.ProcessRequest(Request{Type: RequestGetObjectProperties, ID: 1}, allowDivergence()))
	assert.IsType(t, ExceptionResponse{}, s.ProcessRequest(Request{Type: RequestGetEnvironmentNames, ID: 2}, allowDivergence()))

	s.ProcessRequest(Request{Type: RequestClearPausedState}, nil)
	assert.Zero(t, s.PausedObjects())
	assert.Equal(t, ExceptionResponse{Exception: ErrUnknownObject.Error()},
		s.ProcessRequest(Request{Type: RequestGetObject, ID: 2}, nil))

	// ids are handed out again from 1
	resp = s.ProcessRequest(Request{Type: RequestGetFrame, Index: 0}, nil)
	data, ok := resp.(FrameData)
	require.True(t, ok)
	assert.Equal(t, 1, data.Environment)
}

func TestDivergenceRefused(t *testing.T) {
	t.Parallel()

	s, frame := pauseWithFrame(t)
	evaluated := false
	frame.eval = func(string) (Completion, error) {
		evaluated = true
		return Completion{Return: 1.0}, nil
	}
	s.ProcessRequest(Request{Type: RequestGetFrame, Index: 0}, nil)

	assert.Equal(t, []PropertyData{{
		Name: "Unknown properties",
		Desc: map[string]any{"value": "Recording divergence in getObjectProperties", "enumerable": true},
	}}, s.ProcessRequest(Request{Type: RequestGetObjectProperties, ID: 2}, NoDivergence))

	assert.Equal(t, []NameData{{Name: "Unknown names", Value: "Recording divergence in getEnvironmentNames"}},
		s.ProcessRequest(Request{Type: RequestGetEnvironmentNames, ID: 1}, nil))

	assert.Equal(t, map[string]any{"throw": "Recording divergence in frameEvaluate"},
		s.ProcessRequest(Request{Type: RequestFrameEvaluate, Index: 0, Text: "1"}, nil))
	assert.False(t, evaluated)
}

func TestFrameEvaluate(t *testing.T) {
	t.Parallel()

	s, frame := pauseWithFrame(t)
	nested := newFakeScript("eval.js")
	frame.eval = func(text string) (Completion, error) {
		// scripts created by the evaluation are not recorded
		s.OnNewScript(nested)
		switch text {
		case "throw":
			return Completion{Throw: math.Inf(1), Threw: true}, nil
		case "broken":
			return Completion{}, errors.New("syntax error")
		}
		return Completion{Return: "ok"}, nil
	}

	assert.Equal(t, map[string]any{"return": "ok"},
		s.ProcessRequest(Request{Type: RequestFrameEvaluate, Index: 0, Text: "x"}, allowDivergence()))
	assert.Equal(t, map[string]any{"throw": SpecialValue{Special: "Infinity"}},
		s.ProcessRequest(Request{Type: RequestFrameEvaluate, Index: 0, Text: "throw"}, allowDivergence()))
	assert.Equal(t, ExceptionResponse{Exception: "syntax error"},
		s.ProcessRequest(Request{Type: RequestFrameEvaluate, Index: 0, Text: "broken"}, allowDivergence()))
	assert.Equal(t, ExceptionResponse{Exception: ErrUnknownFrame.Error()},
		s.ProcessRequest(Request{Type: RequestFrameEvaluate, Index: 3, Text: "x"}, allowDivergence()))

	assert.Len(t, s.Scripts(), 1)
	assert.Equal(t, uint64(1), s.Progress())
}

func TestPanickingHandler(t *testing.T) {
	t.Parallel()

	logger := logrus.New()
	hook := testutils.NewLogHook(logrus.WarnLevel)
	logger.AddHook(hook)
	logger.SetOutput(testutils.NewTestOutput(t))

	dbg := &fakeDebugger{}
	s, err := NewSession(Config{Debugger: dbg, Host: &fakeHost{}, Logger: logger})
	require.NoError(t, err)
	a := newFakeScript("a.js")
	s.OnNewScript(a)

	frame := &fakeFrame{script: a, eval: func(string) (Completion, error) {
		var m map[string]int
		m["boom"]++
		return Completion{}, nil
	}}
	dbg.push(frame)

	resp := s.ProcessRequest(Request{Type: RequestFrameEvaluate, Index: 0}, allowDivergence())
	exc, ok := resp.(ExceptionResponse)
	require.True(t, ok)
	assert.Contains(t, exc.Exception, "nil map")
	assert.NotEmpty(t, hook.Drain())

	// the session is still usable
	assert.Len(t, s.ProcessRequest(Request{Type: RequestFindScripts}, nil), 1)
	assert.Equal(t, uint64(1), s.Progress())
}

func TestAssertionPropagates(t *testing.T) {
	t.Parallel()

	s, dbg, _ := newTestSession(t)
	a := newFakeScript("a.js")
	s.OnNewScript(a)

	frame := &fakeFrame{script: a, eval: func(string) (Completion, error) {
		s.scripts.Add(a)
		return Completion{}, nil
	}}
	dbg.push(frame)

	assert.PanicsWithError(t, "assertion failed: IDMap.Add of an object that is already registered", func() {
		s.ProcessRequest(Request{Type: RequestFrameEvaluate, Index: 0}, allowDivergence())
	})
}

func TestPositionRequests(t *testing.T) {
	t.Parallel()

	s, _, host := newTestSession(t)
	s.OnNewScript(newFakeScript("a.js"))

	assert.Equal(t, ExceptionResponse{Exception: ErrInvalidPosition.Error() + ": missing position"},
		s.ProcessRequest(Request{Type: RequestEnsurePositionHandler}, nil))

	resp := s.ProcessRequest(Request{
		Type:     RequestEnsurePositionHandler,
		Position: &Position{Kind: PositionNewScript},
	}, nil)
	assert.Equal(t, struct{}{}, resp)
	assert.Equal(t, PositionsArmed, s.PositionTableState())

	s.OnNewScript(newFakeScript("b.js"))
	assert.Equal(t, []Position{{Kind: PositionNewScript}}, host.hits)

	assert.Equal(t, &Position{Kind: PositionBreak, Script: 2, Offset: 2}, s.ProcessRequest(Request{
		Type:     RequestGetEntryPosition,
		Position: &Position{Kind: PositionOnStep, Script: 2, Offset: 7},
	}, nil))

	assert.Equal(t, struct{}{}, s.ProcessRequest(Request{Type: RequestClearPositionHandlers}, nil))
	assert.Equal(t, PositionsIdle, s.PositionTableState())
}

func TestStalePause(t *testing.T) {
	t.Parallel()

	s, _ := pauseWithFrame(t)
	gen := s.PauseGeneration()
	_, ok := s.ProcessRequest(Request{Type: RequestGetFrame, Index: -1, Pause: &gen}, nil).(FrameData)
	require.True(t, ok)

	s.ClearPausedState()
	assert.Equal(t, gen+1, s.PauseGeneration())

	// ids from the earlier pause are rejected
	resp := s.ProcessRequest(Request{Type: RequestGetObject, ID: 2, Pause: &gen}, nil)
	exc, ok := resp.(ExceptionResponse)
	require.True(t, ok)
	assert.Contains(t, exc.Exception, ErrStalePause.Error())

	// requests without a generation are not checked
	_, ok = s.ProcessRequest(Request{Type: RequestFindScripts}, nil).([]ScriptData)
	assert.True(t, ok)
}
