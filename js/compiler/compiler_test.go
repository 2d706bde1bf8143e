package compiler

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/replayd/lib/testutils"
	"github.com/liuxd6825/replayd/replay"
)

const addSrc = `var x = 1;
function add(a, b) {
  var sum = a + b;
  return sum;
}
const twice = (n) => add(n, n);
x = twice(add(x, 2));
`

func compile(t *testing.T, info SourceInfo) *Script {
	t.Helper()
	c := New(testutils.NewLogger(t))
	script, err := c.Compile(info)
	require.NoError(t, err)
	return script
}

func TestCompile(t *testing.T) {
	t.Parallel()

	top := compile(t, SourceInfo{URL: "add.js", Text: addSrc})

	assert.Equal(t, "add.js", top.URL())
	assert.Equal(t, "", top.DisplayName())
	assert.Equal(t, 1, top.StartLine())
	assert.Equal(t, 7, top.LineCount())
	assert.Equal(t, 0, top.SourceStart())
	assert.Equal(t, len(addSrc), top.SourceLength())
	// var x, const twice and the assignment; the function declaration is not
	// a statement of its own
	assert.Equal(t, []int{0, 67, 99}, top.Offsets())
	assert.Equal(t, 0, top.MainOffset())

	children := top.ChildScripts()
	require.Len(t, children, 2)

	add, ok := children[0].(*Script)
	require.True(t, ok)
	assert.Equal(t, "add", add.DisplayName())
	assert.Equal(t, []string{"a", "b"}, add.ParameterNames())
	assert.Equal(t, 2, add.StartLine())
	assert.Equal(t, 4, add.LineCount())
	assert.Equal(t, 11, add.SourceStart())
	assert.Equal(t, []int{34, 53}, add.Offsets())
	assert.Same(t, top, add.Parent())

	twice, ok := children[1].(*Script)
	require.True(t, ok)
	assert.Equal(t, "twice", twice.DisplayName(), "named after its binding")
	assert.Equal(t, []string{"n"}, twice.ParameterNames())
	// an expression body has no statements, the body itself is the entry
	assert.Equal(t, []int{88}, twice.Offsets())
	assert.Empty(t, twice.ChildScripts())

	assert.Same(t, add, top.FindFunction("add"))
	assert.Nil(t, top.FindFunction("missing"))

	var names []string
	top.Walk(func(s *Script) { names = append(names, s.DisplayName()) })
	assert.Equal(t, []string{"", "add", "twice"}, names)
}

func TestCompileSyntaxError(t *testing.T) {
	t.Parallel()

	c := New(testutils.NewLogger(t))
	_, err := c.Compile(SourceInfo{URL: "broken.js", Text: "function ("})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.js")
}

func TestOffsets(t *testing.T) {
	t.Parallel()

	top := compile(t, SourceInfo{URL: "add.js", Text: addSrc})
	add := top.FindFunction("add")

	assert.Equal(t, []int{0}, top.LineOffsets(1))
	assert.Equal(t, []int{99}, top.LineOffsets(7))
	assert.Empty(t, top.LineOffsets(3), "line 3 belongs to add")
	assert.Equal(t, []int{34}, add.LineOffsets(3))

	loc, err := add.OffsetLocation(53)
	require.NoError(t, err)
	assert.Equal(t, replay.Location{LineNumber: 4, ColumnNumber: 2, IsEntryPoint: true}, loc)

	_, err = add.OffsetLocation(35)
	require.ErrorIs(t, err, ErrInvalidOffset)

	assert.Equal(t, []int{53}, add.SuccessorOffsets(34))
	assert.Empty(t, add.SuccessorOffsets(53))
	assert.Equal(t, []int{34}, add.PredecessorOffsets(53))
	assert.Empty(t, add.PredecessorOffsets(34))
	assert.Empty(t, add.SuccessorOffsets(1))
}

func TestBreakpoints(t *testing.T) {
	t.Parallel()

	top := compile(t, SourceInfo{URL: "add.js", Text: addSrc})

	var hits int
	require.NoError(t, top.SetBreakpoint(67, func(replay.Frame) { hits++ }))
	require.NoError(t, top.SetBreakpoint(67, func(replay.Frame) { hits++ }))
	require.ErrorIs(t, top.SetBreakpoint(68, func(replay.Frame) {}), ErrInvalidOffset)

	for _, h := range top.Breakpoints(67) {
		h(nil)
	}
	assert.Equal(t, 2, hits)
	assert.Empty(t, top.Breakpoints(0))

	top.ClearBreakpoints()
	assert.Empty(t, top.Breakpoints(67))
}

func TestSource(t *testing.T) {
	t.Parallel()

	top := compile(t, SourceInfo{
		URL:                  "page.html",
		Text:                 "go();",
		DisplayURL:           "page",
		ElementAttributeName: "onclick",
		IntroductionType:     "eventHandler",
	})
	src, ok := top.Source().(*Source)
	require.True(t, ok)
	assert.Same(t, src, top.CompiledSource())
	assert.Equal(t, "go();", src.Text())
	assert.Equal(t, "page", src.DisplayURL())
	assert.Equal(t, "onclick", src.ElementAttributeName())
	assert.Equal(t, "eventHandler", src.IntroductionType())
	assert.Nil(t, src.IntroductionScript())

	intro := compile(t, SourceInfo{URL: "intro.js", Text: "eval('go();');"})
	src.SetIntroduction(intro, 0)
	assert.Equal(t, intro, src.IntroductionScript())
	assert.Equal(t, 0, src.IntroductionOffset())
}

// generated from "let a = 1;\nconsole.log(a);" in original.js, one
// mapping per statement
const testSourceMap = `{"version":3,"file":"min.js","sources":["original.js"],"names":[],"mappings":"AAAA,QACA"}`

func TestSourceMaps(t *testing.T) {
	t.Parallel()

	const minified = `var a=1;console.log(a);`

	t.Run("recorded", func(t *testing.T) {
		t.Parallel()
		top := compile(t, SourceInfo{URL: "min.js", Text: minified, SourceMapURL: "min.js.map", SourceMap: []byte(testSourceMap)})
		assert.Equal(t, "min.js.map", top.CompiledSource().SourceMapURL())

		loc, err := top.OffsetLocation(8)
		require.NoError(t, err)
		require.NotNil(t, loc.Original)
		assert.Equal(t, "original.js", loc.Original.Source)
		assert.Equal(t, 2, loc.Original.Line)
		assert.Equal(t, 0, loc.Original.Column)
	})

	t.Run("inline", func(t *testing.T) {
		t.Parallel()
		url := "data:application/json;base64," + base64.StdEncoding.EncodeToString([]byte(testSourceMap))
		top := compile(t, SourceInfo{URL: "min.js", Text: minified + "\n//# sourceMappingURL=" + url + "\n"})
		assert.Equal(t, url, top.CompiledSource().SourceMapURL())

		loc, err := top.OffsetLocation(0)
		require.NoError(t, err)
		require.NotNil(t, loc.Original)
		assert.Equal(t, 1, loc.Original.Line)
	})

	t.Run("loader", func(t *testing.T) {
		t.Parallel()
		c := New(testutils.NewLogger(t))
		var requested string
		c.Options.SourceMapLoader = func(url string) ([]byte, error) {
			requested = url
			return []byte(testSourceMap), nil
		}
		top, err := c.Compile(SourceInfo{URL: "min.js", Text: minified + "\n//# sourceMappingURL=min.js.map"})
		require.NoError(t, err)
		assert.Equal(t, "min.js.map", requested)
		loc, err := top.OffsetLocation(8)
		require.NoError(t, err)
		assert.NotNil(t, loc.Original)
	})

	t.Run("unloadable", func(t *testing.T) {
		t.Parallel()
		logger, hook := testutils.NewLoggerWithHook(t)
		c := New(logger)
		c.Options.SourceMapLoader = func(string) ([]byte, error) {
			return nil, errors.New("not found")
		}
		top, err := c.Compile(SourceInfo{URL: "min.js", Text: minified + "\n//# sourceMappingURL=min.js.map"})
		require.NoError(t, err)
		loc, err := top.OffsetLocation(8)
		require.NoError(t, err)
		assert.Nil(t, loc.Original)
		assert.True(t, testutils.LogContains(hook.Drain(), logrus.WarnLevel, "Couldn't load source map"))
	})
}
