package replay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakpointDedup(t *testing.T) {
	t.Parallel()

	s, dbg, host := newTestSession(t)
	a := newFakeScript("a.js")
	dbg.scripts = append(dbg.scripts, a)
	s.OnNewScript(a)

	pos := Position{Kind: PositionBreak, Script: 1, Offset: 5}
	require.NoError(t, s.EnsurePositionHandler(pos))
	require.NoError(t, s.EnsurePositionHandler(pos))
	assert.Equal(t, PositionsArmed, s.PositionTableState())

	frame := &fakeFrame{script: a}
	dbg.push(frame)
	a.execute(frame, 5)

	require.Len(t, host.hits, 1)
	assert.Equal(t, Position{Kind: PositionBreak, Script: 1, Offset: 5, FrameIndex: 0}, host.hits[0])

	scripts := s.Scripts()
	require.Len(t, scripts, 1)
	assert.Equal(t, 1, scripts[0].ID)
}

func TestPendingBreakpoint(t *testing.T) {
	t.Parallel()

	s, dbg, host := newTestSession(t)

	// the controller asks for script 2 before it exists
	pos := Position{Kind: PositionBreak, Script: 2, Offset: 3}
	require.NoError(t, s.EnsurePositionHandler(pos))
	assert.Equal(t, []Position{pos}, s.PendingPositions())
	assert.Equal(t, PositionsIdle, s.PositionTableState())

	first := newFakeScript("a.js")
	s.OnNewScript(first)
	assert.Len(t, s.PendingPositions(), 1, "still waiting for script 2")

	second := newFakeScript("b.js")
	dbg.scripts = append(dbg.scripts, first, second)
	s.OnNewScript(second)
	assert.Empty(t, s.PendingPositions())
	assert.Equal(t, PositionsArmed, s.PositionTableState())

	frame := &fakeFrame{script: second}
	dbg.push(frame)
	second.execute(frame, 2)
	assert.Empty(t, host.hits)
	second.execute(frame, 3)
	require.Len(t, host.hits, 1)
	assert.Equal(t, 2, host.hits[0].Script)
	assert.Equal(t, 3, host.hits[0].Offset)
}

func TestInvalidPositions(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSession(t)
	require.ErrorIs(t, s.EnsurePositionHandler(Position{Kind: "Bogus"}), ErrInvalidPosition)
	require.ErrorIs(t, s.EnsurePositionHandler(Position{Kind: PositionBreak}), ErrInvalidPosition)
	assert.Equal(t, PositionsIdle, s.PositionTableState())
}

func TestFrameDepthSkipsInternalFrames(t *testing.T) {
	t.Parallel()

	s, dbg, host := newTestSession(t)
	a := newFakeScript("a.js")
	s.OnNewScript(a)
	require.NoError(t, s.EnsurePositionHandler(Position{Kind: PositionOnStep, Script: 1, Offset: 0}))

	dbg.push(&fakeFrame{script: newFakeScript("a.js")})
	dbg.push(&fakeFrame{script: newFakeScript("chrome://internal.js")})
	frame := &fakeFrame{script: a}
	dbg.push(frame)
	a.execute(frame, 0)

	require.Len(t, host.hits, 1)
	assert.Equal(t, PositionOnStep, host.hits[0].Kind)
	assert.Equal(t, 1, host.hits[0].FrameIndex)
}

func TestOnPop(t *testing.T) {
	t.Parallel()

	s, dbg, host := newTestSession(t)
	a, b := newFakeScript("a.js"), newFakeScript("b.js")
	s.OnNewScript(a)
	s.OnNewScript(b)

	var popResults []any
	host.onHit = func(pos Position) {
		if pos.Kind == PositionOnPop {
			popResults = append(popResults, s.ProcessRequest(Request{Type: RequestPopFrameResult}, nil))
		}
	}

	// a frame of a.js is already on the stack when the handler is installed
	dbg.push(&fakeFrame{script: a})
	require.NoError(t, s.EnsurePositionHandler(Position{Kind: PositionOnPop, Script: 1}))

	dbg.push(&fakeFrame{script: b})
	dbg.pop(Completion{Return: 1.0})
	assert.Empty(t, host.hits, "b.js frames are not selected")

	dbg.push(&fakeFrame{script: a})
	dbg.pop(Completion{Throw: "boom", Threw: true})
	dbg.pop(Completion{Return: Undefined})

	require.Len(t, host.hits, 2)
	assert.Equal(t, Position{Kind: PositionOnPop, Script: 1, FrameIndex: 1}, host.hits[0])
	assert.Equal(t, Position{Kind: PositionOnPop, Script: 1, FrameIndex: 0}, host.hits[1])
	assert.Equal(t, []any{
		map[string]any{"throw": "boom"},
		map[string]any{"return": SpecialValue{Special: "undefined"}},
	}, popResults)

	// only valid while the hit is reported
	assert.Equal(t, struct{}{}, s.ProcessRequest(Request{Type: RequestPopFrameResult}, nil))
}

func TestOnPopAnyScript(t *testing.T) {
	t.Parallel()

	s, dbg, host := newTestSession(t)
	require.NoError(t, s.EnsurePositionHandler(Position{Kind: PositionOnPop}))

	dbg.push(&fakeFrame{script: newFakeScript("a.js")})
	dbg.push(&fakeFrame{script: newFakeScript("resource://x.js")})
	dbg.pop(Completion{})
	dbg.pop(Completion{})
	require.Len(t, host.hits, 1)
	assert.Equal(t, PositionOnPop, host.hits[0].Kind)
}

func TestEnterFrame(t *testing.T) {
	t.Parallel()

	s, dbg, host := newTestSession(t)
	require.NoError(t, s.EnsurePositionHandler(Position{Kind: PositionEnterFrame}))
	dbg.push(&fakeFrame{script: newFakeScript("a.js")})
	assert.Equal(t, []Position{{Kind: PositionEnterFrame}}, host.hits)
}

func TestClearPositionHandlers(t *testing.T) {
	t.Parallel()

	s, dbg, host := newTestSession(t)
	a := newFakeScript("a.js")
	dbg.scripts = append(dbg.scripts, a)
	s.OnNewScript(a)
	require.NoError(t, s.EnsurePositionHandler(Position{Kind: PositionBreak, Script: 1, Offset: 1}))
	require.NoError(t, s.EnsurePositionHandler(Position{Kind: PositionEnterFrame}))
	require.NoError(t, s.EnsurePositionHandler(Position{Kind: PositionBreak, Script: 9, Offset: 1}))

	s.ClearPositionHandlers()
	assert.Equal(t, PositionsIdle, s.PositionTableState())
	assert.Equal(t, 1, dbg.cleared)
	assert.Nil(t, dbg.enter)
	assert.Empty(t, s.PendingPositions())

	frame := &fakeFrame{script: a}
	dbg.push(frame)
	a.execute(frame, 1)
	assert.Empty(t, host.hits)

	// reinstalling after a clear works again
	require.NoError(t, s.EnsurePositionHandler(Position{Kind: PositionBreak, Script: 1, Offset: 1}))
	a.execute(frame, 1)
	assert.Len(t, host.hits, 1)
}

func TestGetEntryPosition(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSession(t)
	s.OnNewScript(newFakeScript("a.js"))

	assert.Equal(t, &Position{Kind: PositionBreak, Script: 1, Offset: 2},
		s.GetEntryPosition(Position{Kind: PositionOnStep, Script: 1, Offset: 9}))
	assert.Nil(t, s.GetEntryPosition(Position{Kind: PositionOnPop, Script: 1}))
	assert.Nil(t, s.GetEntryPosition(Position{Kind: PositionBreak, Script: 2}))
}

func TestPositionJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pos      Position
		expected string
	}{
		{Position{Kind: PositionBreak, Script: 1, Offset: 0, FrameIndex: 0}, `{"kind":"Break","script":1,"offset":0,"frameIndex":0}`},
		{Position{Kind: PositionOnPop, FrameIndex: 2}, `{"kind":"OnPop","frameIndex":2}`},
		{Position{Kind: PositionNewScript}, `{"kind":"NewScript"}`},
	}
	for _, tc := range tests {
		b, err := json.Marshal(tc.pos)
		require.NoError(t, err)
		assert.JSONEq(t, tc.expected, string(b))
	}

	var pos Position
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"OnStep","script":3,"offset":14}`), &pos))
	assert.Equal(t, Position{Kind: PositionOnStep, Script: 3, Offset: 14}, pos)
}
