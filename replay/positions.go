package replay

import (
	"encoding/json"
	"fmt"
)

// PositionKind identifies a kind of position handler.
type PositionKind string

// Position kinds. Break, OnStep, OnPop and EnterFrame are installed against
// code or frames; NewScript and ConsoleMessage are global events.
const (
	PositionBreak          PositionKind = "Break"
	PositionOnStep         PositionKind = "OnStep"
	PositionOnPop          PositionKind = "OnPop"
	PositionEnterFrame     PositionKind = "EnterFrame"
	PositionNewScript      PositionKind = "NewScript"
	PositionConsoleMessage PositionKind = "ConsoleMessage"
)

// Position is both a handler request from the controller and the
// description of a hit reported back to it. Script 0 means "any script" for
// OnPop and "none" elsewhere.
type Position struct {
	Kind       PositionKind `json:"kind"`
	Script     int          `json:"script,omitempty"`
	Offset     int          `json:"offset"`
	FrameIndex int          `json:"frameIndex"`
}

// MarshalJSON emits only the fields that are meaningful for the kind.
func (p Position) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind       PositionKind `json:"kind"`
		Script     int          `json:"script,omitempty"`
		Offset     *int         `json:"offset,omitempty"`
		FrameIndex *int         `json:"frameIndex,omitempty"`
	}
	w := wire{Kind: p.Kind}
	switch p.Kind { //nolint:exhaustive
	case PositionBreak, PositionOnStep:
		w.Script = p.Script
		w.Offset = &p.Offset
		w.FrameIndex = &p.FrameIndex
	case PositionOnPop:
		w.Script = p.Script
		w.FrameIndex = &p.FrameIndex
	default:
		w.Script = p.Script
		if p.Script != 0 {
			w.Offset = &p.Offset
		}
	}
	return json.Marshal(w)
}

func (p Position) isPC() bool {
	return p.Kind == PositionBreak || p.Kind == PositionOnStep
}

// ExecutionPoint is a logical point in the recorded execution: the progress
// counter plus the position the engine was at.
type ExecutionPoint struct {
	Progress uint64    `json:"progress"`
	Position *Position `json:"position,omitempty"`
}

// PositionTableState is the lifecycle state of the position handler table.
type PositionTableState int

// Position handler table states.
const (
	PositionsIdle PositionTableState = iota
	PositionsInstalling
	PositionsArmed
)

func (st PositionTableState) String() string {
	switch st {
	case PositionsIdle:
		return "idle"
	case PositionsInstalling:
		return "installing"
	case PositionsArmed:
		return "armed"
	}
	return fmt.Sprintf("PositionTableState(%d)", int(st))
}

type installedPC struct {
	kind   PositionKind
	script int
	offset int
}

type positionTable struct {
	state PositionTableState

	// kinds we are expected to report hits for
	kinds map[PositionKind]bool

	// requests whose script did not exist yet when they were made
	pending []Position

	// pcs with a breakpoint handler; duplicates would fire twice
	installed []installedPC

	// predicates selecting the frames that get an OnPop handler
	popFilters []func(Frame) bool

	enterHooked bool
}

func newPositionTable() *positionTable {
	return &positionTable{kinds: make(map[PositionKind]bool)}
}

// live reports whether any handler can currently fire.
func (t *positionTable) live() bool {
	return len(t.installed) > 0 || len(t.popFilters) > 0 || t.enterHooked ||
		t.kinds[PositionNewScript] || t.kinds[PositionConsoleMessage]
}

func (t *positionTable) isInstalled(pc installedPC) bool {
	for _, existing := range t.installed {
		if existing == pc {
			return true
		}
	}
	return false
}

// PositionTableState returns the state of the position handler table.
func (s *Session) PositionTableState() PositionTableState {
	return s.positions.state
}

// PendingPositions returns the requests waiting for their script to appear.
func (s *Session) PendingPositions() []Position {
	return append([]Position(nil), s.positions.pending...)
}

// EnsurePositionHandler installs the handler a controller asked for.
// Requests for scripts that are not known yet are kept and retried whenever
// a script is registered. Installing the same handler twice is a no-op.
func (s *Session) EnsurePositionHandler(pos Position) error {
	t := s.positions
	switch pos.Kind {
	case PositionBreak, PositionOnStep, PositionOnPop, PositionEnterFrame,
		PositionNewScript, PositionConsoleMessage:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPosition, pos.Kind)
	}

	t.state = PositionsInstalling
	t.kinds[pos.Kind] = true
	err := s.installPosition(pos)
	if t.live() {
		t.state = PositionsArmed
	} else {
		t.state = PositionsIdle
	}
	return err
}

func (s *Session) installPosition(pos Position) error {
	t := s.positions
	switch pos.Kind { //nolint:exhaustive
	case PositionBreak, PositionOnStep:
		if pos.Script == 0 {
			return fmt.Errorf("%w: %s requires a script", ErrInvalidPosition, pos.Kind)
		}
		script, ok := s.scripts.Object(pos.Script)
		if !ok {
			t.pending = append(t.pending, pos)
			s.logger.WithField("script", pos.Script).Debug("Position handler pending")
			return nil
		}
		pc := installedPC{kind: pos.Kind, script: pos.Script, offset: pos.Offset}
		if t.isInstalled(pc) {
			return nil
		}
		kind, scriptID, offset := pos.Kind, pos.Script, pos.Offset
		if err := script.SetBreakpoint(offset, func(Frame) {
			s.host.PositionHit(Position{
				Kind:       kind,
				Script:     scriptID,
				Offset:     offset,
				FrameIndex: s.countScriptFrames() - 1,
			})
		}); err != nil {
			return err
		}
		t.installed = append(t.installed, pc)
	case PositionOnPop:
		if pos.Script != 0 {
			scriptID := pos.Script
			s.addOnPopFilter(func(frame Frame) bool {
				return s.scripts.ID(frame.Script()) == scriptID
			})
		} else {
			s.addOnPopFilter(func(Frame) bool { return true })
		}
	case PositionEnterFrame:
		s.hookEnterFrame()
	}
	return nil
}

// installPending retries every queued request. Requests whose script is
// still missing are queued again.
func (s *Session) installPending() {
	t := s.positions
	pending := t.pending
	t.pending = nil
	for _, pos := range pending {
		if err := s.EnsurePositionHandler(pos); err != nil {
			s.logger.WithError(err).WithField("position", pos.Kind).Warn("Couldn't install pending position handler")
		}
	}
}

// ClearPositionHandlers removes every installed handler.
func (s *Session) ClearPositionHandlers() {
	s.dbg.ClearAllBreakpoints()
	s.dbg.SetOnEnterFrame(nil)

	t := s.positions
	t.kinds = make(map[PositionKind]bool)
	t.pending = nil
	t.installed = nil
	t.popFilters = nil
	t.enterHooked = false
	t.state = PositionsIdle
}

// GetEntryPosition returns the position of the entry point of the script a
// Break or OnStep position is in, or nil.
func (s *Session) GetEntryPosition(pos Position) *Position {
	if !pos.isPC() {
		return nil
	}
	script, ok := s.scripts.Object(pos.Script)
	if !ok {
		return nil
	}
	return &Position{Kind: PositionBreak, Script: pos.Script, Offset: script.MainOffset()}
}

func (s *Session) hitGlobalHandler(kind PositionKind) {
	if s.positions.kinds[kind] {
		s.host.PositionHit(Position{Kind: kind})
	}
}

func (s *Session) hookEnterFrame() {
	s.positions.enterHooked = true
	s.dbg.SetOnEnterFrame(s.onEnterFrame)
}

func (s *Session) addOnPopFilter(filter func(Frame) bool) {
	for frame := s.dbg.NewestFrame(); frame != nil; frame = frame.Older() {
		if s.IsEligible(frame.Script()) && filter(frame) {
			s.attachOnPop(frame)
		}
	}
	s.positions.popFilters = append(s.positions.popFilters, filter)
	s.hookEnterFrame()
}

func (s *Session) onEnterFrame(frame Frame) {
	s.hitGlobalHandler(PositionEnterFrame)

	if !s.IsEligible(frame.Script()) {
		return
	}
	for _, filter := range s.positions.popFilters {
		if filter(frame) {
			s.attachOnPop(frame)
			// one handler per frame is enough
			return
		}
	}
}

func (s *Session) attachOnPop(frame Frame) {
	script := frame.Script()
	frame.SetOnPop(func(completion Completion) {
		s.popResult = &completion
		defer func() { s.popResult = nil }()
		s.host.PositionHit(Position{
			Kind:       PositionOnPop,
			Script:     s.scripts.ID(script),
			FrameIndex: s.countScriptFrames() - 1,
		})
	})
}
