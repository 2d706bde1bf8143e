// Package replay implements the debug-session protocol actor of a record and
// replay debugger: a registry of scripts and sources discovered while the
// debuggee runs, position handlers installed on behalf of a controller,
// paused-state serialization and the request dispatcher answering the
// controller's queries.
//
// A Session is not safe for concurrent use. All of its entry points, engine
// callbacks and requests alike, must be called from one goroutine.
package replay

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultInternalURLPrefixes are the URL prefixes of scripts that belong to
// the platform itself and are never exposed to the controller.
var DefaultInternalURLPrefixes = []string{"resource:", "chrome:"} //nolint:gochecknoglobals

// Config holds the collaborators of a Session.
type Config struct {
	Debugger Debugger
	Host     Host
	Logger   logrus.FieldLogger

	// InternalURLPrefixes are added to DefaultInternalURLPrefixes.
	InternalURLPrefixes []string
}

// Session owns all state of one debug connection.
type Session struct {
	dbg      Debugger
	host     Host
	logger   logrus.FieldLogger
	internal []string

	scripts *IDMap[Script]
	sources *IDMap[Source]
	paused  *IDMap[any]

	positions *positionTable
	console   *ConsoleLog

	progress uint64

	// popResult is only set while an OnPop hit is being reported.
	popResult *Completion

	// threadEventsDisallowed is non-zero while the session itself runs code in
	// the debuggee; scripts compiled then are the debugger's own.
	threadEventsDisallowed int

	handlers map[RequestType]handlerFunc
}

// NewSession returns a session bound to the given collaborators.
func NewSession(conf Config) (*Session, error) {
	if conf.Debugger == nil {
		return nil, errors.New("a debugger is required")
	}
	if conf.Host == nil {
		return nil, errors.New("a host is required")
	}
	logger := conf.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}

	s := &Session{
		dbg:       conf.Debugger,
		host:      conf.Host,
		logger:    logger.WithField("component", "replay"),
		internal:  append(append([]string{}, DefaultInternalURLPrefixes...), conf.InternalURLPrefixes...),
		scripts:   NewIDMap[Script](),
		sources:   NewIDMap[Source](),
		paused:    NewIDMap[any](),
		positions: newPositionTable(),
	}
	s.console = newConsoleLog(s)
	s.handlers = s.requestHandlers()
	return s, nil
}

// Reset drops everything the session learned about the debuggee, as needed
// after a navigation or a rewind to the start of the recording.
func (s *Session) Reset() {
	s.ClearPositionHandlers()
	s.ClearPausedState()
	s.scripts.Clear()
	s.sources.Clear()
	s.console.reset()
	s.popResult = nil
	s.logger.Debug("Session reset")
}

// Progress returns the current value of the progress counter.
func (s *Session) Progress() uint64 {
	return s.progress
}

// advanceProgress is the only path that increments the progress counter.
func (s *Session) advanceProgress() {
	s.progress++
}

// CurrentExecutionPoint describes the current position in the execution,
// attributed to the given kind of event.
func (s *Session) CurrentExecutionPoint(kind PositionKind) ExecutionPoint {
	pos := Position{Kind: kind}
	if frame := s.newestScriptFrame(); frame != nil {
		pos.Script = s.scripts.ID(frame.Script())
		pos.Offset = frame.Offset()
	}
	return ExecutionPoint{Progress: s.progress, Position: &pos}
}

// IsEligible reports whether a script is debuggable: it has a URL and the
// URL does not point at an internal resource.
func (s *Session) IsEligible(script Script) bool {
	if script == nil {
		return false
	}
	url := script.URL()
	if url == "" {
		return false
	}
	for _, prefix := range s.internal {
		if strings.HasPrefix(url, prefix) {
			return false
		}
	}
	return true
}

// countScriptFrames counts the eligible frames on the stack.
func (s *Session) countScriptFrames() int {
	count := 0
	for frame := s.dbg.NewestFrame(); frame != nil; frame = frame.Older() {
		if s.IsEligible(frame.Script()) {
			count++
		}
	}
	return count
}

func (s *Session) newestScriptFrame() Frame {
	for frame := s.dbg.NewestFrame(); frame != nil; frame = frame.Older() {
		if s.IsEligible(frame.Script()) {
			return frame
		}
	}
	return nil
}

// scriptFrameForIndex returns the eligible frame at index, counted from the
// oldest eligible frame (index 0).
func (s *Session) scriptFrameForIndex(index int) (Frame, error) {
	fromTop := s.countScriptFrames() - 1 - index
	if index < 0 || fromTop < 0 {
		return nil, ErrUnknownFrame
	}
	for frame := s.dbg.NewestFrame(); frame != nil; frame = frame.Older() {
		if !s.IsEligible(frame.Script()) {
			continue
		}
		if fromTop == 0 {
			return frame, nil
		}
		fromTop--
	}
	return nil, ErrUnknownFrame
}

// withThreadEventsDisallowed runs fn while new-script events are ignored.
func (s *Session) withThreadEventsDisallowed(fn func()) {
	s.threadEventsDisallowed++
	defer func() { s.threadEventsDisallowed-- }()
	fn()
}
