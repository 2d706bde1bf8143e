package replay

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// RequestType names a request a controller can send to the session.
type RequestType string

// Request types.
const (
	RequestFindScripts           RequestType = "findScripts"
	RequestGetScript             RequestType = "getScript"
	RequestGetNewScript          RequestType = "getNewScript"
	RequestGetContent            RequestType = "getContent"
	RequestGetSource             RequestType = "getSource"
	RequestGetObject             RequestType = "getObject"
	RequestGetObjectProperties   RequestType = "getObjectProperties"
	RequestGetEnvironmentNames   RequestType = "getEnvironmentNames"
	RequestGetFrame              RequestType = "getFrame"
	RequestGetLineOffsets        RequestType = "getLineOffsets"
	RequestGetOffsetLocation     RequestType = "getOffsetLocation"
	RequestGetSuccessorOffsets   RequestType = "getSuccessorOffsets"
	RequestGetPredecessorOffsets RequestType = "getPredecessorOffsets"
	RequestFrameEvaluate         RequestType = "frameEvaluate"
	RequestPopFrameResult        RequestType = "popFrameResult"
	RequestFindConsoleMessages   RequestType = "findConsoleMessages"
	RequestGetNewConsoleMessage  RequestType = "getNewConsoleMessage"

	RequestEnsurePositionHandler RequestType = "ensurePositionHandler"
	RequestClearPositionHandlers RequestType = "clearPositionHandlers"
	RequestClearPausedState      RequestType = "clearPausedState"
	RequestGetEntryPosition      RequestType = "getEntryPosition"
)

// RequestTypes lists every request type the session answers.
func RequestTypes() []RequestType {
	return []RequestType{
		RequestFindScripts, RequestGetScript, RequestGetNewScript,
		RequestGetContent, RequestGetSource,
		RequestGetObject, RequestGetObjectProperties, RequestGetEnvironmentNames,
		RequestGetFrame,
		RequestGetLineOffsets, RequestGetOffsetLocation,
		RequestGetSuccessorOffsets, RequestGetPredecessorOffsets,
		RequestFrameEvaluate, RequestPopFrameResult,
		RequestFindConsoleMessages, RequestGetNewConsoleMessage,
		RequestEnsurePositionHandler, RequestClearPositionHandlers,
		RequestClearPausedState, RequestGetEntryPosition,
	}
}

// Request is a request from the controller. Which fields are used depends
// on Type.
type Request struct {
	Type     RequestType `json:"type"`
	ID       int         `json:"id,omitempty"`
	URL      string      `json:"url,omitempty"`
	Index    int         `json:"index,omitempty"`
	Value    int         `json:"value,omitempty"`
	Text     string      `json:"text,omitempty"`
	Options  EvalOptions `json:"options,omitempty"`
	Position *Position   `json:"position,omitempty"`
	// Pause, when set, is the pause generation the request was made in.
	Pause    *uint64     `json:"pause,omitempty"`
}

// ExceptionResponse is returned instead of a result when a request failed.
type ExceptionResponse struct {
	Exception string `json:"exception"`
}

type handlerFunc func(req Request, div Divergence) (any, error)

func (s *Session) requestHandlers() map[RequestType]handlerFunc {
	return map[RequestType]handlerFunc{
		RequestFindScripts: func(Request, Divergence) (any, error) {
			return s.Scripts(), nil
		},
		RequestGetScript: func(req Request, _ Divergence) (any, error) {
			return s.scriptData(req.ID)
		},
		RequestGetNewScript: func(Request, Divergence) (any, error) {
			last := s.scripts.LastID()
			if last == 0 {
				return nil, ErrNoScripts
			}
			return s.scriptData(last)
		},
		RequestGetContent: func(req Request, _ Divergence) (any, error) {
			return s.host.Content(req.URL)
		},
		RequestGetSource: func(req Request, _ Divergence) (any, error) {
			return s.sourceData(req.ID)
		},
		RequestGetObject: func(req Request, _ Divergence) (any, error) {
			return s.describeObject(req.ID)
		},
		RequestGetObjectProperties: func(req Request, div Divergence) (any, error) {
			return s.objectProperties(req.ID, div)
		},
		RequestGetEnvironmentNames: func(req Request, div Divergence) (any, error) {
			return s.environmentNames(req.ID, div)
		},
		RequestGetFrame: func(req Request, _ Divergence) (any, error) {
			return s.frameData(req.Index)
		},
		RequestGetLineOffsets: s.forwardToScript(func(script Script, v int) (any, error) {
			return nonNil(script.LineOffsets(v)), nil
		}),
		RequestGetOffsetLocation: s.forwardToScript(func(script Script, v int) (any, error) {
			return script.OffsetLocation(v)
		}),
		RequestGetSuccessorOffsets: s.forwardToScript(func(script Script, v int) (any, error) {
			return nonNil(script.SuccessorOffsets(v)), nil
		}),
		RequestGetPredecessorOffsets: s.forwardToScript(func(script Script, v int) (any, error) {
			return nonNil(script.PredecessorOffsets(v)), nil
		}),
		RequestFrameEvaluate: func(req Request, div Divergence) (any, error) {
			return s.frameEvaluate(req.Index, req.Text, req.Options, div)
		},
		RequestPopFrameResult: func(Request, Divergence) (any, error) {
			return s.popFrameResult(), nil
		},
		RequestFindConsoleMessages: func(Request, Divergence) (any, error) {
			return s.console.All(), nil
		},
		RequestGetNewConsoleMessage: func(Request, Divergence) (any, error) {
			msg, ok := s.console.Last()
			if !ok {
				return struct{}{}, nil
			}
			return msg, nil
		},
		RequestEnsurePositionHandler: func(req Request, _ Divergence) (any, error) {
			if req.Position == nil {
				return nil, fmt.Errorf("%w: missing position", ErrInvalidPosition)
			}
			return struct{}{}, s.EnsurePositionHandler(*req.Position)
		},
		RequestClearPositionHandlers: func(Request, Divergence) (any, error) {
			s.ClearPositionHandlers()
			return struct{}{}, nil
		},
		RequestClearPausedState: func(Request, Divergence) (any, error) {
			s.ClearPausedState()
			return struct{}{}, nil
		},
		RequestGetEntryPosition: func(req Request, _ Divergence) (any, error) {
			if req.Position == nil {
				return nil, fmt.Errorf("%w: missing position", ErrInvalidPosition)
			}
			return s.GetEntryPosition(*req.Position), nil
		},
	}
}

func (s *Session) forwardToScript(fn func(Script, int) (any, error)) handlerFunc {
	return func(req Request, _ Divergence) (any, error) {
		script, ok := s.scripts.Object(req.ID)
		if !ok {
			return nil, ErrUnknownScript
		}
		return fn(script, req.Value)
	}
}

func nonNil(offsets []int) []int {
	if offsets == nil {
		return []int{}
	}
	return offsets
}

// ProcessRequest answers a request. Failures of any kind, including an
// unknown request type and panics in a handler, are returned as an
// ExceptionResponse. Only broken internal invariants (an *AssertionError)
// propagate.
func (s *Session) ProcessRequest(req Request, div Divergence) (resp any) {
	if div == nil {
		div = NoDivergence
	}
	handler, ok := s.handlers[req.Type]
	if !ok {
		return s.exception(req, fmt.Errorf("%w %q", ErrUnknownRequest, req.Type))
	}
	if req.Pause != nil && *req.Pause != s.paused.Generation() {
		return s.exception(req, fmt.Errorf("%w %d, the current one is %d", ErrStalePause, *req.Pause, s.paused.Generation()))
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var aerr *AssertionError
		if err, isErr := r.(error); isErr && errors.As(err, &aerr) {
			s.logger.WithError(aerr).WithField("stack", string(debug.Stack())).
				Error("Internal invariant violated while processing a request")
			panic(r)
		}
		resp = s.exception(req, fmt.Errorf("%v", r))
	}()

	rv, err := handler(req, div)
	if err != nil {
		return s.exception(req, err)
	}
	return rv
}

func (s *Session) exception(req Request, err error) ExceptionResponse {
	s.logger.WithError(err).WithField("type", req.Type).Warn("Request failed")
	return ExceptionResponse{Exception: err.Error()}
}
