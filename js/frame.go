package js

import (
	"github.com/liuxd6825/replayd/js/compiler"
	"github.com/liuxd6825/replayd/replay"
)

// Frame is a stack frame of the replayed execution.
type Frame struct {
	player       *Player
	script       *compiler.Script
	older        *Frame
	callee       *Object
	env          *Environment
	this         replay.Value
	args         []replay.Value
	constructing bool
	offset       int
	onPop        func(replay.Completion)
}

var _ replay.Frame = &Frame{}

func (f *Frame) Generator() bool    { return false }
func (f *Frame) Constructing() bool { return f.constructing }
func (f *Frame) This() replay.Value { return f.this }
func (f *Frame) Offset() int        { return f.offset }

// Script returns the script the frame executes.
func (f *Frame) Script() replay.Script {
	return f.script
}

// Older returns the calling frame, or nil.
func (f *Frame) Older() replay.Frame {
	if f.older == nil {
		return nil
	}
	return f.older
}

// Type is "call" for function frames and "global" for top level code.
func (f *Frame) Type() string {
	if f.callee != nil {
		return "call"
	}
	return "global"
}

// Callee returns the function of a call frame.
func (f *Frame) Callee() replay.Object {
	if f.callee == nil {
		return nil
	}
	return f.callee
}

// Environment returns the innermost scope of the frame.
func (f *Frame) Environment() replay.Environment {
	if f.env == nil {
		return nil
	}
	return f.env
}

// Arguments returns the arguments of a call frame.
func (f *Frame) Arguments() ([]replay.Value, bool) {
	if f.callee == nil {
		return nil, false
	}
	return f.args, true
}

// SetOnPop sets the handler run when the frame is popped.
func (f *Frame) SetOnPop(handler func(replay.Completion)) {
	f.onPop = handler
}
