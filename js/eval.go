package js

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/liuxd6825/replayd/replay"
)

const (
	defaultEvalURL = "debugger eval code"
	evalTextParam  = "__replayd_eval_text"
)

// Eval evaluates text in a fresh runtime whose globals are the bindings
// visible from the frame, with the frame's this. Nothing the evaluation does
// is written back to the recording.
func (f *Frame) Eval(text string, opts replay.EvalOptions) (replay.Completion, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.UncapFieldNameMapper())
	if err := rt.Set("console", newConsole(f.player.logger)); err != nil {
		return replay.Completion{}, err
	}

	in := &toGoja{rt: rt, seen: make(map[*Object]*goja.Object)}
	if f.env != nil {
		for _, env := range f.env.chain() {
			for _, name := range env.Names() {
				if err := rt.Set(name, in.value(env.Variable(name))); err != nil {
					return replay.Completion{}, fmt.Errorf("couldn't bind %s: %w", name, err)
				}
			}
		}
	}

	url := opts.URL
	if url == "" {
		url = defaultEvalURL
	}
	wrapper, err := rt.RunScript(url,
		"(function("+evalTextParam+") { return eval("+evalTextParam+"); })")
	if err != nil {
		return replay.Completion{}, err
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return replay.Completion{}, errors.New("eval wrapper is not a function")
	}

	timer := time.AfterFunc(f.player.evalTimeout, func() {
		rt.Interrupt(fmt.Sprintf("evaluation took longer than %s", f.player.evalTimeout))
	})
	defer timer.Stop()

	out := &fromGoja{seen: make(map[*goja.Object]*Object)}
	v, err := fn(in.value(f.this), rt.ToValue(text))
	if err != nil {
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return replay.Completion{Throw: out.value(exc.Value()), Threw: true}, nil
		}
		return replay.Completion{}, err
	}
	return replay.Completion{Return: out.value(v)}, nil
}

// toGoja converts recorded values into runtime values. Recorded functions
// can't run; calling one throws.
type toGoja struct {
	rt   *goja.Runtime
	seen map[*Object]*goja.Object
}

func (c *toGoja) value(v replay.Value) goja.Value {
	switch val := v.(type) {
	case nil:
		return goja.Null()
	case *Object:
		return c.object(val)
	}
	if replay.IsUndefined(v) {
		return goja.Undefined()
	}
	return c.rt.ToValue(v)
}

func (c *toGoja) object(o *Object) *goja.Object {
	if obj, ok := c.seen[o]; ok {
		return obj
	}

	var obj *goja.Object
	switch o.class {
	case ClassFunction:
		name := o.name
		obj = c.rt.ToValue(func(goja.FunctionCall) goja.Value {
			panic(c.rt.NewTypeError("%s is a recorded function and can't be called", name))
		}).ToObject(c.rt)
	case ClassArray:
		obj = c.rt.NewArray()
	default:
		obj = c.rt.NewObject()
	}
	c.seen[o] = obj

	for _, p := range o.props {
		if o.class == ClassArray && p.name == "length" {
			continue
		}
		_ = obj.Set(p.name, c.value(p.value))
	}
	return obj
}

// fromGoja converts runtime values back into values a session can describe.
type fromGoja struct {
	seen map[*goja.Object]*Object
}

func (c *fromGoja) value(v goja.Value) replay.Value {
	switch {
	case v == nil, goja.IsUndefined(v):
		return replay.Undefined
	case goja.IsNull(v):
		return nil
	}

	obj, isObj := v.(*goja.Object)
	if !isObj {
		switch e := v.Export().(type) {
		case int64:
			return float64(e)
		case float64, string, bool:
			return e
		}
		return v.String()
	}

	if o, ok := c.seen[obj]; ok {
		return o
	}
	if _, isFn := goja.AssertFunction(obj); isFn {
		name := ""
		if n := obj.Get("name"); n != nil {
			name = n.String()
		}
		fn := NewFunction(name, nil)
		c.seen[obj] = fn
		return fn
	}

	o := NewObject(obj.ClassName())
	c.seen[obj] = o
	for _, key := range obj.Keys() {
		o.SetProperty(key, c.value(obj.Get(key)))
	}
	if o.class == ClassArray {
		o.SetProperty("length", c.value(obj.Get("length")))
	}
	return o
}
