package js

import (
	"strconv"

	"github.com/liuxd6825/replayd/js/compiler"
	"github.com/liuxd6825/replayd/replay"
)

// Object classes of recorded objects.
const (
	ClassObject   = "Object"
	ClassArray    = "Array"
	ClassFunction = "Function"
)

type property struct {
	name  string
	value replay.Value
}

// Object is a recorded debuggee object. Identity is preserved: the same
// recorded object is always the same *Object.
type Object struct {
	class  string
	name   string
	script *compiler.Script
	proto  *Object
	props  []property
	frozen bool
}

var _ replay.Object = &Object{}

// NewObject returns an empty object of the given class.
func NewObject(class string) *Object {
	return &Object{class: class}
}

// NewFunction returns a function object. The script may be nil for
// functions whose code was not recorded.
func NewFunction(name string, script *compiler.Script) *Object {
	return &Object{class: ClassFunction, name: name, script: script}
}

// NewArray returns an array object holding items.
func NewArray(items ...replay.Value) *Object {
	o := NewObject(ClassArray)
	for i, item := range items {
		o.SetProperty(strconv.Itoa(i), item)
	}
	o.SetProperty("length", float64(len(items)))
	return o
}

// SetProperty adds or replaces an own data property.
func (o *Object) SetProperty(name string, value replay.Value) {
	for i := range o.props {
		if o.props[i].name == name {
			o.props[i].value = value
			return
		}
	}
	o.props = append(o.props, property{name: name, value: value})
}

// Property returns the value of an own data property.
func (o *Object) Property(name string) (replay.Value, bool) {
	for _, p := range o.props {
		if p.name == name {
			return p.value, true
		}
	}
	return nil, false
}

// Freeze makes the object report itself frozen.
func (o *Object) Freeze() {
	o.frozen = true
}

func (o *Object) Callable() bool                  { return o.class == ClassFunction }
func (o *Object) IsBoundFunction() bool           { return false }
func (o *Object) IsArrowFunction() bool           { return false }
func (o *Object) IsGeneratorFunction() bool       { return false }
func (o *Object) IsAsyncFunction() bool           { return false }
func (o *Object) Class() string                   { return o.class }
func (o *Object) Name() string                    { return o.name }
func (o *Object) DisplayName() string             { return o.name }
func (o *Object) Environment() replay.Environment { return nil }
func (o *Object) Global() replay.Object           { return nil }
func (o *Object) IsProxy() bool                   { return false }
func (o *Object) IsExtensible() bool              { return !o.frozen }
func (o *Object) IsSealed() bool                  { return o.frozen }
func (o *Object) IsFrozen() bool                  { return o.frozen }

// Proto returns the prototype, or nil.
func (o *Object) Proto() replay.Object {
	if o.proto == nil {
		return nil
	}
	return o.proto
}

// ParameterNames returns the parameters of a function with recorded code.
func (o *Object) ParameterNames() []string {
	if o.script == nil {
		return nil
	}
	return o.script.ParameterNames()
}

// Script returns the code of a function, or nil.
func (o *Object) Script() replay.Script {
	if o.script == nil {
		return nil
	}
	return o.script
}

// OwnPropertyNames returns the own property names in definition order.
func (o *Object) OwnPropertyNames() []string {
	names := make([]string, len(o.props))
	for i, p := range o.props {
		names[i] = p.name
	}
	return names
}

// OwnPropertyDescriptor describes an own data property.
func (o *Object) OwnPropertyDescriptor(name string) (replay.PropertyDescriptor, bool) {
	v, ok := o.Property(name)
	if !ok {
		return replay.PropertyDescriptor{}, false
	}
	return replay.PropertyDescriptor{
		Value:        v,
		HasValue:     true,
		Writable:     !o.frozen,
		Enumerable:   !(o.class == ClassArray && name == "length"),
		Configurable: !o.frozen,
	}, true
}

// Environment types.
const (
	EnvDeclarative = "declarative"
	EnvObject      = "object"
)

// Environment is a recorded scope.
type Environment struct {
	typ    string
	parent *Environment
	object *Object
	callee *Object
	names  []string
	vars   map[string]replay.Value
}

var _ replay.Environment = &Environment{}

// NewDeclarativeEnvironment returns a function scope.
func NewDeclarativeEnvironment(parent *Environment, callee *Object) *Environment {
	return &Environment{
		typ:    EnvDeclarative,
		parent: parent,
		callee: callee,
		vars:   make(map[string]replay.Value),
	}
}

// NewObjectEnvironment returns a scope whose bindings are the properties of
// object, like the global scope.
func NewObjectEnvironment(object *Object) *Environment {
	return &Environment{typ: EnvObject, object: object}
}

// Bind adds or replaces a binding of a declarative environment.
func (e *Environment) Bind(name string, value replay.Value) {
	if e.object != nil {
		e.object.SetProperty(name, value)
		return
	}
	if _, ok := e.vars[name]; !ok {
		e.names = append(e.names, name)
	}
	e.vars[name] = value
}

func (e *Environment) Type() string       { return e.typ }
func (e *Environment) OptimizedOut() bool { return false }

// Parent returns the enclosing environment, or nil.
func (e *Environment) Parent() replay.Environment {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

// Object returns the binding object of an object environment.
func (e *Environment) Object() replay.Object {
	if e.object == nil {
		return nil
	}
	return e.object
}

// Callee returns the function a declarative environment belongs to.
func (e *Environment) Callee() replay.Object {
	if e.callee == nil {
		return nil
	}
	return e.callee
}

// Names returns the bound names in binding order.
func (e *Environment) Names() []string {
	if e.object != nil {
		return e.object.OwnPropertyNames()
	}
	return append([]string(nil), e.names...)
}

// Variable returns the value bound to name, or undefined.
func (e *Environment) Variable(name string) replay.Value {
	if e.object != nil {
		if v, ok := e.object.Property(name); ok {
			return v
		}
		return replay.Undefined
	}
	if v, ok := e.vars[name]; ok {
		return v
	}
	return replay.Undefined
}

// chain returns the environment and its ancestors, outermost first.
func (e *Environment) chain() []*Environment {
	var rv []*Environment
	for env := e; env != nil; env = env.parent {
		rv = append([]*Environment{env}, rv...)
	}
	return rv
}
