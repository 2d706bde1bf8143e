package replay

import "math"

// SpecialValue marks values that do not survive JSON: undefined, NaN and
// the infinities.
type SpecialValue struct {
	Special string `json:"special"`
}

// ObjectRef refers to a paused object by id.
type ObjectRef struct {
	Object int `json:"object"`
}

// EnvironmentRef refers to a paused environment by id.
type EnvironmentRef struct {
	Environment int `json:"environment"`
}

// ClearPausedState invalidates every paused object id. It has to be called
// whenever the debuggee resumes.
func (s *Session) ClearPausedState() {
	s.paused.Clear()
}

// PauseGeneration identifies the current pause. It changes with every
// ClearPausedState, so ids handed out in an earlier pause can be told apart.
func (s *Session) PauseGeneration() uint64 {
	return s.paused.Generation()
}

// PausedObjects returns the number of live paused object ids.
func (s *Session) PausedObjects() int {
	return s.paused.Len()
}

// pausedID returns the id of a paused object or environment, registering it
// on first sight. Nil handles map to 0.
func (s *Session) pausedID(handle any) int {
	switch handle.(type) {
	case nil:
		return 0
	case Object, Environment:
	default:
		assertf(false, "paused handle of unexpected type %T", handle)
	}
	if id := s.paused.ID(handle); id != 0 {
		return id
	}
	return s.paused.Add(handle)
}

func (s *Session) objectID(obj Object) int {
	if obj == nil {
		return 0
	}
	return s.pausedID(obj)
}

func (s *Session) environmentID(env Environment) int {
	if env == nil {
		return 0
	}
	return s.pausedID(env)
}

// describeValue converts a debuggee value into something that can be sent
// over the wire.
func (s *Session) describeValue(v Value) any {
	switch val := v.(type) {
	case Object:
		return ObjectRef{Object: s.objectID(val)}
	case Environment:
		return EnvironmentRef{Environment: s.environmentID(val)}
	case undefinedValue:
		return SpecialValue{Special: "undefined"}
	case float64:
		switch {
		case math.IsNaN(val):
			return SpecialValue{Special: "NaN"}
		case math.IsInf(val, 1):
			return SpecialValue{Special: "Infinity"}
		case math.IsInf(val, -1):
			return SpecialValue{Special: "-Infinity"}
		}
	}
	return v
}

func (s *Session) describeCompletion(c Completion) map[string]any {
	if c.Threw {
		return map[string]any{"throw": s.describeValue(c.Throw)}
	}
	return map[string]any{"return": s.describeValue(c.Return)}
}

// ObjectData is the flat description of a paused object. Own properties are
// fetched separately.
type ObjectData struct {
	ID                  int      `json:"id"`
	Kind                string   `json:"kind"`
	Callable            bool     `json:"callable"`
	IsBoundFunction     bool     `json:"isBoundFunction"`
	IsArrowFunction     bool     `json:"isArrowFunction"`
	IsGeneratorFunction bool     `json:"isGeneratorFunction"`
	IsAsyncFunction     bool     `json:"isAsyncFunction"`
	Proto               int      `json:"proto"`
	Class               string   `json:"class"`
	Name                string   `json:"name,omitempty"`
	DisplayName         string   `json:"displayName,omitempty"`
	ParameterNames      []string `json:"parameterNames,omitempty"`
	Script              int      `json:"script"`
	Environment         int      `json:"environment"`
	Global              int      `json:"global"`
	IsProxy             bool     `json:"isProxy"`
	IsExtensible        bool     `json:"isExtensible"`
	IsSealed            bool     `json:"isSealed"`
	IsFrozen            bool     `json:"isFrozen"`
}

// EnvironmentData is the flat description of a paused environment.
type EnvironmentData struct {
	ID           int    `json:"id"`
	Kind         string `json:"kind"`
	Type         string `json:"type"`
	Parent       int    `json:"parent"`
	Object       int    `json:"object"`
	Callee       int    `json:"callee"`
	OptimizedOut bool   `json:"optimizedOut"`
}

func (s *Session) describeObject(id int) (any, error) {
	handle, ok := s.paused.Object(id)
	if !ok {
		return nil, ErrUnknownObject
	}
	switch obj := handle.(type) {
	case Object:
		data := ObjectData{
			ID:                  id,
			Kind:                "Object",
			Callable:            obj.Callable(),
			IsBoundFunction:     obj.IsBoundFunction(),
			IsArrowFunction:     obj.IsArrowFunction(),
			IsGeneratorFunction: obj.IsGeneratorFunction(),
			IsAsyncFunction:     obj.IsAsyncFunction(),
			Proto:               s.objectID(obj.Proto()),
			Class:               obj.Class(),
			Name:                obj.Name(),
			DisplayName:         obj.DisplayName(),
			ParameterNames:      obj.ParameterNames(),
			Environment:         s.environmentID(obj.Environment()),
			Global:              s.objectID(obj.Global()),
			IsProxy:             obj.IsProxy(),
			IsExtensible:        obj.IsExtensible(),
			IsSealed:            obj.IsSealed(),
			IsFrozen:            obj.IsFrozen(),
		}
		if script := obj.Script(); script != nil {
			data.Script = s.scripts.ID(script)
		}
		return data, nil
	case Environment:
		return s.describeEnvironment(id, obj), nil
	}
	assertf(false, "paused object %d of unexpected type %T", id, handle)
	return nil, nil
}

func (s *Session) describeEnvironment(id int, env Environment) EnvironmentData {
	data := EnvironmentData{
		ID:           id,
		Kind:         "Environment",
		Type:         env.Type(),
		Parent:       s.environmentID(env.Parent()),
		Callee:       s.objectID(env.Callee()),
		OptimizedOut: env.OptimizedOut(),
	}
	if data.Type != "declarative" {
		data.Object = s.objectID(env.Object())
	}
	return data
}

// PropertyData is one own property of a paused object.
type PropertyData struct {
	Name string         `json:"name"`
	Desc map[string]any `json:"desc"`
}

func (s *Session) objectProperties(id int, div Divergence) ([]PropertyData, error) {
	if !div.MayDiverge() {
		return []PropertyData{{
			Name: "Unknown properties",
			Desc: map[string]any{
				"value":      "Recording divergence in getObjectProperties",
				"enumerable": true,
			},
		}}, nil
	}

	handle, ok := s.paused.Object(id)
	if !ok {
		return nil, ErrUnknownObject
	}
	obj, ok := handle.(Object)
	if !ok {
		return nil, ErrUnknownObject
	}

	names := obj.OwnPropertyNames()
	rv := make([]PropertyData, 0, len(names))
	for _, name := range names {
		pd, ok := obj.OwnPropertyDescriptor(name)
		if !ok {
			continue
		}
		desc := map[string]any{
			"enumerable":   pd.Enumerable,
			"configurable": pd.Configurable,
		}
		if pd.HasValue {
			desc["value"] = s.describeValue(pd.Value)
			desc["writable"] = pd.Writable
		}
		if pd.Get != nil {
			desc["get"] = s.objectID(pd.Get)
		}
		if pd.Set != nil {
			desc["set"] = s.objectID(pd.Set)
		}
		rv = append(rv, PropertyData{Name: name, Desc: desc})
	}
	return rv, nil
}

// NameData is one binding of a paused environment.
type NameData struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func (s *Session) environmentNames(id int, div Divergence) ([]NameData, error) {
	if !div.MayDiverge() {
		return []NameData{{Name: "Unknown names", Value: "Recording divergence in getEnvironmentNames"}}, nil
	}

	handle, ok := s.paused.Object(id)
	if !ok {
		return nil, ErrUnknownObject
	}
	env, ok := handle.(Environment)
	if !ok {
		return nil, ErrUnknownObject
	}

	names := env.Names()
	rv := make([]NameData, 0, len(names))
	for _, name := range names {
		rv = append(rv, NameData{Name: name, Value: s.describeValue(env.Variable(name))})
	}
	return rv, nil
}

// FrameData is the description of one eligible stack frame.
type FrameData struct {
	Index        int    `json:"index"`
	Type         string `json:"type"`
	Callee       int    `json:"callee"`
	Environment  int    `json:"environment"`
	Generator    bool   `json:"generator"`
	Constructing bool   `json:"constructing"`
	This         any    `json:"this"`
	Script       int    `json:"script"`
	Offset       int    `json:"offset"`
	Arguments    []any  `json:"arguments"`
}

func (s *Session) frameData(index int) (any, error) {
	if index == -1 {
		n := s.countScriptFrames()
		if n == 0 {
			return struct{}{}, nil
		}
		index = n - 1
	}

	frame, err := s.scriptFrameForIndex(index)
	if err != nil {
		return nil, err
	}

	data := FrameData{
		Index:        index,
		Type:         frame.Type(),
		Callee:       s.objectID(frame.Callee()),
		Environment:  s.environmentID(frame.Environment()),
		Generator:    frame.Generator(),
		Constructing: frame.Constructing(),
		This:         s.describeValue(frame.This()),
		Script:       s.scripts.ID(frame.Script()),
		Offset:       frame.Offset(),
	}
	if args, ok := frame.Arguments(); ok {
		data.Arguments = make([]any, len(args))
		for i, arg := range args {
			data.Arguments[i] = s.describeValue(arg)
		}
	}
	return data, nil
}

func (s *Session) frameEvaluate(index int, text string, opts EvalOptions, div Divergence) (any, error) {
	if !div.MayDiverge() {
		return map[string]any{"throw": "Recording divergence in frameEvaluate"}, nil
	}

	frame, err := s.scriptFrameForIndex(index)
	if err != nil {
		return nil, err
	}

	var (
		completion Completion
		evalErr    error
	)
	s.withThreadEventsDisallowed(func() {
		completion, evalErr = frame.Eval(text, opts)
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return s.describeCompletion(completion), nil
}

func (s *Session) popFrameResult() any {
	if s.popResult == nil {
		return struct{}{}
	}
	return s.describeCompletion(*s.popResult)
}
