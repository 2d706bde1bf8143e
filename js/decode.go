package js

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/replayd/js/compiler"
	"github.com/liuxd6825/replayd/replay"
)

// Tags of recorded values that plain YAML can't express. Inside flow
// collections a tag must be followed by a space, as in `{a: !undefined }`.
const (
	tagUndefined = "!undefined"
	tagFunction  = "!function"
)

// valueDecoder turns YAML nodes into recorded values. Anchored nodes are
// decoded once, so aliases keep object identity.
type valueDecoder struct {
	anchors   map[string]replay.Value
	functions func(name string) *compiler.Script
}

func newValueDecoder() *valueDecoder {
	return &valueDecoder{anchors: make(map[string]replay.Value)}
}

func (d *valueDecoder) decodeAll(nodes []yaml.Node) ([]replay.Value, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	rv := make([]replay.Value, len(nodes))
	for i := range nodes {
		v, err := d.decode(&nodes[i])
		if err != nil {
			return nil, err
		}
		rv[i] = v
	}
	return rv, nil
}

func (d *valueDecoder) decode(n *yaml.Node) (replay.Value, error) {
	switch n.Kind {
	case 0:
		return replay.Undefined, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return replay.Undefined, nil
		}
		return d.decode(n.Content[0])
	case yaml.AliasNode:
		if v, ok := d.anchors[n.Value]; ok {
			return v, nil
		}
		return d.decode(n.Alias)
	}

	if n.Anchor != "" {
		if v, ok := d.anchors[n.Anchor]; ok {
			return v, nil
		}
	}

	switch n.Kind { //nolint:exhaustive
	case yaml.ScalarNode:
		v, err := d.scalar(n)
		if err == nil && n.Anchor != "" {
			d.anchors[n.Anchor] = v
		}
		return v, err
	case yaml.MappingNode:
		obj := d.object(n)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := d.decode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			obj.SetProperty(n.Content[i].Value, v)
		}
		return obj, nil
	case yaml.SequenceNode:
		arr := NewObject(ClassArray)
		if n.Anchor != "" {
			d.anchors[n.Anchor] = arr
		}
		for i, item := range n.Content {
			v, err := d.decode(item)
			if err != nil {
				return nil, err
			}
			arr.SetProperty(strconv.Itoa(i), v)
		}
		arr.SetProperty("length", float64(len(n.Content)))
		return arr, nil
	}
	return nil, fmt.Errorf("line %d: unsupported value", n.Line)
}

// object creates the object for a mapping and registers its anchor before
// the properties are decoded, so it can contain itself.
func (d *valueDecoder) object(n *yaml.Node) *Object {
	var obj *Object
	if n.Tag == tagFunction {
		obj = d.function("")
	} else {
		obj = NewObject(ClassObject)
	}
	if n.Anchor != "" {
		d.anchors[n.Anchor] = obj
	}
	return obj
}

func (d *valueDecoder) function(name string) *Object {
	var script *compiler.Script
	if d.functions != nil && name != "" {
		script = d.functions(name)
	}
	return NewFunction(name, script)
}

func (d *valueDecoder) scalar(n *yaml.Node) (replay.Value, error) {
	switch n.Tag {
	case tagUndefined:
		return replay.Undefined, nil
	case tagFunction:
		return d.function(strings.TrimSpace(n.Value)), nil
	}

	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		err := n.Decode(&b)
		return b, err
	case "!!int", "!!float":
		var f float64
		err := n.Decode(&f)
		return f, err
	case "!!str":
		return n.Value, nil
	}
	return nil, fmt.Errorf("line %d: unsupported tag %s", n.Line, n.Tag)
}
