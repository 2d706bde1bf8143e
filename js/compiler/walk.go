package compiler

import (
	"reflect"
	"sort"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"

	"github.com/liuxd6825/replayd/replay"
)

//nolint:gochecknoglobals
var fileType = reflect.TypeOf((*file.File)(nil))

type workItem struct {
	owner *Script
	v     reflect.Value
}

// builder turns a parsed program into a tree of scripts. Every function
// literal gets a script of its own; statements belong to the script of the
// innermost function enclosing them.
type builder struct {
	prg  *ast.Program
	src  *Source
	base int

	// fallback main offsets of scripts without statements
	fallback map[*Script]int
	// names given to anonymous functions by the binding they initialize
	inferred map[ast.Node]string
	seen     map[uintptr]bool
}

func newBuilder(prg *ast.Program, src *Source) *builder {
	return &builder{
		prg:      prg,
		src:      src,
		base:     prg.File.Base(),
		fallback: make(map[*Script]int),
		inferred: make(map[ast.Node]string),
		seen:     make(map[uintptr]bool),
	}
}

func (b *builder) build() *Script {
	top := b.newScript(nil, "", nil, 0, len(b.src.text), 0)

	stack := []workItem{{owner: top, v: reflect.ValueOf(b.prg.Body)}}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		owner, v := item.owner, item.v

		switch v.Kind() { //nolint:exhaustive
		case reflect.Interface:
			if !v.IsNil() {
				stack = append(stack, workItem{owner: owner, v: v.Elem()})
			}
			continue
		case reflect.Slice:
			for i := v.Len() - 1; i >= 0; i-- {
				stack = append(stack, workItem{owner: owner, v: v.Index(i)})
			}
			continue
		case reflect.Ptr:
			if v.IsNil() || v.Type() == fileType || b.seen[v.Pointer()] {
				continue
			}
			b.seen[v.Pointer()] = true
			owner = b.visit(owner, v.Interface())
			v = v.Elem()
		}

		if v.Kind() != reflect.Struct {
			continue
		}
		t := v.Type()
		for i := t.NumField() - 1; i >= 0; i-- {
			if t.Field(i).IsExported() {
				stack = append(stack, workItem{owner: owner, v: v.Field(i)})
			}
		}
	}

	top.Walk(b.finish)
	return top
}

// visit records what node means for the tree and returns the script owning
// the node's children.
func (b *builder) visit(owner *Script, node any) *Script {
	switch n := node.(type) {
	case *ast.FunctionLiteral:
		name := b.inferred[n]
		if n.Name != nil {
			name = string(n.Name.Name)
		}
		return b.newScript(owner, name, n.ParameterList,
			b.offset(n.Idx0()), int(n.Idx1()-n.Idx0()), b.offset(n.Body.Idx0()))
	case *ast.ArrowFunctionLiteral:
		return b.newScript(owner, b.inferred[n], n.ParameterList,
			b.offset(n.Idx0()), int(n.Idx1()-n.Idx0()), b.offset(n.Body.Idx0()))
	case *ast.Binding:
		id, ok := n.Target.(*ast.Identifier)
		if !ok {
			break
		}
		switch init := n.Initializer.(type) {
		case *ast.FunctionLiteral:
			b.inferred[init] = string(id.Name)
		case *ast.ArrowFunctionLiteral:
			b.inferred[init] = string(id.Name)
		}
	case *ast.BlockStatement, *ast.EmptyStatement, *ast.FunctionDeclaration,
		*ast.CaseStatement, *ast.CatchStatement, *ast.BadStatement:
		// not executable on their own
	case ast.Statement:
		owner.offsets = append(owner.offsets, b.offset(n.Idx0()))
	}
	return owner
}

func (b *builder) offset(idx file.Idx) int {
	return int(idx) - b.base
}

func (b *builder) newScript(
	parent *Script, name string, params *ast.ParameterList, start, length, fallback int,
) *Script {
	s := &Script{
		source:      b.src,
		parent:      parent,
		name:        name,
		params:      parameterNames(params),
		start:       start,
		length:      length,
		locations:   make(map[int]offsetLocation),
		breakpoints: make(map[int][]func(replay.Frame)),
	}
	if parent != nil {
		parent.children = append(parent.children, s)
	}
	b.fallback[s] = fallback
	return s
}

// finish sorts what the walk collected and resolves line numbers.
func (b *builder) finish(s *Script) {
	sort.Slice(s.children, func(i, j int) bool { return s.children[i].start < s.children[j].start })

	sort.Ints(s.offsets)
	offsets := s.offsets[:0]
	for i, offset := range s.offsets {
		if i == 0 || offset != s.offsets[i-1] {
			offsets = append(offsets, offset)
		}
	}
	if len(offsets) == 0 {
		offsets = append(offsets, b.fallback[s])
	}
	s.offsets = offsets

	for _, offset := range s.offsets {
		pos := b.prg.File.Position(offset)
		s.locations[offset] = offsetLocation{line: pos.Line, column: pos.Column - 1}
	}

	s.startLine = b.prg.File.Position(s.start).Line
	end := s.start + s.length - 1
	if end < s.start {
		end = s.start
	}
	s.lineCount = b.prg.File.Position(end).Line - s.startLine + 1
}

func parameterNames(params *ast.ParameterList) []string {
	if params == nil {
		return nil
	}
	var names []string
	for _, binding := range params.List {
		if id, ok := binding.Target.(*ast.Identifier); ok {
			names = append(names, string(id.Name))
		}
	}
	return names
}
