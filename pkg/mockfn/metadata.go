package mockfn

import (
	"github.com/dop251/goja"
)

// Kind classifies a value in extracted metadata
type Kind string

const (
	KindFunction Kind = "function"
	KindObject   Kind = "object"
	KindArray    Kind = "array"
	KindConstant Kind = "constant"
	KindRef      Kind = "ref" // back-reference into an ancestor
)

// Metadata is the structural description of a value: enough to synthesize a
// mock with the same shape. Cycles terminate as refs pointing at the ID of
// an ancestor node.
type Metadata struct {
	Kind    Kind
	Value   goja.Value // constants carry the original value
	Members map[string]*Metadata
	ID      int // nonzero when some ref points here
	RefID   int // target ID, refs only
}

// EmptyMetadata is the shape of a bare object; used as a placeholder while
// a circular introspection is in flight.
func EmptyMetadata() *Metadata {
	return &Metadata{Kind: KindObject}
}

type metaExtractor struct {
	visited map[*goja.Object]*Metadata
	nextID  int
}

// GetMetadata introspects a sandbox value. It returns nil for values that
// have no structural description (undefined).
func GetMetadata(vm *goja.Runtime, v goja.Value) *Metadata {
	e := &metaExtractor{visited: make(map[*goja.Object]*Metadata)}
	return e.extract(v)
}

func (e *metaExtractor) extract(v goja.Value) *Metadata {
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	if goja.IsNull(v) {
		return &Metadata{Kind: KindConstant, Value: v}
	}
	obj, isObj := v.(*goja.Object)
	if !isObj {
		return &Metadata{Kind: KindConstant, Value: v}
	}

	if ancestor, ok := e.visited[obj]; ok {
		if ancestor.ID == 0 {
			e.nextID++
			ancestor.ID = e.nextID
		}
		return &Metadata{Kind: KindRef, RefID: ancestor.ID}
	}

	var kind Kind
	if _, callable := goja.AssertFunction(obj); callable {
		kind = KindFunction
	} else {
		switch obj.ClassName() {
		case "Array":
			kind = KindArray
		case "Object":
			kind = KindObject
		default:
			// Dates, RegExps and friends are carried as-is
			return &Metadata{Kind: KindConstant, Value: v}
		}
	}

	meta := &Metadata{Kind: kind}
	e.visited[obj] = meta
	for _, key := range obj.Keys() {
		if kind == KindFunction && isMockBookkeepingKey(key) {
			continue
		}
		child := e.extract(obj.Get(key))
		if child == nil {
			continue
		}
		if meta.Members == nil {
			meta.Members = make(map[string]*Metadata)
		}
		meta.Members[key] = child
	}
	return meta
}

func isMockBookkeepingKey(key string) bool {
	switch key {
	case mockFlag, "mock", "mockClear", "mockReset",
		"mockImplementation", "mockImplementationOnce",
		"mockReturnValue", "mockReturnValueOnce":
		return true
	}
	return false
}

// GenerateFromMetadata synthesizes a fresh mock from a structural
// description: functions become mock functions, containers are rebuilt
// member by member, constants are carried over, refs resolve against the
// ancestors built earlier in the same pass.
func GenerateFromMetadata(vm *goja.Runtime, meta *Metadata) goja.Value {
	refs := make(map[int]goja.Value)
	return generate(vm, meta, refs)
}

func generate(vm *goja.Runtime, meta *Metadata, refs map[int]goja.Value) goja.Value {
	switch meta.Kind {
	case KindConstant:
		if meta.Value == nil {
			return goja.Undefined()
		}
		return meta.Value
	case KindRef:
		if v, ok := refs[meta.RefID]; ok {
			return v
		}
		return goja.Undefined()
	case KindFunction:
		mock := GetMockFunction(vm)
		fillMembers(vm, mock, meta, refs)
		return mock
	case KindArray:
		arr := vm.NewArray()
		fillMembers(vm, arr, meta, refs)
		return arr
	default:
		obj := vm.NewObject()
		fillMembers(vm, obj, meta, refs)
		return obj
	}
}

func fillMembers(vm *goja.Runtime, target *goja.Object, meta *Metadata, refs map[int]goja.Value) {
	if meta.ID != 0 {
		refs[meta.ID] = target
	}
	for key, member := range meta.Members {
		target.Set(key, generate(vm, member, refs))
	}
}
