package mockfn

import (
	"github.com/dop251/goja"
)

// mockFlag marks a sandbox value as one of our mock functions
const mockFlag = "_isMockFunction"

type mockState struct {
	calls       *goja.Object // live JS array of argument arrays
	impl        goja.Callable
	onceImpls   []goja.Callable
	returnValue goja.Value
	onceReturns []goja.Value
}

// GetMockFunction creates a fresh mock function in the sandbox: a callable
// that records every invocation under .mock.calls and dispatches to the
// configured implementation or return value. Configuration methods return
// the mock itself.
func GetMockFunction(vm *goja.Runtime) *goja.Object {
	state := &mockState{calls: vm.NewArray()}
	var fnObj *goja.Object

	dispatch := func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a
		}
		push, _ := goja.AssertFunction(state.calls.Get("push"))
		if _, err := push(state.calls, vm.NewArray(args...)); err != nil {
			panic(vm.NewGoError(err))
		}

		invoke := func(impl goja.Callable) goja.Value {
			v, err := impl(call.This, call.Arguments...)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return v
		}
		if len(state.onceImpls) > 0 {
			impl := state.onceImpls[0]
			state.onceImpls = state.onceImpls[1:]
			return invoke(impl)
		}
		if state.impl != nil {
			return invoke(state.impl)
		}
		if len(state.onceReturns) > 0 {
			v := state.onceReturns[0]
			state.onceReturns = state.onceReturns[1:]
			return v
		}
		if state.returnValue != nil {
			return state.returnValue
		}
		return goja.Undefined()
	}

	fnObj = vm.ToValue(dispatch).(*goja.Object)
	fnObj.Set(mockFlag, true)

	mockObj := vm.NewObject()
	mockObj.Set("calls", state.calls)
	fnObj.Set("mock", mockObj)

	fnObj.Set("mockClear", func(goja.FunctionCall) goja.Value {
		state.calls = vm.NewArray()
		mockObj.Set("calls", state.calls)
		return fnObj
	})
	fnObj.Set("mockReset", func(goja.FunctionCall) goja.Value {
		state.calls = vm.NewArray()
		mockObj.Set("calls", state.calls)
		state.impl = nil
		state.onceImpls = nil
		state.returnValue = nil
		state.onceReturns = nil
		return fnObj
	})
	fnObj.Set("mockImplementation", func(call goja.FunctionCall) goja.Value {
		state.impl, _ = goja.AssertFunction(call.Argument(0))
		return fnObj
	})
	fnObj.Set("mockImplementationOnce", func(call goja.FunctionCall) goja.Value {
		if impl, ok := goja.AssertFunction(call.Argument(0)); ok {
			state.onceImpls = append(state.onceImpls, impl)
		}
		return fnObj
	})
	fnObj.Set("mockReturnValue", func(call goja.FunctionCall) goja.Value {
		state.returnValue = call.Argument(0)
		return fnObj
	})
	fnObj.Set("mockReturnValueOnce", func(call goja.FunctionCall) goja.Value {
		state.onceReturns = append(state.onceReturns, call.Argument(0))
		return fnObj
	})
	return fnObj
}

// IsMockFunction reports whether a sandbox value is a mock function
func IsMockFunction(v goja.Value) bool {
	if v == nil {
		return false
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	if _, callable := goja.AssertFunction(obj); !callable {
		return false
	}
	flag := obj.Get(mockFlag)
	return flag != nil && flag.ToBoolean()
}

// Mocker bundles the package's operations behind a value so the runtime can
// consume them as an interface.
type Mocker struct{}

func (Mocker) GetMockFunction(vm *goja.Runtime) *goja.Object { return GetMockFunction(vm) }
func (Mocker) IsMockFunction(v goja.Value) bool              { return IsMockFunction(v) }
func (Mocker) GetMetadata(vm *goja.Runtime, v goja.Value) *Metadata {
	return GetMetadata(vm, v)
}
func (Mocker) GenerateFromMetadata(vm *goja.Runtime, meta *Metadata) goja.Value {
	return GenerateFromMetadata(vm, meta)
}
