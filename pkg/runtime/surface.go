package runtime

import (
	"github.com/dop251/goja"
)

// MockOptions adjusts a Mock registration
type MockOptions struct {
	// Virtual registers the name as an in-memory-only module: the mock
	// decision answers true even though nothing exists on disk.
	Virtual bool
}

// Surface is the control surface scoped to one executing module: the object
// test code reaches as `jest`. Every mutator returns the same Surface so
// calls chain; tests written against the fluent contract rely on that.
type Surface struct {
	rt   *Runtime
	from string

	jsObj *goja.Object
}

// RuntimeFor builds the control surface for the module at `from`
func (r *Runtime) RuntimeFor(from string) *Surface {
	return &Surface{rt: r, from: from}
}

// Mock marks a name to be mocked. With a factory, the factory's value
// becomes the mock's exports; with MockOptions.Virtual the name need not
// exist on disk.
func (s *Surface) Mock(name string, factory MockFactory, opts *MockOptions) *Surface {
	if factory != nil {
		if opts != nil && opts.Virtual {
			s.rt.virtualMocks[s.rt.virtualMockPath(s.from, name)] = true
		}
		s.rt.SetMock(s.from, name, factory)
		return s
	}
	moduleID := s.rt.normalizeID(s.from, name)
	s.rt.explicitShouldMock[moduleID] = true
	return s
}

// DoMock behaves like Mock; it exists for call sites that are not hoisted
func (s *Surface) DoMock(name string, factory MockFactory, opts *MockOptions) *Surface {
	return s.Mock(name, factory, opts)
}

// Unmock forces the real module for a name
func (s *Surface) Unmock(name string) *Surface {
	moduleID := s.rt.normalizeID(s.from, name)
	s.rt.explicitShouldMock[moduleID] = false
	return s
}

// DontMock is the historical alias of Unmock
func (s *Surface) DontMock(name string) *Surface {
	return s.Unmock(name)
}

// DeepUnmock additionally suppresses automocking across the module's
// transitive dependencies.
func (s *Surface) DeepUnmock(name string) *Surface {
	moduleID := s.rt.normalizeID(s.from, name)
	s.rt.explicitShouldMock[moduleID] = false
	s.rt.transitiveShouldMock[moduleID] = false
	return s
}

// EnableAutomock turns the global automock on
func (s *Surface) EnableAutomock() *Surface {
	s.rt.shouldAutoMock = true
	return s
}

// DisableAutomock turns the global automock off
func (s *Surface) DisableAutomock() *Surface {
	s.rt.shouldAutoMock = false
	return s
}

// SetMock installs a constant-value mock; sugar for a factory returning it
func (s *Surface) SetMock(name string, value goja.Value) *Surface {
	return s.Mock(name, func() (goja.Value, error) { return value, nil }, nil)
}

// ResetModuleRegistry drops evaluated modules and mocks
func (s *Surface) ResetModuleRegistry() *Surface {
	s.rt.ResetModuleRegistry()
	return s
}

// Fn constructs a mock function, optionally preset with an implementation
func (s *Surface) Fn(impl goja.Value) *goja.Object {
	mock := s.rt.mocker.GetMockFunction(s.rt.env.VM())
	if impl != nil && !goja.IsUndefined(impl) {
		if set, ok := goja.AssertFunction(mock.Get("mockImplementation")); ok {
			set(mock, impl)
		}
	}
	return mock
}

// GenMockFromModule generates an automock of the named module without
// registering it anywhere.
func (s *Surface) GenMockFromModule(name string) (goja.Value, error) {
	return s.rt.generateMock(s.from, name)
}

// GetTestEnvData returns a frozen shallow copy of the configured test
// environment data.
func (s *Surface) GetTestEnvData() goja.Value {
	vm := s.rt.env.VM()
	obj := vm.NewObject()
	for k, v := range s.rt.cfg.TestEnvData {
		obj.Set(k, vm.ToValue(v))
	}
	objectCtor := vm.Get("Object").ToObject(vm)
	if freeze, ok := goja.AssertFunction(objectCtor.Get("freeze")); ok {
		freeze(goja.Undefined(), obj)
	}
	return obj
}

// AddMatchers forwards a matcher table to the host framework's registration
// hook on the sandbox global, when one is installed.
func (s *Surface) AddMatchers(matchers goja.Value) *Surface {
	if global := s.rt.env.Global(); global != nil {
		if register, ok := goja.AssertFunction(global.Get("addMatchers")); ok {
			register(goja.Undefined(), matchers)
		}
	}
	return s
}

// Timer controls forward to the environment's fake-timer facility.

func (s *Surface) UseFakeTimers() *Surface        { s.rt.env.UseFakeTimers(); return s }
func (s *Surface) UseRealTimers() *Surface        { s.rt.env.UseRealTimers(); return s }
func (s *Surface) ClearAllTimers() *Surface       { s.rt.env.ClearAllTimers(); return s }
func (s *Surface) RunAllTicks() *Surface          { s.rt.env.RunAllTicks(); return s }
func (s *Surface) RunAllImmediates() *Surface     { s.rt.env.RunAllImmediates(); return s }
func (s *Surface) RunAllTimers() *Surface         { s.rt.env.RunAllTimers(); return s }
func (s *Surface) RunOnlyPendingTimers() *Surface { s.rt.env.RunOnlyPendingTimers(); return s }

// JSObject materializes the surface as the sandbox `jest` object. Mutating
// methods return the same JS object, preserving the fluent contract on the
// JavaScript side.
func (s *Surface) JSObject() *goja.Object {
	if s.jsObj != nil {
		return s.jsObj
	}
	vm := s.rt.env.VM()
	obj := vm.NewObject()
	s.jsObj = obj

	fluent := func(body func(call goja.FunctionCall)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			body(call)
			return obj
		}
	}

	mockFn := fluent(func(call goja.FunctionCall) {
		name := call.Argument(0).String()
		if factory, ok := goja.AssertFunction(call.Argument(1)); ok {
			opts := &MockOptions{}
			if optArg := call.Argument(2); optArg != nil && !goja.IsUndefined(optArg) && !goja.IsNull(optArg) {
				if virtual := optArg.ToObject(vm).Get("virtual"); virtual != nil {
					opts.Virtual = virtual.ToBoolean()
				}
			}
			s.Mock(name, callableFactory(factory), opts)
			return
		}
		s.Mock(name, nil, nil)
	})
	obj.Set("mock", mockFn)
	obj.Set("doMock", mockFn)
	obj.Set("unmock", fluent(func(call goja.FunctionCall) { s.Unmock(call.Argument(0).String()) }))
	obj.Set("dontMock", fluent(func(call goja.FunctionCall) { s.Unmock(call.Argument(0).String()) }))
	obj.Set("deepUnmock", fluent(func(call goja.FunctionCall) { s.DeepUnmock(call.Argument(0).String()) }))
	obj.Set("enableAutomock", fluent(func(goja.FunctionCall) { s.EnableAutomock() }))
	obj.Set("disableAutomock", fluent(func(goja.FunctionCall) { s.DisableAutomock() }))
	obj.Set("autoMockOn", fluent(func(goja.FunctionCall) { s.EnableAutomock() }))
	obj.Set("autoMockOff", fluent(func(goja.FunctionCall) { s.DisableAutomock() }))
	obj.Set("setMock", fluent(func(call goja.FunctionCall) {
		s.SetMock(call.Argument(0).String(), call.Argument(1))
	}))
	obj.Set("resetModuleRegistry", fluent(func(goja.FunctionCall) { s.ResetModuleRegistry() }))
	obj.Set("fn", func(call goja.FunctionCall) goja.Value {
		return s.Fn(call.Argument(0))
	})
	obj.Set("isMockFunction", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(s.rt.mocker.IsMockFunction(call.Argument(0)))
	})
	obj.Set("genMockFromModule", func(call goja.FunctionCall) goja.Value {
		v, err := s.GenMockFromModule(call.Argument(0).String())
		if err != nil {
			panic(s.rt.requireError(err))
		}
		return v
	})
	obj.Set("addMatchers", fluent(func(call goja.FunctionCall) { s.AddMatchers(call.Argument(0)) }))
	obj.Set("getTestEnvData", func(goja.FunctionCall) goja.Value { return s.GetTestEnvData() })

	obj.Set("useFakeTimers", fluent(func(goja.FunctionCall) { s.UseFakeTimers() }))
	obj.Set("useRealTimers", fluent(func(goja.FunctionCall) { s.UseRealTimers() }))
	obj.Set("clearAllTimers", fluent(func(goja.FunctionCall) { s.ClearAllTimers() }))
	obj.Set("runAllTicks", fluent(func(goja.FunctionCall) { s.RunAllTicks() }))
	obj.Set("runAllImmediates", fluent(func(goja.FunctionCall) { s.RunAllImmediates() }))
	obj.Set("runAllTimers", fluent(func(goja.FunctionCall) { s.RunAllTimers() }))
	obj.Set("runOnlyPendingTimers", fluent(func(goja.FunctionCall) { s.RunOnlyPendingTimers() }))

	return obj
}

// callableFactory adapts a sandbox factory function into a MockFactory
func callableFactory(fn goja.Callable) MockFactory {
	return func() (goja.Value, error) {
		return fn(goja.Undefined())
	}
}
