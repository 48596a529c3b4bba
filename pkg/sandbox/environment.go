package sandbox

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// CoreModule installs one host built-in into a sandbox and returns its
// exports value.
type CoreModule func(vm *goja.Runtime) (goja.Value, error)

// Environment is one sandboxed evaluation context: a fresh goja runtime with
// its own global object, a timer facade, and a registry of host built-ins.
// One environment serves one test; Teardown makes every later evaluation a
// no-op for the runtime layer.
type Environment struct {
	vm     *goja.Runtime
	timers *FakeTimers
	log    zerolog.Logger

	core          map[string]CoreModule
	coreInstances map[string]goja.Value

	tornDown bool
}

// Option configures an Environment
type Option func(*Environment)

// WithLogger routes console output and sandbox diagnostics
func WithLogger(log zerolog.Logger) Option {
	return func(e *Environment) { e.log = log }
}

// New creates a sandbox with timers, console, and the standard host
// built-ins installed.
func New(opts ...Option) *Environment {
	vm := goja.New()
	e := &Environment{
		vm:            vm,
		log:           zerolog.Nop(),
		core:          make(map[string]CoreModule),
		coreInstances: make(map[string]goja.Value),
	}
	for _, opt := range opts {
		opt(e)
	}

	vm.Set("global", vm.GlobalObject())
	e.timers = newFakeTimers(vm)
	e.timers.install()
	e.installConsole()

	e.RegisterCoreModule("path", corePath)
	e.RegisterCoreModule("assert", coreAssert)
	e.RegisterCoreModule("util", coreUtil)
	return e
}

// VM exposes the underlying goja runtime
func (e *Environment) VM() *goja.Runtime {
	return e.vm
}

// Global returns the sandbox global object, or nil after teardown
func (e *Environment) Global() *goja.Object {
	if e.tornDown {
		return nil
	}
	return e.vm.GlobalObject()
}

// RunScript evaluates a compiled program in the sandbox
func (e *Environment) RunScript(program *goja.Program) (goja.Value, error) {
	if e.tornDown {
		return nil, fmt.Errorf("sandbox has been torn down")
	}
	return e.vm.RunProgram(program)
}

// Teardown detaches the global; the module runtime treats a nil global as
// "stop executing" so shutdown races don't raise.
func (e *Environment) Teardown() {
	e.tornDown = true
	e.timers.Reset()
}

// RegisterCoreModule declares a host built-in under a name. Instances are
// created on first require and cached for the environment's lifetime.
func (e *Environment) RegisterCoreModule(name string, loader CoreModule) {
	e.core[name] = loader
}

// RequireCore loads a host built-in by name ("node:" prefix accepted)
func (e *Environment) RequireCore(name string) (goja.Value, error) {
	name = strings.TrimPrefix(name, "node:")
	if v, ok := e.coreInstances[name]; ok {
		return v, nil
	}
	loader, ok := e.core[name]
	if !ok {
		return nil, fmt.Errorf("core module '%s' is not provided by this sandbox", name)
	}
	v, err := loader(e.vm)
	if err != nil {
		return nil, err
	}
	e.coreInstances[name] = v
	return v, nil
}

// LoadNativeAddon would load a compiled .node addon; this sandbox has no
// dynamic addon host.
func (e *Environment) LoadNativeAddon(path string) (goja.Value, error) {
	return nil, fmt.Errorf("cannot load native addon '%s': not supported by this sandbox", path)
}

// MockClearTimers resets the timer facade
func (e *Environment) MockClearTimers() {
	e.timers.Reset()
}

// Timer facade forwarding, consumed by the runtime's control surface.

func (e *Environment) UseFakeTimers()        { e.timers.UseFakeTimers() }
func (e *Environment) UseRealTimers()        { e.timers.UseRealTimers() }
func (e *Environment) ClearAllTimers()       { e.timers.ClearAllTimers() }
func (e *Environment) RunAllTicks()          { e.timers.RunAllTicks() }
func (e *Environment) RunAllImmediates()     { e.timers.RunAllImmediates() }
func (e *Environment) RunAllTimers()         { e.timers.RunAllTimers() }
func (e *Environment) RunOnlyPendingTimers() { e.timers.RunOnlyPendingTimers() }

// FakeTimers exposes the facade directly for hosts that drive it themselves
func (e *Environment) FakeTimers() *FakeTimers {
	return e.timers
}

func (e *Environment) installConsole() {
	console := e.vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		e.log.Info().Msg(strings.Join(parts, " "))
		return goja.Undefined()
	}
	console.Set("log", logFn)
	console.Set("warn", logFn)
	console.Set("error", logFn)
	e.vm.Set("console", console)
}
