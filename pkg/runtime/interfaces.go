package runtime

import (
	"github.com/dop251/goja"

	"mimic/pkg/mockfn"
)

// Environment is the sandbox host the runtime evaluates against. Global
// returns nil once the environment has been torn down; the runtime treats
// that as "stop executing" rather than an error.
type Environment interface {
	VM() *goja.Runtime
	Global() *goja.Object
	RunScript(program *goja.Program) (goja.Value, error)

	// Host built-ins and native addons
	RequireCore(name string) (goja.Value, error)
	LoadNativeAddon(path string) (goja.Value, error)

	// Fake-timer facade, forwarded by the control surface
	UseFakeTimers()
	UseRealTimers()
	ClearAllTimers()
	RunAllTicks()
	RunAllImmediates()
	RunAllTimers()
	RunOnlyPendingTimers()
	MockClearTimers()
}

// MockManufacturer is the mock metadata tooling the runtime consumes
type MockManufacturer interface {
	GetMetadata(vm *goja.Runtime, v goja.Value) *mockfn.Metadata
	GenerateFromMetadata(vm *goja.Runtime, meta *mockfn.Metadata) goja.Value
	GetMockFunction(vm *goja.Runtime) *goja.Object
	IsMockFunction(v goja.Value) bool
}

// MockFactory produces the exports of an explicitly registered mock
type MockFactory func() (goja.Value, error)
