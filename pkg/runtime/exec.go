package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dop251/goja"

	"mimic/pkg/resolver"
	"mimic/pkg/transform"
)

// execModule compiles and runs a module body inside the sandbox. The record
// must already be installed wherever the caller wants it cached; this
// function only executes. After teardown it is a silent no-op so shutdown
// races don't raise.
func (r *Runtime) execModule(record *ModuleRecord, opts requireOptions) error {
	if r.env.Global() == nil {
		return nil
	}

	filename := record.Filename
	lastExecuting := r.currentlyExecutingModulePath
	lastManualMock := r.isCurrentlyExecutingManualMock
	r.currentlyExecutingModulePath = filename
	r.isCurrentlyExecutingManualMock = filename
	defer func() {
		r.currentlyExecutingModulePath = lastExecuting
		r.isCurrentlyExecutingManualMock = lastManualMock
	}()

	vm := r.env.VM()
	dirname := filepath.Dir(filename)
	record.Paths = r.res.GetModulePaths(dirname)
	record.Require = r.createRequireImplementation(filename, opts)

	moduleObj := record.Module()
	moduleObj.Set("require", record.Require)
	moduleObj.Set("paths", record.Paths)

	program, err := r.transformer.Transform(filename, r.cfg, transform.Options{
		IsInternalModule: opts.isInternalModule,
	})
	if err != nil {
		return err
	}

	result, err := r.env.RunScript(program)
	if err != nil {
		return err
	}
	wrapperVal := result.ToObject(vm).Get(transform.EvalResultVariable)
	wrapper, ok := goja.AssertFunction(wrapperVal)
	if !ok {
		return fmt.Errorf("transform of %s did not produce a callable wrapper", filename)
	}

	exports := moduleObj.Get("exports")
	jestObj := r.RuntimeFor(filename).JSObject()
	_, err = wrapper(
		exports, // this
		moduleObj,
		exports,
		record.Require,
		vm.ToValue(dirname),
		vm.ToValue(filename),
		vm.GlobalObject(),
		jestObj,
	)
	return err
}

// loadJSONModule reads and parses a .json module through the sandbox's own
// JSON so the resulting values belong to the test's realm.
func (r *Runtime) loadJSONModule(record *ModuleRecord) error {
	data, err := os.ReadFile(record.Filename)
	if err != nil {
		return fmt.Errorf("failed to read module %s: %w", record.Filename, err)
	}
	vm := r.env.VM()
	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return fmt.Errorf("sandbox JSON.parse is unavailable")
	}
	v, err := parse(jsonObj, vm.ToValue(string(stripBOM(data))))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", record.Filename, err)
	}
	record.setExports(v)
	return nil
}

func (r *Runtime) loadNativeAddon(record *ModuleRecord) error {
	v, err := r.env.LoadNativeAddon(record.Filename)
	if err != nil {
		return err
	}
	record.setExports(v)
	return nil
}

// createRequireImplementation builds the require function handed to one
// module body: a callable closed over the caller's path, dispatching to the
// internal require for internal modules and to the module-or-mock decision
// otherwise, with the standard attributes attached.
func (r *Runtime) createRequireImplementation(from string, opts requireOptions) goja.Value {
	vm := r.env.VM()
	dispatch := r.RequireModuleOrMock
	if opts.isInternalModule {
		dispatch = r.RequireInternalModule
	}

	requireObj := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		v, err := dispatch(from, name)
		if err != nil {
			panic(r.requireError(err))
		}
		return v
	}).(*goja.Object)

	requireObj.Set("cache", vm.NewObject())
	requireObj.Set("extensions", vm.NewObject())
	requireObj.Set("requireActual", func(call goja.FunctionCall) goja.Value {
		v, err := r.RequireModule(from, call.Argument(0).String())
		if err != nil {
			panic(r.requireError(err))
		}
		return v
	})
	requireObj.Set("requireMock", func(call goja.FunctionCall) goja.Value {
		v, err := r.RequireMock(from, call.Argument(0).String())
		if err != nil {
			panic(r.requireError(err))
		}
		return v
	})
	requireObj.Set("resolve", func(call goja.FunctionCall) goja.Value {
		p, err := r.resolveModule(from, call.Argument(0).String())
		if err != nil {
			panic(r.requireError(err))
		}
		return vm.ToValue(p)
	})
	return requireObj
}

// requireError converts a Go-side failure into a sandbox error object,
// carrying the machine-readable code when resolution failed so test code can
// catch and inspect it.
func (r *Runtime) requireError(err error) *goja.Object {
	errObj := r.env.VM().NewGoError(err)
	var notFound *resolver.ModuleNotFoundError
	if errors.As(err, &notFound) {
		errObj.Set("code", notFound.Code())
	}
	return errObj
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func stripBOM(src []byte) []byte {
	if len(src) >= 3 && src[0] == 0xEF && src[1] == 0xBB && src[2] == 0xBF {
		return src[3:]
	}
	return src
}
