package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
)

// Host built-ins. These cover what test suites actually reach for; hosts
// with richer needs register their own via RegisterCoreModule.

func corePath(vm *goja.Runtime) (goja.Value, error) {
	exports := vm.NewObject()
	exports.Set("sep", string(filepath.Separator))
	exports.Set("delimiter", string(filepath.ListSeparator))
	exports.Set("join", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		return vm.ToValue(filepath.Join(parts...))
	})
	exports.Set("dirname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(filepath.Dir(call.Argument(0).String()))
	})
	exports.Set("basename", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(filepath.Base(call.Argument(0).String()))
	})
	exports.Set("extname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(filepath.Ext(call.Argument(0).String()))
	})
	exports.Set("isAbsolute", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(filepath.IsAbs(call.Argument(0).String()))
	})
	exports.Set("relative", func(call goja.FunctionCall) goja.Value {
		rel, err := filepath.Rel(call.Argument(0).String(), call.Argument(1).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(rel)
	})
	return exports, nil
}

func coreAssert(vm *goja.Runtime) (goja.Value, error) {
	fail := func(msg string, fallback string) {
		if msg == "" || msg == "undefined" {
			msg = fallback
		}
		panic(vm.NewGoError(fmt.Errorf("AssertionError: %s", msg)))
	}
	ok := func(call goja.FunctionCall) goja.Value {
		if !call.Argument(0).ToBoolean() {
			fail(call.Argument(1).String(), "expected value to be truthy")
		}
		return goja.Undefined()
	}
	exports := vm.ToValue(ok).(*goja.Object)
	exports.Set("ok", ok)
	exports.Set("equal", func(call goja.FunctionCall) goja.Value {
		if !call.Argument(0).StrictEquals(call.Argument(1)) {
			fail(call.Argument(2).String(), fmt.Sprintf("%s !== %s", call.Argument(0), call.Argument(1)))
		}
		return goja.Undefined()
	})
	exports.Set("notEqual", func(call goja.FunctionCall) goja.Value {
		if call.Argument(0).StrictEquals(call.Argument(1)) {
			fail(call.Argument(2).String(), fmt.Sprintf("%s === %s", call.Argument(0), call.Argument(1)))
		}
		return goja.Undefined()
	})
	return exports, nil
}

func coreUtil(vm *goja.Runtime) (goja.Value, error) {
	exports := vm.NewObject()
	exports.Set("format", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		out := call.Argument(0).String()
		rest := call.Arguments[1:]
		var b strings.Builder
		argIdx := 0
		for i := 0; i < len(out); i++ {
			if out[i] == '%' && i+1 < len(out) && argIdx < len(rest) {
				switch out[i+1] {
				case 's', 'd', 'j':
					b.WriteString(rest[argIdx].String())
					argIdx++
					i++
					continue
				case '%':
					b.WriteByte('%')
					i++
					continue
				}
			}
			b.WriteByte(out[i])
		}
		for ; argIdx < len(rest); argIdx++ {
			b.WriteByte(' ')
			b.WriteString(rest[argIdx].String())
		}
		return vm.ToValue(b.String())
	})
	exports.Set("inspect", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(call.Argument(0).String())
	})
	return exports, nil
}
