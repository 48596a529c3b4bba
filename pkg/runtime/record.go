package runtime

import (
	"github.com/dop251/goja"
)

// ModuleRecord tracks one evaluated module. The sandbox-side module object is
// created and registered before the body runs, so a circular require observes
// the partially populated exports instead of recursing forever.
type ModuleRecord struct {
	Filename string
	Parent   *ModuleRecord
	Children []*ModuleRecord
	Paths    []string
	Require  goja.Value

	module *goja.Object // live sandbox module object
}

func newModuleRecord(vm *goja.Runtime, filename string) *ModuleRecord {
	m := vm.NewObject()
	m.Set("id", filename)
	m.Set("filename", filename)
	m.Set("exports", vm.NewObject())
	m.Set("parent", goja.Null())
	m.Set("children", vm.NewArray())
	return &ModuleRecord{Filename: filename, module: m}
}

// Exports reads module.exports live; wrapper bodies may reassign it
func (rec *ModuleRecord) Exports() goja.Value {
	return rec.module.Get("exports")
}

// Module exposes the sandbox-side module object
func (rec *ModuleRecord) Module() *goja.Object {
	return rec.module
}

func (rec *ModuleRecord) setExports(v goja.Value) {
	rec.module.Set("exports", v)
}
