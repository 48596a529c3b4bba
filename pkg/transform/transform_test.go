package transform

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dop251/goja"

	"mimic/pkg/config"
)

func writeModule(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// execWrapper runs a compiled wrapper against a fresh module object and
// returns module.exports.
func execWrapper(t *testing.T, prog *goja.Program) goja.Value {
	t.Helper()
	vm := goja.New()
	result, err := vm.RunProgram(prog)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	wrapper, ok := goja.AssertFunction(result.ToObject(vm).Get(EvalResultVariable))
	if !ok {
		t.Fatalf("expected a callable under %q", EvalResultVariable)
	}

	moduleObj := vm.NewObject()
	exports := vm.NewObject()
	moduleObj.Set("exports", exports)
	if _, err := wrapper(exports, moduleObj, exports, goja.Undefined(),
		vm.ToValue("/dir"), vm.ToValue("/dir/file.js"), vm.GlobalObject(), goja.Undefined()); err != nil {
		t.Fatalf("wrapper call failed: %v", err)
	}
	return moduleObj.Get("exports")
}

func TestTransformProducesCallableWrapper(t *testing.T) {
	path := writeModule(t, "m.js", "module.exports = 42;")
	tr := NewFileTransformer(nil)

	prog, err := tr.Transform(path, config.Default(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := execWrapper(t, prog).ToInteger(); got != 42 {
		t.Errorf("expected module.exports = 42, got %d", got)
	}
}

func TestWrapperABINames(t *testing.T) {
	path := writeModule(t, "m.js", `
		exports.dir = __dirname;
		exports.file = __filename;
		exports.hasGlobal = typeof global === 'object';
	`)
	tr := NewFileTransformer(nil)

	prog, err := tr.Transform(path, config.Default(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	exports, ok := execWrapper(t, prog).(*goja.Object)
	if !ok {
		t.Fatal("expected exports to be an object")
	}
	if exports.Get("dir").String() != "/dir" {
		t.Errorf("__dirname not threaded: %s", exports.Get("dir"))
	}
	if exports.Get("file").String() != "/dir/file.js" {
		t.Errorf("__filename not threaded: %s", exports.Get("file"))
	}
	if !exports.Get("hasGlobal").ToBoolean() {
		t.Error("global not threaded")
	}
}

func TestTransformCachesPrograms(t *testing.T) {
	path := writeModule(t, "m.js", "module.exports = 1;")
	tr := NewFileTransformer(nil)
	cfg := config.Default()

	first, err := tr.Transform(path, cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := tr.Transform(path, cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected the memoized program on the second call")
	}
}

func TestSyntaxErrorRewrapped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.js")
	if err := os.WriteFile(path, []byte("function ("), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.RootDir = dir
	cfg.ScriptPreprocessor = "my-preprocessor"
	tr := NewFileTransformer(nil)

	_, err := tr.Transform(path, cfg, Options{})
	if err == nil {
		t.Fatal("expected a transform error")
	}
	var transformErr *TransformError
	if !errors.As(err, &transformErr) {
		t.Fatalf("expected TransformError, got %T", err)
	}
	if transformErr.Filename != "broken.js" {
		t.Errorf("expected root-relative filename, got %s", transformErr.Filename)
	}
	if !strings.Contains(err.Error(), "broken.js") || !strings.Contains(err.Error(), "my-preprocessor") {
		t.Errorf("diagnostic misses context: %s", err.Error())
	}
}

type replacingPreprocessor struct {
	old, new string
}

func (p *replacingPreprocessor) Process(src []byte, filename string) ([]byte, error) {
	return bytes.ReplaceAll(src, []byte(p.old), []byte(p.new)), nil
}

func TestPreprocessorApplied(t *testing.T) {
	path := writeModule(t, "m.js", "module.exports = __ANSWER__;")
	tr := NewFileTransformer(&replacingPreprocessor{old: "__ANSWER__", new: "7"})

	prog, err := tr.Transform(path, config.Default(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := execWrapper(t, prog).ToInteger(); got != 7 {
		t.Errorf("preprocessor not applied, exports = %d", got)
	}
}

func TestInternalModulesBypassPreprocessor(t *testing.T) {
	path := writeModule(t, "m.js", "module.exports = 'untouched';")
	// A preprocessor that would corrupt the source proves the bypass.
	tr := NewFileTransformer(&replacingPreprocessor{old: "untouched", new: "((("})

	prog, err := tr.Transform(path, config.Default(), Options{IsInternalModule: true})
	if err != nil {
		t.Fatalf("internal transform must skip the preprocessor: %v", err)
	}
	if got := execWrapper(t, prog).String(); got != "untouched" {
		t.Errorf("expected untouched source, got %s", got)
	}
}

func TestMissingFile(t *testing.T) {
	tr := NewFileTransformer(nil)
	if _, err := tr.Transform(filepath.Join(t.TempDir(), "absent.js"), config.Default(), Options{}); err == nil {
		t.Error("expected error for a missing file")
	}
}
