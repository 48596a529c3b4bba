package runtime

import (
	"path/filepath"
	"testing"

	"github.com/dlclark/regexp2"
	"github.com/dop251/goja"

	"mimic/pkg/config"
	"mimic/pkg/hastemap"
)

func mustShouldMock(t *testing.T, w *testWorld, from, name string) bool {
	t.Helper()
	should, err := w.rt.shouldMock(from, name)
	if err != nil {
		t.Fatalf("shouldMock(%s, %s) failed: %v", from, name, err)
	}
	return should
}

func TestShouldMockDefaultWithAutomock(t *testing.T) {
	w := newTestWorld(t, map[string]string{"dep.js": ``}, func(cfg *config.Config) {
		cfg.Automock = true
	})
	if !mustShouldMock(t, w, w.from, "./dep") {
		t.Error("automock on and no overrides must mock")
	}
	// Memoized decision.
	if !mustShouldMock(t, w, w.from, "./dep") {
		t.Error("cached decision flipped")
	}
}

func TestShouldMockAutomockOff(t *testing.T) {
	w := newTestWorld(t, map[string]string{"dep.js": ``}, nil)
	if mustShouldMock(t, w, w.from, "./dep") {
		t.Error("automock off must not mock")
	}
}

func TestShouldMockCoreModule(t *testing.T) {
	w := newTestWorld(t, nil, func(cfg *config.Config) { cfg.Automock = true })
	if mustShouldMock(t, w, w.from, "fs") {
		t.Error("core modules are never mocked")
	}
}

func TestShouldMockExplicitOverrides(t *testing.T) {
	w := newTestWorld(t, map[string]string{"dep.js": ``}, nil)
	s := w.rt.RuntimeFor(w.from)

	s.Mock("./dep", nil, nil)
	if !mustShouldMock(t, w, w.from, "./dep") {
		t.Error("explicit mock must win with automock off")
	}

	s.Unmock("./dep")
	if mustShouldMock(t, w, w.from, "./dep") {
		t.Error("explicit unmock must win")
	}
}

func TestShouldMockUnmockListSuppresses(t *testing.T) {
	w := newTestWorld(t, map[string]string{"lib/dep.js": ``}, func(cfg *config.Config) {
		cfg.Automock = true
	})
	// Pattern compiled per config identity; rebuild the world with the
	// pattern in place.
	w2 := newTestWorld(t, map[string]string{"lib/dep.js": ``}, func(cfg *config.Config) {
		cfg.Automock = true
		cfg.UnmockedModulePathPatterns = []string{"lib"}
	})
	if !mustShouldMock(t, w, w.from, "./lib/dep") {
		t.Error("control world must mock")
	}
	if mustShouldMock(t, w2, w2.from, "./lib/dep") {
		t.Error("unmock list must suppress mocking")
	}
}

func TestShouldMockTransitiveFlatInstall(t *testing.T) {
	w := newTestWorld(t, map[string]string{
		"p/node_modules/lib/a.js":       ``,
		"p/node_modules/dep/index.js":   ``,
		"p/node_modules/other/index.js": ``,
	}, func(cfg *config.Config) {
		cfg.Automock = true
	})
	// The pattern depends on the generated root, so compile it directly.
	libPrefix := filepath.Join(w.root, "p/node_modules/lib")
	w.rt.unmockRegexp = regexp2.MustCompile(libPrefix, regexp2.None)

	from := filepath.Join(w.root, "p/node_modules/lib/a.js")

	if mustShouldMock(t, w, from, "dep") {
		t.Error("a dependency required from an unmocked installed package stays unmocked")
	}
	depID := w.rt.normalizeID(from, "dep")
	if v, ok := w.rt.transitiveShouldMock[depID]; !ok || v {
		t.Error("transitive suppression not recorded for the dependency")
	}
	if !w.rt.shouldUnmockTransitiveDepsCache[from+idSep+depID] {
		t.Error("suppression cache not primed")
	}
	// Same pair again: answered from the suppression cache.
	if mustShouldMock(t, w, from, "dep") {
		t.Error("cached suppression flipped")
	}
	// Another installed package required from the same file.
	if mustShouldMock(t, w, from, "other") {
		t.Error("flat-install suppression must cover sibling packages too")
	}
}

func TestShouldMockDeepUnmockPropagates(t *testing.T) {
	w := newTestWorld(t, map[string]string{
		"lib.js": ``,
		"dep.js": ``,
	}, func(cfg *config.Config) { cfg.Automock = true })

	w.rt.RuntimeFor(w.from).DeepUnmock("./lib")

	libPath := filepath.Join(w.root, "lib.js")
	if mustShouldMock(t, w, w.from, "./lib") {
		t.Error("deep-unmocked module itself must not be mocked")
	}
	if mustShouldMock(t, w, libPath, "./dep") {
		t.Error("dependencies required from a deep-unmocked module stay unmocked")
	}
}

func TestShouldMockVirtual(t *testing.T) {
	w := newTestWorld(t, nil, nil)
	vm := w.env.VM()
	w.rt.RuntimeFor(w.from).Mock("ghost", func() (goja.Value, error) {
		return vm.ToValue("ghost-exports"), nil
	}, &MockOptions{Virtual: true})

	if !mustShouldMock(t, w, w.from, "ghost") {
		t.Error("virtual mocks always mock")
	}
	v, err := w.rt.RequireModuleOrMock(w.from, "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "ghost-exports" {
		t.Errorf("virtual factory not used: %v", v)
	}
}

func TestShouldMockResolutionFailureWithManualMock(t *testing.T) {
	haste := hastemap.New()
	w := newTestWorldWithHaste(t, map[string]string{
		"mocks/phantom.js": `exports.mocked = true;`,
	}, func(cfg *config.Config) { cfg.Automock = true }, haste)
	haste.AddMock("phantom", filepath.Join(w.root, "mocks/phantom.js"))

	// "phantom" does not resolve, but a manual mock exists: mock it.
	if !mustShouldMock(t, w, w.from, "phantom") {
		t.Error("manual mock must cover an unresolvable module")
	}

	// Without a manual mock the resolution failure propagates.
	if _, err := w.rt.shouldMock(w.from, "missing-and-unmocked"); err == nil {
		t.Error("expected the resolution failure to surface")
	}
}
