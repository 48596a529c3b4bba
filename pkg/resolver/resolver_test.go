package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mimic/pkg/config"
	"mimic/pkg/hastemap"
)

// writeTree materializes a file tree under a fresh temp dir
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newResolver(haste *hastemap.Map, mutate func(*config.Config)) *Resolver {
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	if haste == nil {
		haste = hastemap.New()
	}
	return New(haste, cfg)
}

func TestResolveRelative(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/a.js": "",
		"src/b.js": "",
	})
	r := newResolver(nil, nil)

	p, err := r.ResolveModule(filepath.Join(root, "src/a.js"), "./b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != filepath.Join(root, "src/b.js") {
		t.Errorf("expected src/b.js, got %s", p)
	}
}

func TestResolveExtensionOrder(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.js":   "",
		"m.json": "",
		"m.js":   "",
	})
	r := newResolver(nil, nil)

	p, err := r.ResolveModule(filepath.Join(root, "a.js"), "./m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != filepath.Join(root, "m.js") {
		t.Errorf("expected .js to win over .json, got %s", p)
	}
}

func TestResolveNodeModules(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/a.js":                  "",
		"node_modules/foo/index.js": "",
	})
	r := newResolver(nil, nil)

	p, err := r.ResolveModule(filepath.Join(root, "src/a.js"), "foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != filepath.Join(root, "node_modules/foo/index.js") {
		t.Errorf("unexpected resolution: %s", p)
	}
}

func TestResolvePackageMain(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/a.js":                         "",
		"node_modules/foo/package.json":    `{"main": "lib/entry.js"}`,
		"node_modules/foo/lib/entry.js":    "",
		"node_modules/foo/index.js":        "",
	})
	r := newResolver(nil, nil)

	p, err := r.ResolveModule(filepath.Join(root, "src/a.js"), "foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != filepath.Join(root, "node_modules/foo/lib/entry.js") {
		t.Errorf("expected package main to win, got %s", p)
	}
}

func TestBrowserFieldReplacesMain(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/a.js":                      "",
		"node_modules/foo/package.json": `{"main": "server.js", "browser": "client.js"}`,
		"node_modules/foo/server.js":    "",
		"node_modules/foo/client.js":    "",
	})

	node := newResolver(nil, nil)
	p, err := node.ResolveModule(filepath.Join(root, "src/a.js"), "foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != filepath.Join(root, "node_modules/foo/server.js") {
		t.Errorf("expected server.js without browser flag, got %s", p)
	}

	browser := newResolver(nil, func(cfg *config.Config) { cfg.Browser = true })
	p, err = browser.ResolveModule(filepath.Join(root, "src/a.js"), "foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != filepath.Join(root, "node_modules/foo/client.js") {
		t.Errorf("expected client.js with browser flag, got %s", p)
	}
}

func TestBrowserFieldObjectRedirectsMain(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/a.js":                      "",
		"node_modules/foo/package.json": `{"main": "server.js", "browser": {"./server.js": "./client.js"}}`,
		"node_modules/foo/server.js":    "",
		"node_modules/foo/client.js":    "",
	})
	r := newResolver(nil, func(cfg *config.Config) { cfg.Browser = true })

	p, err := r.ResolveModule(filepath.Join(root, "src/a.js"), "foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != filepath.Join(root, "node_modules/foo/client.js") {
		t.Errorf("expected redirect to client.js, got %s", p)
	}
}

func TestHasteWinsOverNodeResolution(t *testing.T) {
	root := writeTree(t, map[string]string{
		"proj/a.js":                      "",
		"proj/node_modules/foo/index.js": "",
		"h/foo.js":                       "",
	})
	hastePath := filepath.Join(root, "h/foo.js")
	haste := hastemap.New()
	haste.AddModule("foo", hastemap.GenericPlatform, hastemap.Entry{Type: hastemap.Module, Path: hastePath})
	r := newResolver(haste, nil)

	p, err := r.ResolveModule(filepath.Join(root, "proj/a.js"), "foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != hastePath {
		t.Errorf("expected haste entry %s, got %s", hastePath, p)
	}
}

func TestHastePlatformPreference(t *testing.T) {
	haste := hastemap.New()
	haste.AddModule("foo", hastemap.GenericPlatform, hastemap.Entry{Type: hastemap.Module, Path: "/h/foo.js"})
	haste.AddModule("foo", hastemap.NativePlatform, hastemap.Entry{Type: hastemap.Module, Path: "/h/foo.native.js"})
	haste.AddModule("foo", "ios", hastemap.Entry{Type: hastemap.Module, Path: "/h/foo.ios.js"})

	generic := newResolver(haste, nil)
	if p := generic.GetModule("foo"); p != "/h/foo.js" {
		t.Errorf("expected generic entry, got %s", p)
	}

	native := newResolver(haste, func(cfg *config.Config) { cfg.Platforms = []string{"native"} })
	if p := native.GetModule("foo"); p != "/h/foo.native.js" {
		t.Errorf("expected native entry, got %s", p)
	}

	ios := newResolver(haste, func(cfg *config.Config) {
		cfg.DefaultPlatform = "ios"
		cfg.Platforms = []string{"ios", "native"}
	})
	if p := ios.GetModule("foo"); p != "/h/foo.ios.js" {
		t.Errorf("expected default platform to win, got %s", p)
	}
}

func TestHastePackageSubpath(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.js":              "",
		"pkg1/package.json": "{}",
		"pkg1/sub.js":       "",
	})
	haste := hastemap.New()
	haste.AddModule("pkg1", hastemap.GenericPlatform, hastemap.Entry{
		Type: hastemap.Package,
		Path: filepath.Join(root, "pkg1/package.json"),
	})
	r := newResolver(haste, nil)

	p, err := r.ResolveModule(filepath.Join(root, "a.js"), "pkg1/sub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != filepath.Join(root, "pkg1/sub.js") {
		t.Errorf("expected pkg1/sub.js, got %s", p)
	}
}

func TestModuleNotFound(t *testing.T) {
	root := writeTree(t, map[string]string{"src/x.js": ""})
	r := newResolver(nil, nil)

	_, err := r.ResolveModule(filepath.Join(root, "src/x.js"), "nope")
	if err == nil {
		t.Fatal("expected resolution failure")
	}
	var notFound *ModuleNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ModuleNotFoundError, got %T", err)
	}
	if notFound.Code() != CodeModuleNotFound {
		t.Errorf("unexpected code: %s", notFound.Code())
	}
	if err.Error() != "Cannot find module 'nope' from 'x.js'" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestPositiveResultsAreCached(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.js": "",
		"b.js": "",
	})
	r := newResolver(nil, nil)
	from := filepath.Join(root, "a.js")

	p1, err := r.ResolveModule(from, "./b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The second call must not touch the filesystem.
	if err := os.Remove(filepath.Join(root, "b.js")); err != nil {
		t.Fatal(err)
	}
	p2, err := r.ResolveModule(from, "./b")
	if err != nil {
		t.Fatalf("expected cached resolution, got error: %v", err)
	}
	if p1 != p2 {
		t.Errorf("cache returned a different path: %s vs %s", p1, p2)
	}
}

func TestNegativeResultsAreNotCached(t *testing.T) {
	root := writeTree(t, map[string]string{"a.js": ""})
	r := newResolver(nil, nil)
	from := filepath.Join(root, "a.js")

	if _, err := r.ResolveModule(from, "./later"); err == nil {
		t.Fatal("expected failure before the file exists")
	}
	if err := os.WriteFile(filepath.Join(root, "later.js"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := r.ResolveModule(from, "./later")
	if err != nil {
		t.Fatalf("expected success after the file appeared: %v", err)
	}
	if p != filepath.Join(root, "later.js") {
		t.Errorf("unexpected path: %s", p)
	}
}

func TestSkipNodeResolution(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.js":                      "",
		"node_modules/foo/index.js": "",
	})
	r := newResolver(nil, nil)
	from := filepath.Join(root, "a.js")

	if _, err := r.ResolveModule(from, "foo", SkipNodeResolution()); err == nil {
		t.Error("expected failure with node resolution skipped")
	}
	if _, err := r.ResolveModule(from, "foo"); err != nil {
		t.Errorf("expected success without the option: %v", err)
	}
}

func TestGetMockModule(t *testing.T) {
	root := writeTree(t, map[string]string{"proj/a.js": ""})
	from := filepath.Join(root, "proj/a.js")

	haste := hastemap.New()
	haste.AddMock("thing", "/mocks/thing.js")
	haste.AddModule("stub/x", hastemap.GenericPlatform, hastemap.Entry{Type: hastemap.Module, Path: "/h/stub-x.js"})

	mapper, err := config.CompileMapper([]config.MapperPair{
		{Replacement: "stub/$1", Pattern: `^real/(.*)$`},
	})
	if err != nil {
		t.Fatal(err)
	}
	r := newResolver(haste, func(cfg *config.Config) { cfg.ModuleNameMapper = mapper })

	if p := r.GetMockModule(from, "thing"); p != "/mocks/thing.js" {
		t.Errorf("expected haste mock table hit, got %q", p)
	}
	if p := r.GetMockModule(from, "real/x"); p != "/h/stub-x.js" {
		t.Errorf("expected mapper rewrite to resolve via haste, got %q", p)
	}
	if p := r.GetMockModule(from, "unrelated"); p != "" {
		t.Errorf("expected no mock, got %q", p)
	}
}

func TestGetModulePaths(t *testing.T) {
	root := writeTree(t, map[string]string{"p/src/a.js": ""})
	r := newResolver(nil, nil)
	dir := filepath.Join(root, "p/src")

	paths := r.GetModulePaths(dir)
	if len(paths) == 0 {
		t.Fatal("expected at least one path")
	}
	for _, p := range paths {
		if p == "" {
			t.Error("module paths must not contain empty entries")
		}
	}
	if paths[0] != filepath.Join(dir, "node_modules") {
		t.Errorf("expected nearest node_modules first, got %s", paths[0])
	}

	// Memoized per directory.
	again := r.GetModulePaths(dir)
	if len(again) != len(paths) {
		t.Errorf("memoized walk differs: %v vs %v", again, paths)
	}
}

func TestGetModulePathsSkipsModuleDirectories(t *testing.T) {
	root := writeTree(t, map[string]string{"p/node_modules/lib/a.js": ""})
	r := newResolver(nil, nil)
	dir := filepath.Join(root, "p/node_modules/lib")

	unwanted := filepath.Join(root, "p/node_modules/node_modules")
	for _, p := range r.GetModulePaths(dir) {
		if p == unwanted {
			t.Errorf("walk must not descend into %s", unwanted)
		}
	}
}

func TestNodePathSearchPaths(t *testing.T) {
	root := writeTree(t, map[string]string{
		"proj/a.js":        "",
		"global/lib.js":    "",
	})
	t.Setenv("NODE_PATH", filepath.Join(root, "global"))
	r := newResolver(nil, nil)

	p, err := r.ResolveModule(filepath.Join(root, "proj/a.js"), "lib")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != filepath.Join(root, "global/lib.js") {
		t.Errorf("expected NODE_PATH hit, got %s", p)
	}
}

func TestModulePathsSearch(t *testing.T) {
	root := writeTree(t, map[string]string{
		"proj/a.js":     "",
		"extra/util.js": "",
	})
	r := newResolver(nil, func(cfg *config.Config) {
		cfg.ModulePaths = []string{filepath.Join(root, "extra")}
	})

	p, err := r.ResolveModule(filepath.Join(root, "proj/a.js"), "util")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != filepath.Join(root, "extra/util.js") {
		t.Errorf("expected modulePaths hit, got %s", p)
	}
}

func TestIsCoreModule(t *testing.T) {
	tests := []struct {
		name     string
		expected bool
	}{
		{"fs", true},
		{"path", true},
		{"node:fs", true},
		{"fs/promises", true},
		{"express", false},
		{"", false},
	}
	r := newResolver(nil, nil)
	for _, test := range tests {
		if got := r.IsCoreModule(test.name); got != test.expected {
			t.Errorf("IsCoreModule(%q) = %v, expected %v", test.name, got, test.expected)
		}
	}

	disabled := newResolver(nil, func(cfg *config.Config) { cfg.HasCoreModules = false })
	if disabled.IsCoreModule("fs") {
		t.Error("expected false with core modules disabled")
	}
}
