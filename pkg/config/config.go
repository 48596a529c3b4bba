package config

import (
	"fmt"

	"github.com/dlclark/regexp2"
)

// MapperPair is a user-written name-mapper rule before compilation. The
// pattern uses JavaScript regex syntax; the replacement may reference capture
// groups ($1, $2, ...).
type MapperPair struct {
	Replacement string
	Pattern     string
}

// MapperEntry is a compiled name-mapper rule. Rules are applied in insertion
// order; the first matching pattern wins.
type MapperEntry struct {
	Replacement string
	Pattern     *regexp2.Regexp
}

// Config carries everything the resolver and the runtime are parameterized
// on. Instances are treated as immutable once handed to a Resolver or
// Runtime; the process-level caches key on Name, so two configs that differ
// must not share a Name.
type Config struct {
	// Identity
	Name    string // cache-key identity for process-level memoization
	RootDir string // project root, used for relative paths in diagnostics

	// Resolution
	Browser           bool          // honor package.json "browser" fields
	DefaultPlatform   string        // preferred haste platform, empty for none
	Extensions        []string      // file suffixes tried in order
	HasCoreModules    bool          // whether host built-ins exist at all
	ModuleDirectories []string      // directory names walked upward (node_modules)
	ModuleNameMapper  []MapperEntry // ordered rewrite table, first match wins
	ModulePaths       []string      // extra search paths appended after NODE_PATH
	Platforms         []string      // supported platforms; "native" toggles native support

	// Mocking
	Automock                   bool
	UnmockedModulePathPatterns []string // joined with | into the unmock regex

	// Execution
	ScriptPreprocessor string         // name only, surfaced in transform diagnostics
	TestEnvData        map[string]any // frozen snapshot handed to test code
}

// Default returns the baseline configuration
func Default() *Config {
	return &Config{
		Name:              "default",
		Extensions:        []string{".js", ".json", ".node"},
		HasCoreModules:    true,
		ModuleDirectories: []string{"node_modules"},
	}
}

// SupportsNative reports whether the "native" platform is enabled
func (c *Config) SupportsNative() bool {
	for _, p := range c.Platforms {
		if p == "native" {
			return true
		}
	}
	return false
}

// CompileMapper compiles user-written mapper rules preserving their order
func CompileMapper(pairs []MapperPair) ([]MapperEntry, error) {
	entries := make([]MapperEntry, 0, len(pairs))
	for _, p := range pairs {
		re, err := regexp2.Compile(p.Pattern, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("invalid moduleNameMapper pattern %q: %w", p.Pattern, err)
		}
		entries = append(entries, MapperEntry{Replacement: p.Replacement, Pattern: re})
	}
	return entries, nil
}
