package runtime

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"
	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"mimic/pkg/config"
	"mimic/pkg/mockfn"
	"mimic/pkg/resolver"
	"mimic/pkg/transform"
)

// idSep separates the slots of a normalized module id
var idSep = string(filepath.ListSeparator)

// Process-level memoization. Both caches are pure functions of their keys:
// normalized ids depend only on (config name, from, requested name), the
// unmock regex only on the config identity. Nothing instance-specific may
// land here.
var (
	processCacheMu    sync.Mutex
	normalizedIDCache = make(map[string]string)
	unmockRegexpCache = make(map[*config.Config]*regexp2.Regexp)
)

// Runtime owns module and mock instances for one test: every registry, the
// mock-decision policy, and the construction of each module's require
// function and control surface. Instances are single-threaded; separate
// tests get separate runtimes.
type Runtime struct {
	cfg         *config.Config
	env         Environment
	res         *resolver.Resolver
	transformer transform.Transformer
	mocker      MockManufacturer
	log         zerolog.Logger

	moduleRegistry map[string]*ModuleRecord
	mockRegistry   map[string]goja.Value

	mockFactories        map[string]MockFactory
	explicitShouldMock   map[string]bool
	transitiveShouldMock map[string]bool
	virtualMocks         map[string]bool

	shouldMockModuleCache           map[string]bool
	shouldUnmockTransitiveDepsCache map[string]bool
	mockMetaDataCache               map[string]*mockfn.Metadata

	shouldAutoMock bool
	unmockRegexp   *regexp2.Regexp

	currentlyExecutingModulePath   string
	isCurrentlyExecutingManualMock string
}

// Option configures a Runtime
type Option func(*Runtime)

// WithLogger installs a logger; the default discards everything
func WithLogger(log zerolog.Logger) Option {
	return func(r *Runtime) { r.log = log }
}

// WithMocker swaps the mock metadata tooling
func WithMocker(m MockManufacturer) Option {
	return func(r *Runtime) { r.mocker = m }
}

// New creates a runtime over its collaborators. The unmock regex is compiled
// once per config identity and shared process-wide.
func New(cfg *config.Config, env Environment, res *resolver.Resolver, transformer transform.Transformer, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:         cfg,
		env:         env,
		res:         res,
		transformer: transformer,
		mocker:      mockfn.Mocker{},
		log:         zerolog.Nop(),

		moduleRegistry: make(map[string]*ModuleRecord),
		mockRegistry:   make(map[string]goja.Value),

		mockFactories:        make(map[string]MockFactory),
		explicitShouldMock:   make(map[string]bool),
		transitiveShouldMock: make(map[string]bool),
		virtualMocks:         make(map[string]bool),

		shouldMockModuleCache:           make(map[string]bool),
		shouldUnmockTransitiveDepsCache: make(map[string]bool),
		mockMetaDataCache:               make(map[string]*mockfn.Metadata),

		shouldAutoMock: cfg.Automock,
	}
	r.unmockRegexp = unmockRegexpFor(cfg)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func unmockRegexpFor(cfg *config.Config) *regexp2.Regexp {
	processCacheMu.Lock()
	defer processCacheMu.Unlock()
	if re, ok := unmockRegexpCache[cfg]; ok {
		return re
	}
	var re *regexp2.Regexp
	if len(cfg.UnmockedModulePathPatterns) > 0 {
		compiled, err := regexp2.Compile(strings.Join(cfg.UnmockedModulePathPatterns, "|"), regexp2.None)
		if err == nil {
			re = compiled
		}
	}
	unmockRegexpCache[cfg] = re
	return re
}

type requireOptions struct {
	isInternalModule bool
}

// RequireModule resolves, executes if needed, and returns the real module's
// exports. An empty name requires `from` itself. A caller-visible manual
// mock substitutes for the real file when no haste module answers to the
// name, the mock is not itself executing, and the caller has not explicitly
// opted out of mocking it.
func (r *Runtime) RequireModule(from, name string) (goja.Value, error) {
	return r.requireModule(from, name, requireOptions{})
}

// RequireInternalModule loads framework plumbing: manual-mock substitution
// is bypassed and the transformer skips the user's preprocessor.
func (r *Runtime) RequireInternalModule(from, name string) (goja.Value, error) {
	return r.requireModule(from, name, requireOptions{isInternalModule: true})
}

func (r *Runtime) requireModule(from, name string, opts requireOptions) (goja.Value, error) {
	var modulePath string

	if name != "" && !opts.isInternalModule {
		moduleResource := r.res.GetModule(name)
		manualMock := r.res.GetMockModule(from, name)
		if moduleResource == "" && manualMock != "" &&
			manualMock != r.isCurrentlyExecutingManualMock &&
			!r.explicitlyUnmocked(from, name) {
			modulePath = manualMock
		}
	}

	if name != "" && r.res.IsCoreModule(name) {
		return r.env.RequireCore(name)
	}

	if modulePath == "" {
		p, err := r.resolveModule(from, name)
		if err != nil {
			return nil, err
		}
		modulePath = p
	}

	record, ok := r.moduleRegistry[modulePath]
	if !ok {
		record = newModuleRecord(r.env.VM(), modulePath)
		r.moduleRegistry[modulePath] = record
		r.log.Debug().Str("module", modulePath).Msg("loading module")

		var err error
		switch filepath.Ext(modulePath) {
		case ".json":
			err = r.loadJSONModule(record)
		case ".node":
			err = r.loadNativeAddon(record)
		default:
			err = r.execModule(record, opts)
		}
		if err != nil {
			return nil, err
		}
	}
	return record.Exports(), nil
}

// explicitlyUnmocked reports whether the caller has set "don't mock" for the
// (from, name) pair.
func (r *Runtime) explicitlyUnmocked(from, name string) bool {
	v, ok := r.explicitShouldMock[r.normalizeID(from, name)]
	return ok && !v
}

// RequireMock returns the mock for a (from, name) pair, building it on first
// use: registered factory, then manual mock (haste table, name mapper, or a
// __mocks__ sibling of the real file), then a generated automock.
func (r *Runtime) RequireMock(from, name string) (goja.Value, error) {
	moduleID := r.normalizeID(from, name)
	if v, ok := r.mockRegistry[moduleID]; ok {
		return v, nil
	}

	if factory, ok := r.mockFactories[moduleID]; ok {
		v, err := factory()
		if err != nil {
			return nil, err
		}
		r.mockRegistry[moduleID] = v
		return v, nil
	}

	modulePath := r.res.GetMockModule(from, name)
	isManualMock := modulePath != ""
	if !isManualMock {
		p, err := r.resolveModule(from, name)
		if err != nil {
			return nil, err
		}
		modulePath = p
		// A __mocks__ directory next to the real file also counts as manual.
		sibling := filepath.Join(filepath.Dir(p), "__mocks__", filepath.Base(p))
		if fileExists(sibling) {
			isManualMock = true
			modulePath = sibling
		}
	}

	if isManualMock {
		record := newModuleRecord(r.env.VM(), modulePath)
		if err := r.execModule(record, requireOptions{}); err != nil {
			return nil, err
		}
		r.mockRegistry[moduleID] = record.Exports()
	} else {
		mock, err := r.generateMock(from, name)
		if err != nil {
			return nil, err
		}
		r.mockRegistry[moduleID] = mock
	}
	return r.mockRegistry[moduleID], nil
}

// RequireModuleOrMock dispatches on the mock decision for the pair
func (r *Runtime) RequireModuleOrMock(from, name string) (goja.Value, error) {
	should, err := r.shouldMock(from, name)
	if err != nil {
		return nil, err
	}
	if should {
		return r.RequireMock(from, name)
	}
	return r.RequireModule(from, name)
}

// ResetModuleRegistry drops every evaluated module and mock, clears every
// mock function reachable from the sandbox global, and resets the timer
// mocks. Factories, explicit flags, virtual mocks, and the unmock regex
// survive.
func (r *Runtime) ResetModuleRegistry() {
	r.mockRegistry = make(map[string]goja.Value)
	r.moduleRegistry = make(map[string]*ModuleRecord)

	global := r.env.Global()
	if global == nil {
		return
	}
	for _, key := range global.Keys() {
		v := global.Get(key)
		if !r.mocker.IsMockFunction(v) {
			continue
		}
		obj := v.(*goja.Object)
		if clear, ok := goja.AssertFunction(obj.Get("mockClear")); ok {
			clear(obj)
		}
	}
	r.env.MockClearTimers()
}

// SetMock registers a factory for the pair and forces the mock decision on
func (r *Runtime) SetMock(from, name string, factory MockFactory) {
	moduleID := r.normalizeID(from, name)
	r.explicitShouldMock[moduleID] = true
	r.mockFactories[moduleID] = factory
}

// resolveModule maps a requested name to an absolute path; an empty name
// refers to `from` itself.
func (r *Runtime) resolveModule(from, name string) (string, error) {
	if name == "" {
		return from, nil
	}
	return r.res.ResolveModule(from, name)
}
