package resolver

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"mimic/pkg/config"
	"mimic/pkg/hastemap"
)

// Resolver answers "where does this name live" for one runtime instance. It
// layers three naming regimes: the haste index, standard node resolution, and
// the user's name-mapper rewrite table. It owns two memoization tables and is
// otherwise stateless; the haste index is shared read-only.
type Resolver struct {
	haste *hastemap.Map
	cfg   *config.Config
	log   zerolog.Logger

	moduleNameCache  map[string]string   // dirname(from) + sep + name -> path
	modulePathsCache map[string][]string // dir -> upward node_modules walk

	searchPaths []string // NODE_PATH entries, then configured modulePaths
}

// Option configures a Resolver
type Option func(*Resolver)

// WithLogger installs a logger; the default discards everything
func WithLogger(log zerolog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// New creates a resolver over a haste index and a configuration. NODE_PATH is
// read once, here.
func New(haste *hastemap.Map, cfg *config.Config, opts ...Option) *Resolver {
	r := &Resolver{
		haste:            haste,
		cfg:              cfg,
		log:              zerolog.Nop(),
		moduleNameCache:  make(map[string]string),
		modulePathsCache: make(map[string][]string),
	}
	for _, entry := range strings.Split(os.Getenv("NODE_PATH"), string(filepath.ListSeparator)) {
		if entry != "" {
			r.searchPaths = append(r.searchPaths, entry)
		}
	}
	r.searchPaths = append(r.searchPaths, cfg.ModulePaths...)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type resolveOptions struct {
	skipNodeResolution bool
}

// ResolveOption adjusts one ResolveModule call
type ResolveOption func(*resolveOptions)

// SkipNodeResolution restricts the lookup to the haste layers
func SkipNodeResolution() ResolveOption {
	return func(o *resolveOptions) { o.skipNodeResolution = true }
}

// ResolveModule returns the absolute path selected by the first successful
// layer: haste module, node resolution, haste package. It never returns an
// empty path without an error. Positive results are cached; negative results
// are not, since a later filesystem change could make them succeed.
func (r *Resolver) ResolveModule(from, name string, opts ...ResolveOption) (string, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	dirname := filepath.Dir(from)
	key := dirname + string(filepath.ListSeparator) + name
	if p, ok := r.moduleNameCache[key]; ok {
		return p, nil
	}

	if p := r.GetModule(name); p != "" {
		r.moduleNameCache[key] = p
		return p, nil
	}

	if !o.skipNodeResolution {
		if p, ok := r.nodeResolve(name, dirname); ok {
			r.moduleNameCache[key] = p
			return p, nil
		}
	}

	// A haste package covers every subpath under its root.
	segments := strings.Split(name, "/")
	if pkg := r.GetPackage(segments[0]); pkg != "" {
		candidate := filepath.Join(append([]string{filepath.Dir(pkg)}, segments[1:]...)...)
		if p, ok := r.loadAsFileOrDirectory(candidate); ok {
			r.moduleNameCache[key] = p
			return p, nil
		}
	}

	rel, err := filepath.Rel(dirname, from)
	if err != nil || rel == "" {
		rel = "."
	}
	r.log.Debug().Str("module", name).Str("from", from).Msg("resolution failed")
	return "", &ModuleNotFoundError{ModuleName: name, Caller: rel}
}

// IsCoreModule reports whether name is a host-provided built-in
func (r *Resolver) IsCoreModule(name string) bool {
	return r.cfg.HasCoreModules && isCoreModuleName(name)
}

// GetModule returns the haste MODULE path for name, or empty
func (r *Resolver) GetModule(name string) string {
	return r.getHastePath(name, hastemap.Module)
}

// GetPackage returns the haste PACKAGE path for name, or empty
func (r *Resolver) GetPackage(name string) string {
	return r.getHastePath(name, hastemap.Package)
}

// getHastePath applies the platform preference order: the configured default
// platform, then native when supported, then generic. The entry type must
// match.
func (r *Resolver) getHastePath(name string, typ hastemap.EntryType) string {
	if r.cfg.DefaultPlatform != "" {
		if e, ok := r.haste.Lookup(name, r.cfg.DefaultPlatform); ok && e.Type == typ {
			return e.Path
		}
	}
	if r.cfg.SupportsNative() {
		if e, ok := r.haste.Lookup(name, hastemap.NativePlatform); ok && e.Type == typ {
			return e.Path
		}
	}
	if e, ok := r.haste.Lookup(name, hastemap.GenericPlatform); ok && e.Type == typ {
		return e.Path
	}
	return ""
}

// GetMockModule locates a manual mock for name: the haste mock table first,
// then the name-mapper rules in insertion order, resolving each rewritten
// name through haste and node resolution.
func (r *Resolver) GetMockModule(from, name string) string {
	if p, ok := r.haste.Mock(name); ok {
		return p
	}
	for _, rule := range r.cfg.ModuleNameMapper {
		matched, err := rule.Pattern.MatchString(name)
		if err != nil || !matched {
			continue
		}
		mapped, err := rule.Pattern.Replace(name, rule.Replacement, -1, -1)
		if err != nil {
			continue
		}
		if p := r.GetModule(mapped); p != "" {
			return p
		}
		if p, ok := r.nodeResolve(mapped, filepath.Dir(from)); ok {
			return p
		}
	}
	return ""
}

// GetModulePaths returns the upward node_modules walk for a directory,
// memoized per directory. The result never carries an empty tail entry.
func (r *Resolver) GetModulePaths(from string) []string {
	if p, ok := r.modulePathsCache[from]; ok {
		return p
	}
	paths := r.nodeModulesDirs(from)
	for len(paths) > 0 && paths[len(paths)-1] == "" {
		paths = paths[:len(paths)-1]
	}
	r.modulePathsCache[from] = paths
	return paths
}
