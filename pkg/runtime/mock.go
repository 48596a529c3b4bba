package runtime

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"mimic/pkg/mockfn"
)

// nodeModulesSegment marks a path as living inside an installed package
var nodeModulesSegment = string(filepath.Separator) + "node_modules" + string(filepath.Separator)

// shouldMock decides, for one (caller, requested-name) pair, whether the
// mock or the real module answers. The cascade short-circuits on the first
// decisive rule: virtual mock, explicit flag, automock off / core module /
// cached transitive suppression, memoized decision, unmock list, then the
// transitive unmock rule for flat installs.
func (r *Runtime) shouldMock(from, name string) (bool, error) {
	if r.virtualMocks[r.virtualMockPath(from, name)] {
		return true, nil
	}

	moduleID := r.normalizeID(from, name)
	suppressionKey := from + idSep + moduleID

	if v, ok := r.explicitShouldMock[moduleID]; ok {
		return v, nil
	}
	if !r.shouldAutoMock || r.res.IsCoreModule(name) || r.shouldUnmockTransitiveDepsCache[suppressionKey] {
		return false, nil
	}
	if v, ok := r.shouldMockModuleCache[moduleID]; ok {
		return v, nil
	}

	modulePath, err := r.resolveModule(from, name)
	if err != nil {
		// A manual mock can stand in for a module that does not resolve.
		if r.res.GetMockModule(from, name) != "" {
			r.shouldMockModuleCache[moduleID] = true
			return true, nil
		}
		return false, err
	}

	if r.unmockRegexp != nil {
		if matched, _ := r.unmockRegexp.MatchString(modulePath); matched {
			r.shouldMockModuleCache[moduleID] = false
			return false, nil
		}
	}

	// Transitive unmocking across flat installs: when an unmocked package
	// requires another installed package, the dependency stays unmocked so
	// the library's internals aren't re-mocked behind its back.
	currentModuleID := r.normalizeID(from, "")
	transitively, marked := r.transitiveShouldMock[currentModuleID]
	fromMatchesUnmockList := false
	if r.unmockRegexp != nil {
		fromMatchesUnmockList, _ = r.unmockRegexp.MatchString(from)
	}
	explicitValue, explicitSet := r.explicitShouldMock[currentModuleID]
	if (marked && !transitively) ||
		(strings.Contains(from, nodeModulesSegment) && strings.Contains(modulePath, nodeModulesSegment) &&
			(fromMatchesUnmockList || (explicitSet && !explicitValue))) {
		r.transitiveShouldMock[moduleID] = false
		r.shouldUnmockTransitiveDepsCache[suppressionKey] = true
		return false, nil
	}

	r.shouldMockModuleCache[moduleID] = true
	return true, nil
}

// normalizeID is the runtime's canonical identity for a (caller, requested
// name) pair: it fuses where the real module lives and where its manual mock
// lives, so the mock and the original share identity while unrelated modules
// stay distinct. Memoized process-wide per config name.
func (r *Runtime) normalizeID(from, name string) string {
	cacheKey := r.cfg.Name + "\x00" + from + idSep + name
	processCacheMu.Lock()
	if id, ok := normalizedIDCache[cacheKey]; ok {
		processCacheMu.Unlock()
		return id
	}
	processCacheMu.Unlock()

	id := r.computeID(from, name)

	processCacheMu.Lock()
	normalizedIDCache[cacheKey] = id
	processCacheMu.Unlock()
	return id
}

func (r *Runtime) computeID(from, name string) string {
	if name != "" && r.res.IsCoreModule(name) {
		return "node" + idSep + name + idSep
	}

	absolutePath := ""
	if virtualPath := r.virtualMockPath(from, name); r.virtualMocks[virtualPath] {
		absolutePath = virtualPath
	} else if p, err := r.resolveModule(from, name); err == nil {
		absolutePath = p
	}
	mockPath := r.res.GetMockModule(from, name)
	// Absent slots stay empty; the separators keep the three slots readable.
	return "user" + idSep + absolutePath + idSep + mockPath
}

// virtualMockPath is where a virtual module would live if it existed on disk
func (r *Runtime) virtualMockPath(from, name string) string {
	if name == "" {
		return from
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(filepath.Dir(from), name)
}

// generateMock builds an automock for the pair by evaluating the real module
// in a throwaway registry world, introspecting the resulting exports, and
// synthesizing a fresh mock from the metadata. The metadata is cached per
// resolved path; a sentinel entry placed before evaluation makes circular
// references during introspection terminate.
func (r *Runtime) generateMock(from, name string) (goja.Value, error) {
	modulePath, err := r.resolveModule(from, name)
	if err != nil {
		return nil, err
	}

	if _, ok := r.mockMetaDataCache[modulePath]; !ok {
		r.mockMetaDataCache[modulePath] = mockfn.EmptyMetadata()

		// Evaluate in isolation: modules loaded only to be introspected must
		// not land in the main registry, where they would later be returned
		// as "real" without the side effects their siblings expect.
		origModuleRegistry := r.moduleRegistry
		origMockRegistry := r.mockRegistry
		r.moduleRegistry = make(map[string]*ModuleRecord)
		r.mockRegistry = make(map[string]goja.Value)

		exports, err := r.requireModule(from, name, requireOptions{})

		r.moduleRegistry = origModuleRegistry
		r.mockRegistry = origMockRegistry

		if err != nil {
			delete(r.mockMetaDataCache, modulePath)
			return nil, err
		}

		meta := r.mocker.GetMetadata(r.env.VM(), exports)
		if meta == nil {
			delete(r.mockMetaDataCache, modulePath)
			return nil, fmt.Errorf("failed to get mock metadata: %s", modulePath)
		}
		r.mockMetaDataCache[modulePath] = meta
	}

	return r.mocker.GenerateFromMetadata(r.env.VM(), r.mockMetaDataCache[modulePath]), nil
}
