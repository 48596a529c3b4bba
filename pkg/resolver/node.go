package resolver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// packageManifest is the subset of package.json that resolution consults.
// The browser field is either a string (replacement main) or an object
// (path -> redirect map); it is only honored when the browser flag is set.
type packageManifest struct {
	Main    string          `json:"main"`
	Browser json.RawMessage `json:"browser"`
}

// nodeResolve runs the standard node algorithm rooted at basedir: relative
// and absolute specifiers resolve as files or directories, bare specifiers
// walk the configured module directories upward and then the search paths.
func (r *Resolver) nodeResolve(name, basedir string) (string, bool) {
	if name == "." || name == ".." ||
		strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") {
		return r.loadAsFileOrDirectory(filepath.Join(basedir, name))
	}
	if filepath.IsAbs(name) {
		return r.loadAsFileOrDirectory(filepath.Clean(name))
	}
	for _, dir := range r.nodeModulesDirs(basedir) {
		if p, ok := r.loadAsFileOrDirectory(filepath.Join(dir, name)); ok {
			return p, true
		}
	}
	return "", false
}

// nodeModulesDirs enumerates the lookup roots for a bare specifier: each
// configured module directory under every ancestor of basedir, followed by
// the search paths (NODE_PATH then modulePaths).
func (r *Resolver) nodeModulesDirs(basedir string) []string {
	var dirs []string
	dir := basedir
	for {
		base := filepath.Base(dir)
		skip := false
		for _, md := range r.cfg.ModuleDirectories {
			if base == md {
				skip = true
				break
			}
		}
		if !skip {
			for _, md := range r.cfg.ModuleDirectories {
				dirs = append(dirs, filepath.Join(dir, md))
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	dirs = append(dirs, r.searchPaths...)
	return dirs
}

func (r *Resolver) loadAsFileOrDirectory(target string) (string, bool) {
	if p, ok := r.loadAsFile(target); ok {
		return p, true
	}
	return r.loadAsDirectory(target)
}

// loadAsFile tries the exact path, then the configured extensions in order
func (r *Resolver) loadAsFile(target string) (string, bool) {
	if isFile(target) {
		return target, true
	}
	for _, ext := range r.cfg.Extensions {
		if p := target + ext; isFile(p) {
			return p, true
		}
	}
	return "", false
}

// loadAsDirectory honors package.json (main, or the browser field under the
// browser flag) and falls back to index files.
func (r *Resolver) loadAsDirectory(target string) (string, bool) {
	if !isDir(target) {
		return "", false
	}
	manifestPath := filepath.Join(target, "package.json")
	if isFile(manifestPath) {
		if main := r.manifestMain(manifestPath); main != "" {
			entry := filepath.Join(target, main)
			if p, ok := r.loadAsFile(entry); ok {
				return p, true
			}
			if p, ok := r.loadIndex(entry); ok {
				return p, true
			}
		}
	}
	return r.loadIndex(target)
}

// manifestMain picks the entry point from a package.json. With the browser
// flag set, a string browser field replaces main outright and an object
// browser field may redirect whatever main names.
func (r *Resolver) manifestMain(manifestPath string) string {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return ""
	}
	var m packageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	main := m.Main
	if r.cfg.Browser && len(m.Browser) > 0 {
		var s string
		if json.Unmarshal(m.Browser, &s) == nil {
			return s
		}
		var table map[string]json.RawMessage
		if json.Unmarshal(m.Browser, &table) == nil && main != "" {
			for _, key := range []string{main, "./" + main} {
				if raw, ok := table[key]; ok {
					var redirect string
					if json.Unmarshal(raw, &redirect) == nil {
						return redirect
					}
					// `false` means "omit in browser bundles"; nothing to load
					return ""
				}
			}
		}
	}
	return main
}

func (r *Resolver) loadIndex(dir string) (string, bool) {
	for _, ext := range r.cfg.Extensions {
		if p := filepath.Join(dir, "index"+ext); isFile(p) {
			return p, true
		}
	}
	return "", false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
