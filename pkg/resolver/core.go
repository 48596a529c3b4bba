package resolver

import "strings"

// coreModules lists the host-provided built-in module names. Subpaths such as
// "fs/promises" resolve through their first segment; the "node:" scheme
// prefix is accepted and stripped.
var coreModules = map[string]struct{}{
	"assert": {}, "async_hooks": {}, "buffer": {}, "child_process": {},
	"cluster": {}, "console": {}, "constants": {}, "crypto": {},
	"dgram": {}, "diagnostics_channel": {}, "dns": {}, "domain": {},
	"events": {}, "fs": {}, "http": {}, "http2": {}, "https": {},
	"inspector": {}, "module": {}, "net": {}, "os": {}, "path": {},
	"perf_hooks": {}, "process": {}, "punycode": {}, "querystring": {},
	"readline": {}, "repl": {}, "stream": {}, "string_decoder": {},
	"sys": {}, "timers": {}, "tls": {}, "trace_events": {}, "tty": {},
	"url": {}, "util": {}, "v8": {}, "vm": {}, "wasi": {},
	"worker_threads": {}, "zlib": {},
}

// isCoreModuleName reports whether name (possibly "node:"-prefixed, possibly
// a subpath) names a host built-in.
func isCoreModuleName(name string) bool {
	name = strings.TrimPrefix(name, "node:")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	_, ok := coreModules[name]
	return ok
}
