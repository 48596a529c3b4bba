package transform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"mimic/pkg/config"
)

// EvalResultVariable is the key under which the compiled wrapper function
// lives in the value a script evaluates to. The runtime fetches the wrapper
// from the evaluation result by this name.
const EvalResultVariable = "module$wrapper"

// Options adjusts one transform call
type Options struct {
	// IsInternalModule marks framework plumbing; internal modules bypass the
	// user's preprocessor so mocks and transforms never intercept them.
	IsInternalModule bool
}

// Transformer produces an executable wrapper program from a file path and
// configuration.
type Transformer interface {
	Transform(filename string, cfg *config.Config, opts Options) (*goja.Program, error)
}

// Preprocessor rewrites module source before wrapping. The configured name
// (config.ScriptPreprocessor) is surfaced in syntax-error diagnostics.
type Preprocessor interface {
	Process(src []byte, filename string) ([]byte, error)
}

// TransformError wraps a compile failure with the context a test author
// needs: which file, relative to the project root, and which preprocessor
// was in play.
type TransformError struct {
	Filename     string // relative to the project root
	Preprocessor string // configured preprocessor name, may be empty
	Err          error
}

func (e *TransformError) Error() string {
	msg := fmt.Sprintf("SyntaxError in %s: %v", e.Filename, e.Err)
	if e.Preprocessor != "" {
		msg += fmt.Sprintf(" (source preprocessed by %s)", e.Preprocessor)
	}
	return msg
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

type cacheKey struct {
	filename string
	internal bool
}

// FileTransformer reads module sources from disk, optionally preprocesses
// them, and compiles each into a wrapper function program. Programs are
// memoized per (file, internal) pair for the transformer's lifetime.
type FileTransformer struct {
	pre   Preprocessor
	cache map[cacheKey]*goja.Program
}

// NewFileTransformer creates a transformer; pre may be nil
func NewFileTransformer(pre Preprocessor) *FileTransformer {
	return &FileTransformer{
		pre:   pre,
		cache: make(map[cacheKey]*goja.Program),
	}
}

// Transform compiles the file at filename into its wrapper program
func (t *FileTransformer) Transform(filename string, cfg *config.Config, opts Options) (*goja.Program, error) {
	key := cacheKey{filename: filename, internal: opts.IsInternalModule}
	if prog, ok := t.cache[key]; ok {
		return prog, nil
	}

	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", filename, err)
	}
	src = stripBOM(src)

	if t.pre != nil && !opts.IsInternalModule {
		src, err = t.pre.Process(src, filename)
		if err != nil {
			return nil, fmt.Errorf("preprocessing %s failed: %w", filename, err)
		}
	}

	wrapped := Wrap(string(src))
	prog, err := goja.Compile(filename, wrapped, false)
	if err != nil {
		var syntaxErr *goja.CompilerSyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, &TransformError{
				Filename:     relativeToRoot(cfg, filename),
				Preprocessor: cfg.ScriptPreprocessor,
				Err:          err,
			}
		}
		return nil, err
	}

	t.cache[key] = prog
	return prog, nil
}

// Wrap embeds module source into the wrapper-function expression. Evaluating
// the result yields an object whose EvalResultVariable property is the
// wrapper; the runtime calls it with the module ABI.
func Wrap(src string) string {
	return "({\"" + EvalResultVariable +
		"\": function(module, exports, require, __dirname, __filename, global, jest) {" +
		src + "\n}});"
}

func relativeToRoot(cfg *config.Config, filename string) string {
	if cfg.RootDir != "" {
		if rel, err := filepath.Rel(cfg.RootDir, filename); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return filename
}

func stripBOM(src []byte) []byte {
	if len(src) >= 3 && src[0] == 0xEF && src[1] == 0xBB && src[2] == 0xBF {
		return src[3:]
	}
	return src
}
