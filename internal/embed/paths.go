package embed

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultExtension is the extension of input messages.
	DefaultExtension = ".eml"
	// DefaultSuffix replaces DefaultExtension on output messages.
	DefaultSuffix = ".embed.eml"
)

// ErrNoInput is returned when no input file qualifies.
var ErrNoInput = errors.New("no input files")

// OutputPath derives the output path for input by replacing ext with suffix,
// so "a.eml" becomes "a.embed.eml". Inputs without ext get suffix appended.
func OutputPath(input, ext, suffix string) string {
	if ext == "" {
		ext = DefaultExtension
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return strings.TrimSuffix(input, ext) + suffix
}

// Finder locates input messages.
type Finder struct {
	// Extension selects input files. Empty means DefaultExtension.
	Extension string
	// Suffix marks output files, which are never inputs. Empty means
	// DefaultSuffix.
	Suffix string
	// SkipDirs are not descended into during discovery.
	SkipDirs []string
}

func (f Finder) ext() string {
	if f.Extension == "" {
		return DefaultExtension
	}
	return f.Extension
}

func (f Finder) suffix() string {
	if f.Suffix == "" {
		return DefaultSuffix
	}
	return f.Suffix
}

// eligible reports whether name is an input and not a previous output.
func (f Finder) eligible(name string) bool {
	return strings.HasSuffix(name, f.ext()) && !strings.HasSuffix(name, f.suffix())
}

// Resolve turns command line arguments into input paths. No arguments, or a
// literal "*<ext>" argument, discovers inputs under the working directory.
// Arguments containing glob metacharacters are expanded; other arguments are
// taken as given. An empty result is ErrNoInput.
func (f Finder) Resolve(args []string) ([]string, error) {
	discover := len(args) == 0
	for _, a := range args {
		if a == "*"+f.ext() {
			discover = true
		}
	}
	if discover {
		return f.Discover(".")
	}

	var paths []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, a := range args {
		if !strings.ContainsAny(a, "*?[") {
			add(a)
			continue
		}
		matches, err := filepath.Glob(a)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", a, err)
		}
		for _, m := range matches {
			if f.eligible(filepath.Base(m)) {
				add(m)
			}
		}
	}

	if len(paths) == 0 {
		return nil, ErrNoInput
	}
	return paths, nil
}

// Discover walks root recursively and returns every eligible file, sorted.
// Hidden directories and SkipDirs are not descended into.
func (f Finder) Discover(root string) ([]string, error) {
	skip := make(map[string]bool, len(f.SkipDirs))
	for _, d := range f.SkipDirs {
		if abs, err := filepath.Abs(d); err == nil {
			skip[abs] = true
		}
	}

	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if abs, err := filepath.Abs(p); err == nil && skip[abs] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && f.eligible(d.Name()) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover inputs: %w", err)
	}

	if len(paths) == 0 {
		return nil, ErrNoInput
	}
	sort.Strings(paths)
	return paths, nil
}

// ResolveInputs is Finder.Resolve with the given extension and suffix.
func ResolveInputs(args []string, ext, suffix string) ([]string, error) {
	return Finder{Extension: ext, Suffix: suffix}.Resolve(args)
}

// readInput reads one input file.
func readInput(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return raw, nil
}
