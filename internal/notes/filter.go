package notes

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter decides whether a path is a note this system manages. Patterns are
// doublestar globs matched against the path relative to the notes root.
type Filter struct {
	root     string
	patterns []string
}

// NewFilter compiles the filter. An invalid pattern is a configuration error.
func NewFilter(root string, patterns []string) (*Filter, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("notes: filter: no patterns")
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("notes: filter: invalid pattern %q", p)
		}
	}
	abs := root
	if root != "" {
		var err error
		if abs, err = filepath.Abs(root); err != nil {
			return nil, fmt.Errorf("notes: filter: resolve root: %w", err)
		}
	}
	return &Filter{root: abs, patterns: append([]string(nil), patterns...)}, nil
}

// Supported reports whether path is inside the root and matches a pattern.
func (f *Filter) Supported(path string) bool {
	if f == nil || f.root == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(f.root, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range f.patterns {
		// Patterns were validated in NewFilter, so Match cannot fail here.
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Patterns returns the configured globs.
func (f *Filter) Patterns() []string {
	return append([]string(nil), f.patterns...)
}
