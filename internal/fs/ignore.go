package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFilename is the optional per-root file listing extra patterns.
const IgnoreFilename = ".wbhignore"

type ignorePattern struct {
	pattern   string
	matchPath bool // match the slash-separated relative path instead of the basename
}

// IgnoreMatcher decides which entries of a watched root are never picked up.
// Literal names (the queue directory, the root metadata file) match exactly;
// glob patterns without '/' match basenames and patterns with '/' match the
// relative path.
type IgnoreMatcher struct {
	names    map[string]struct{}
	patterns []ignorePattern
}

// NewIgnoreMatcher builds a matcher from raw glob lines. Blank lines and
// '#' comments are skipped. The per-root ignore file itself always matches.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{names: map[string]struct{}{IgnoreFilename: {}}}
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		m.patterns = append(m.patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return m
}

// WithNames returns a copy of m that also ignores the given exact names.
func (m *IgnoreMatcher) WithNames(names ...string) *IgnoreMatcher {
	out := &IgnoreMatcher{
		names:    make(map[string]struct{}, len(m.names)+len(names)),
		patterns: append([]ignorePattern{}, m.patterns...),
	}
	for n := range m.names {
		out.names[n] = struct{}{}
	}
	for _, n := range names {
		out.names[n] = struct{}{}
	}
	return out
}

// WithPatterns returns a copy of m extended with more raw glob lines.
func (m *IgnoreMatcher) WithPatterns(rawPatterns []string) *IgnoreMatcher {
	extra := NewIgnoreMatcher(rawPatterns)
	out := m.WithNames()
	out.patterns = append(out.patterns, extra.patterns...)
	return out
}

// Match reports whether relativePath should be ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if relativePath == "" {
		return false
	}
	normalized := filepath.ToSlash(relativePath)
	basename := filepath.Base(relativePath)

	if _, ok := m.names[basename]; ok {
		return true
	}
	for _, p := range m.patterns {
		target := basename
		if p.matchPath {
			target = normalized
		}
		// A malformed pattern never matches.
		if matched, err := filepath.Match(p.pattern, target); err == nil && matched {
			return true
		}
	}
	return false
}

// ParseIgnoreFile returns the raw lines of an ignore file, or nil when it
// does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
