package exclude

import (
	"path"
	"strings"
)

type patternKind int

const (
	kindLiteral patternKind = iota
	kindGlob
	kindDir
)

type pattern struct {
	kind patternKind
	expr string
}

// Matcher decides which local paths never take part in synchronization
type Matcher struct {
	patterns []pattern
}

// DefaultPatterns are editor, OS and temporary files
func DefaultPatterns() []string {
	return []string{
		".DS_Store",
		"._*",
		"Thumbs.db",
		"desktop.ini",
		"*.tmp",
		"*.swp",
		"*.swx",
		"*~",
		".#*",
		"*.part",
		".gsyncfs/",
	}
}

// New merges DefaultPatterns with extra. A trailing slash marks a directory
// pattern; patterns containing glob metacharacters match the whole relative
// path or its base name.
func New(extra []string) *Matcher {
	m := &Matcher{}
	for _, raw := range append(DefaultPatterns(), extra...) {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		switch {
		case strings.HasSuffix(p, "/"):
			m.patterns = append(m.patterns, pattern{kind: kindDir, expr: strings.TrimSuffix(p, "/")})
		case strings.ContainsAny(p, "*?["):
			m.patterns = append(m.patterns, pattern{kind: kindGlob, expr: p})
		default:
			m.patterns = append(m.patterns, pattern{kind: kindLiteral, expr: p})
		}
	}
	return m
}

// IsExcluded reports whether relPath (slash separated, relative to the sync
// root) is excluded. Anything inside an excluded directory is excluded too.
func (m *Matcher) IsExcluded(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = strings.TrimPrefix(strings.TrimPrefix(relPath, "/"), "./")
	segments := strings.Split(relPath, "/")

	for _, p := range m.patterns {
		switch p.kind {
		case kindDir:
			if relPath == p.expr || strings.HasPrefix(relPath, p.expr+"/") {
				return true
			}
			for _, s := range segments[:len(segments)-1] {
				if s == p.expr {
					return true
				}
			}
			if isDir && segments[len(segments)-1] == p.expr {
				return true
			}
		case kindGlob:
			if ok, _ := path.Match(p.expr, relPath); ok {
				return true
			}
			if ok, _ := path.Match(p.expr, path.Base(relPath)); ok {
				return true
			}
		case kindLiteral:
			if relPath == p.expr || strings.HasPrefix(relPath, p.expr+"/") {
				return true
			}
			for _, s := range segments {
				if s == p.expr {
					return true
				}
			}
		}
	}
	return false
}

// Patterns returns the effective pattern list
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.expr
		if p.kind == kindDir {
			out[i] += "/"
		}
	}
	return out
}
