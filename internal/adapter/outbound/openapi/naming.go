package openapi

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// segments splits a path template into non-empty segments.
func segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isPlaceholder(segment string) bool {
	return strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}

// isIdentifierPlaceholder reports segments like {id}, {lunId}, {pool_id}.
func isIdentifierPlaceholder(segment string) bool {
	if !isPlaceholder(segment) {
		return false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(segment, "{"), "}")
	return strings.EqualFold(name, "id") ||
		strings.HasSuffix(name, "Id") ||
		strings.HasSuffix(name, "ID") ||
		strings.HasSuffix(name, "_id")
}

// isCollectionPath reports whether path addresses a set of resources rather than one instance.
func isCollectionPath(path string) bool {
	for _, s := range segments(path) {
		if isIdentifierPlaceholder(s) {
			return false
		}
	}
	return true
}

func literalSegments(path string) []string {
	var out []string
	for _, s := range segments(path) {
		if !isPlaceholder(s) {
			out = append(out, s)
		}
	}
	return out
}

// sanitizeSegment replaces every non-alphanumeric rune with an underscore.
func sanitizeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return '_'
	}, s)
}

// sanitizeToolName keeps the characters MCP clients accept in tool names.
func sanitizeToolName(s string) string {
	return strings.Map(func(r rune) rune {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-') {
			return r
		}
		return '_'
	}, s)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// derivedName builds the deterministic method+path name:
// GET /api/types/lun/instances -> getTypesLunInstances.
func derivedName(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(sanitizeSegment(method)))
	for _, s := range literalSegments(path) {
		if s == "api" {
			continue
		}
		b.WriteString(capitalize(sanitizeSegment(s)))
	}
	return b.String()
}

// collisionSuffix renders the literal segments of path for disambiguation.
func collisionSuffix(path string) string {
	lits := literalSegments(path)
	for i := range lits {
		lits[i] = sanitizeSegment(lits[i])
	}
	return strings.Join(lits, "_")
}

// nameRegistry hands out unique tool names for one compilation.
type nameRegistry struct {
	counts map[string]int
	used   map[string]struct{}
}

func newNameRegistry() *nameRegistry {
	return &nameRegistry{
		counts: make(map[string]int),
		used:   make(map[string]struct{}),
	}
}

// assign returns a unique name for base. The first use keeps base; later uses
// get the path's literal segments as suffix, then a numeric counter.
func (r *nameRegistry) assign(base, path string) string {
	n := r.counts[base]
	r.counts[base] = n + 1

	name := base
	if n > 0 {
		suffix := collisionSuffix(path)
		if suffix == "" {
			suffix = strconv.Itoa(n)
		}
		name = base + "_" + suffix
	}
	if _, taken := r.used[name]; taken {
		for i := 2; ; i++ {
			candidate := fmt.Sprintf("%s_%d", name, i)
			if _, taken := r.used[candidate]; !taken {
				name = candidate
				break
			}
		}
	}
	r.used[name] = struct{}{}
	return name
}
