package openapi

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// unresolvedRefsExt marks an operation that lost parameters to dangling references.
const unresolvedRefsExt = "x-unresolved-refs"

var operationKeys = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// pruneDanglingRefs removes local $ref values that point nowhere in tree and
// returns them sorted. Dangling parameter references are dropped from their list
// and recorded on every affected operation under unresolvedRefsExt; any other
// dangling reference is replaced by an empty object. External references are left alone.
func pruneDanglingRefs(tree map[string]interface{}) []string {
	p := &refPruner{root: tree, seen: map[string]struct{}{}}
	if paths, ok := tree["paths"].(map[string]interface{}); ok {
		for _, item := range paths {
			pathItem, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			shared := p.pruneParameters(pathItem)
			for _, key := range operationKeys {
				op, ok := pathItem[key].(map[string]interface{})
				if !ok {
					continue
				}
				broken := append(append([]string(nil), shared...), p.pruneParameters(op)...)
				if len(broken) > 0 {
					marks := make([]interface{}, len(broken))
					for i, ref := range broken {
						marks[i] = ref
					}
					op[unresolvedRefsExt] = marks
				}
			}
		}
	}
	p.walk(tree)

	pruned := make([]string, 0, len(p.seen))
	for ref := range p.seen {
		pruned = append(pruned, ref)
	}
	sort.Strings(pruned)
	return pruned
}

type refPruner struct {
	root map[string]interface{}
	seen map[string]struct{}
}

// pruneParameters drops dangling entries from owner's parameter list.
func (p *refPruner) pruneParameters(owner map[string]interface{}) []string {
	list, ok := owner["parameters"].([]interface{})
	if !ok {
		return nil
	}
	var broken []string
	kept := list[:0]
	for _, entry := range list {
		if ref, dangling := p.dangling(entry); dangling {
			p.seen[ref] = struct{}{}
			broken = append(broken, ref)
			continue
		}
		kept = append(kept, entry)
	}
	owner["parameters"] = kept
	return broken
}

func (p *refPruner) walk(v interface{}) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if ref, dangling := p.dangling(child); dangling {
				p.seen[ref] = struct{}{}
				t[k] = map[string]interface{}{}
				continue
			}
			p.walk(child)
		}
	case []interface{}:
		for i, child := range t {
			if ref, dangling := p.dangling(child); dangling {
				p.seen[ref] = struct{}{}
				t[i] = map[string]interface{}{}
				continue
			}
			p.walk(child)
		}
	}
}

// dangling reports whether v is a {"$ref": "#/..."} object whose target is missing.
func (p *refPruner) dangling(v interface{}) (string, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return "", false
	}
	ref, ok := m["$ref"].(string)
	if !ok || !strings.HasPrefix(ref, "#") {
		return "", false
	}
	return ref, !p.resolves(ref)
}

func (p *refPruner) resolves(ref string) bool {
	pointer := strings.TrimPrefix(ref, "#")
	if pointer == "" {
		return true
	}
	if !strings.HasPrefix(pointer, "/") {
		return false
	}
	var cur interface{} = p.root
	for _, token := range strings.Split(pointer[1:], "/") {
		if unescaped, err := url.PathUnescape(token); err == nil {
			token = unescaped
		}
		token = strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[token]
			if !ok {
				return false
			}
			cur = next
		case []interface{}:
			i, err := strconv.Atoi(token)
			if err != nil || i < 0 || i >= len(node) {
				return false
			}
			cur = node[i]
		default:
			return false
		}
	}
	return true
}
