package openapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

const (
	maxFieldsDisplay   = 20
	maxKeyFields       = 10
	maxEnumValues      = 5
	maxFieldDescLength = 80
)

// keyFieldPriority lists the fields most useful for storage resources, in display order.
var keyFieldPriority = []string{
	"id", "name", "health", "state", "status", "severity", "type",
	"description", "message", "isAcknowledged", "resource", "timestamp",
	"sizeTotal", "sizeUsed", "sizeFree", "pool", "storageResource",
}

// filterExamples are keyed by resource name.
var filterExamples = map[string][]string{
	"alert": {
		`{"filter": "isAcknowledged eq false"} - Unacknowledged alerts only`,
		`{"filter": "severity eq 4"} - Critical severity only`,
		`{"filter": "state eq 0"} - Active alerts only`,
	},
	"lun": {
		`{"filter": "name lk \"*prod*\""} - LUNs with prod in name`,
		`{"filter": "pool.id eq \"pool_1\""} - LUNs in specific pool`,
	},
	"volume": {
		`{"name": "like.*prod*"} - Volumes with prod in name`,
		`{"type": "eq.Primary"} - Primary volumes only`,
	},
	"storagePool": {`{"filter": "health.value eq 5"} - Healthy pools only`},
	"pool":        {`{"filter": "health.value eq 5"} - Healthy pools only`},
	"filesystem":  {`{"filter": "name lk \"*share*\""} - Filesystems with share in name`},
	"nasServer":   {`{"filter": "health.value eq 5"} - Healthy NAS servers`},
}

const genericFilterExample = `{"filter": "health.value eq 5"} - Filter by health status`

var nonResourceSegments = map[string]struct{}{
	"api": {}, "types": {}, "instances": {}, "action": {},
}

// resourceName returns the first literal segment that names a resource:
// /api/types/lun/instances -> lun.
func resourceName(path string) string {
	for _, s := range literalSegments(path) {
		if _, skip := nonResourceSegments[s]; !skip {
			return s
		}
	}
	return ""
}

// resourceProperties finds the instance schema for resource and returns its properties.
func resourceProperties(doc *openapi3.T, resource string) openapi3.Schemas {
	if resource == "" || doc.Components == nil {
		return nil
	}
	for _, name := range []string{resource, resource + "_instance", resource + "Instance"} {
		ref, ok := doc.Components.Schemas[name]
		if !ok || ref == nil || ref.Value == nil {
			continue
		}
		return ref.Value.Properties
	}
	return nil
}

func sortedFieldNames(props openapi3.Schemas) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fieldSummary lists up to maxFieldsDisplay names, with a count when truncated.
func fieldSummary(names []string, totalWord string) string {
	if len(names) <= maxFieldsDisplay {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s, ... (%d %s)", strings.Join(names[:maxFieldsDisplay], ", "), len(names), totalWord)
}

func baseDescription(method, path string, op *openapi3.Operation) string {
	if op.Summary != "" {
		return op.Summary
	}
	if op.Description != "" {
		return op.Description
	}
	return fmt.Sprintf("%s %s", strings.ToUpper(method), path)
}

// describe builds the tool description, enriched with field, key-field and filter
// guidance when the operation is a collection query over a known resource.
func describe(base, resource string, props openapi3.Schemas, collection bool, conv QueryConvention) string {
	if len(props) == 0 || !collection {
		return base
	}
	var b strings.Builder
	b.WriteString(base)

	fmt.Fprintf(&b, "\n\nAvailable fields for '%s' parameter: %s", conv.SelectParam, fieldSummary(sortedFieldNames(props), "total fields"))

	if lines := keyFieldLines(props); len(lines) > 0 {
		b.WriteString("\n\nKey fields:\n")
		b.WriteString(strings.Join(lines, "\n"))
	}

	if examples := filterExamplesFor(resource, props); len(examples) > 0 {
		fmt.Fprintf(&b, "\n\nFilter examples (%s):\n- %s", conv.FilterParam, strings.Join(examples, "\n- "))
	}
	return b.String()
}

func keyFieldLines(props openapi3.Schemas) []string {
	var lines []string
	for _, field := range keyFieldPriority {
		ref, ok := props[field]
		if !ok {
			continue
		}
		line := "- " + field
		if ref != nil && ref.Value != nil {
			if desc := truncateRunes(ref.Value.Description, maxFieldDescLength); desc != "" {
				line += ": " + desc
			}
			if enum := ref.Value.Enum; len(enum) > 0 {
				if len(enum) > maxEnumValues {
					enum = enum[:maxEnumValues]
				}
				vals := make([]string, len(enum))
				for i, v := range enum {
					vals[i] = fmt.Sprint(v)
				}
				line += " (values: " + strings.Join(vals, ", ") + ")"
			}
		}
		lines = append(lines, line)
		if len(lines) == maxKeyFields {
			break
		}
	}
	return lines
}

func filterExamplesFor(resource string, props openapi3.Schemas) []string {
	if ex, ok := filterExamples[resource]; ok {
		return ex
	}
	_, hasHealth := props["health"]
	_, hasState := props["state"]
	if hasHealth || hasState {
		return []string{genericFilterExample}
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
