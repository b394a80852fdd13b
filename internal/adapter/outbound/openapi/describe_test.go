package openapi_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/storagemcp/internal/adapter/outbound/openapi"
)

const unitySpec = `{
  "openapi": "3.0.0",
  "info": {"title": "Unity", "version": "5.0"},
  "paths": {
    "/api/types/lun/instances": {"get": {"summary": "List LUNs", "responses": {"200": {"description": "ok"}}}},
    "/api/instances/lun/{id}": {"get": {"summary": "Get LUN", "responses": {"200": {"description": "ok"}}}},
    "/api/types/alert/instances": {"get": {"summary": "List alerts", "responses": {"200": {"description": "ok"}}}},
    "/api/types/disk/instances": {"get": {"summary": "List disks", "responses": {"200": {"description": "ok"}}}},
    "/api/types/job/instances": {"get": {"summary": "List jobs", "responses": {"200": {"description": "ok"}}}},
    "/api/types/tenant/instances": {"get": {"summary": "List tenants", "responses": {"200": {"description": "ok"}}}}
  },
  "components": {
    "schemas": {
      "lun": {
        "type": "object",
        "properties": {
          "id": {"type": "string", "description": "Unique identifier of the LUN"},
          "name": {"type": "string"},
          "health": {"$ref": "#/components/schemas/health"},
          "pool": {"type": "object"},
          "sizeTotal": {"type": "integer", "description": "Total capacity in bytes"},
          "type": {"type": "integer", "enum": [1, 2, 3, 4, 5, 6, 7]}
        }
      },
      "health": {"type": "object", "description": "Health information"},
      "alert_instance": {
        "type": "object",
        "properties": {
          "severity": {"type": "integer", "description": "Alert severity"},
          "isAcknowledged": {"type": "boolean"}
        }
      },
      "diskInstance": {
        "type": "object",
        "properties": {
          "state": {"type": "integer"},
          "slot": {"type": "integer"}
        }
      },
      "job": {
        "type": "object",
        "properties": {
          "progress": {"type": "integer"}
        }
      }
    }
  }
}`

func descriptionOf(t *testing.T, cfg openapi.GeneratorConfig, spec, tool string) string {
	t.Helper()
	tools, _ := generate(t, cfg, spec)
	for _, tl := range tools {
		if tl.Name == tool {
			return tl.Description
		}
	}
	t.Fatalf("tool %s not generated", tool)
	return ""
}

func TestDescribe_CollectionEnrichment(t *testing.T) {
	desc := descriptionOf(t, openapi.GeneratorConfig{Convention: openapi.UnityConvention}, unitySpec, "getTypesLunInstances")

	want := "List LUNs" +
		"\n\nAvailable fields for 'fields' parameter: health, id, name, pool, sizeTotal, type" +
		"\n\nKey fields:" +
		"\n- id: Unique identifier of the LUN" +
		"\n- name" +
		"\n- health: Health information" +
		"\n- type (values: 1, 2, 3, 4, 5)" +
		"\n- sizeTotal: Total capacity in bytes" +
		"\n- pool" +
		"\n\nFilter examples (queryParams):" +
		"\n- {\"filter\": \"name lk \\\"*prod*\\\"\"} - LUNs with prod in name" +
		"\n- {\"filter\": \"pool.id eq \\\"pool_1\\\"\"} - LUNs in specific pool"
	assert.Equal(t, want, desc)
}

func TestDescribe_SelectParamFollowsConvention(t *testing.T) {
	desc := descriptionOf(t, openapi.GeneratorConfig{}, unitySpec, "getTypesLunInstances")
	assert.Contains(t, desc, "Available fields for 'select' parameter: ")
}

func TestDescribe_InstanceSchemaNamingVariants(t *testing.T) {
	alert := descriptionOf(t, openapi.GeneratorConfig{}, unitySpec, "getTypesAlertInstances")
	assert.Contains(t, alert, "Available fields for 'select' parameter: isAcknowledged, severity")
	assert.Contains(t, alert, "- severity: Alert severity")
	assert.Contains(t, alert, "Unacknowledged alerts only")

	disk := descriptionOf(t, openapi.GeneratorConfig{}, unitySpec, "getTypesDiskInstances")
	assert.Contains(t, disk, "Available fields for 'select' parameter: slot, state")
	assert.True(t, strings.HasSuffix(disk, "Filter examples (queryParams):\n- {\"filter\": \"health.value eq 5\"} - Filter by health status"))
}

func TestDescribe_GracefulDegradation(t *testing.T) {
	tests := []struct {
		name string
		tool string
		want string
	}{
		{name: "instance query gets no enrichment", tool: "getInstancesLun", want: "Get LUN"},
		{name: "no matching definition", tool: "getTypesTenantInstances", want: "List tenants"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, descriptionOf(t, openapi.GeneratorConfig{}, unitySpec, tt.tool))
		})
	}

	job := descriptionOf(t, openapi.GeneratorConfig{}, unitySpec, "getTypesJobInstances")
	assert.Equal(t, "List jobs\n\nAvailable fields for 'select' parameter: progress", job, "no key fields and no filter fallback")
}

func TestDescribe_FieldTruncation(t *testing.T) {
	var props []string
	for i := 0; i < 25; i++ {
		props = append(props, fmt.Sprintf(`"f%02d": {"type": "string"}`, i))
	}
	props = append(props, `"message": {"type": "string", "description": "`+strings.Repeat("x", 100)+`"}`)
	spec := `{
	  "openapi": "3.0.0",
	  "info": {"title": "x", "version": "1"},
	  "paths": {"/api/types/event/instances": {"get": {"responses": {"200": {"description": "ok"}}}}},
	  "components": {"schemas": {"event": {"type": "object", "properties": {` + strings.Join(props, ",") + `}}}}
	}`

	tools, _ := generate(t, openapi.GeneratorConfig{}, spec)
	require.Len(t, tools, 1)
	desc := tools[0].Description

	assert.True(t, strings.HasPrefix(desc, "GET /api/types/event/instances\n\nAvailable fields for 'select' parameter: f00, f01,"))
	assert.Contains(t, desc, "f19, ... (26 total fields)")
	assert.NotContains(t, desc, "f20")
	assert.True(t, strings.HasSuffix(desc, "\n\nKey fields:\n- message: "+strings.Repeat("x", 80)), "descriptions are cut at 80 characters")
	assert.NotContains(t, desc, strings.Repeat("x", 81))

	selectDesc := tools[0].InputSchema.Properties["select"].Description
	assert.True(t, strings.HasSuffix(selectDesc, "f19, ... (26 total)"))
}
