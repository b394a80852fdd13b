package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/i2y/storagemcp/internal/domain"
)

var credentialProps = map[string]domain.JSONSchemaProps{
	domain.CredentialHost:     {Type: "string", Description: "Storage appliance hostname or IP address"},
	domain.CredentialUsername: {Type: "string", Description: "Storage appliance username"},
	domain.CredentialPassword: {Type: "string", Description: "Storage appliance password"},
}

const defaultSelectDescription = "Comma-separated list of field names to return (e.g., 'id,name,health')"

// jsonSchemaType maps an OpenAPI type to the tool schema type. Integers become number.
func jsonSchemaType(t *openapi3.Types) string {
	if t == nil || len(*t) == 0 {
		return "string"
	}
	switch (*t)[0] {
	case "integer", "number":
		return "number"
	case "string", "boolean", "array", "object":
		return (*t)[0]
	}
	return "string"
}

// buildInputSchema merges credentials, operation parameters and, for collection
// queries, the convention's convenience properties.
func buildInputSchema(params openapi3.Parameters, collection bool, conv QueryConvention, fields []string) domain.JSONSchemaProps {
	props := make(map[string]domain.JSONSchemaProps, len(credentialProps)+len(params)+4)
	for name, p := range credentialProps {
		props[name] = p
	}
	required := append([]string(nil), domain.CredentialNames...)
	requiredSet := map[string]struct{}{}
	for _, name := range required {
		requiredSet[name] = struct{}{}
	}

	for _, ref := range params {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value
		if p.Name == "" || (p.In != openapi3.ParameterInQuery && p.In != openapi3.ParameterInPath) {
			continue
		}
		if _, isCred := credentialProps[p.Name]; isCred {
			continue
		}
		props[p.Name] = parameterProp(p)
		if p.Required {
			if _, dup := requiredSet[p.Name]; !dup {
				requiredSet[p.Name] = struct{}{}
				required = append(required, p.Name)
			}
		}
	}

	if collection {
		for name, prop := range conventionProps(conv, fields) {
			props[name] = prop
		}
		convenience := map[string]struct{}{}
		for _, name := range conv.paramNames() {
			convenience[name] = struct{}{}
		}
		kept := required[:0]
		for _, name := range required {
			if _, drop := convenience[name]; !drop {
				kept = append(kept, name)
			}
		}
		required = kept
	}

	return domain.JSONSchemaProps{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: false,
	}
}

func parameterProp(p *openapi3.Parameter) domain.JSONSchemaProps {
	prop := domain.JSONSchemaProps{Type: "string", Description: p.Description}
	if p.Schema == nil || p.Schema.Value == nil {
		return prop
	}
	s := p.Schema.Value
	prop.Type = jsonSchemaType(s.Type)
	if prop.Description == "" {
		prop.Description = s.Description
	}
	if len(s.Enum) > 0 {
		prop.Enum = s.Enum
	}
	if prop.Type == "array" {
		items := domain.JSONSchemaProps{Type: "string"}
		if s.Items != nil && s.Items.Value != nil {
			items.Type = jsonSchemaType(s.Items.Value.Type)
			if len(s.Items.Value.Enum) > 0 {
				items.Enum = s.Items.Value.Enum
			}
		}
		prop.Items = &items
	}
	return prop
}

func conventionProps(conv QueryConvention, fields []string) map[string]domain.JSONSchemaProps {
	selectDesc := defaultSelectDescription
	if len(fields) > 0 {
		selectDesc = "Comma-separated list of field names to return. Available fields: " + fieldSummary(fields, "total")
	}
	return map[string]domain.JSONSchemaProps{
		conv.SelectParam:   {Type: "string", Description: selectDesc},
		conv.PageSizeParam: {Type: "integer", Description: conv.PageSizeHint},
		conv.OffsetParam:   {Type: "integer", Description: conv.OffsetHint},
		conv.FilterParam: {
			Type:                 "object",
			Description:          conv.FilterDescription,
			AdditionalProperties: &domain.JSONSchemaProps{Type: "string"},
		},
	}
}
