package domain

// Credential property names every tool requires.
const (
	CredentialHost     = "host"
	CredentialUsername = "username"
	CredentialPassword = "password"
)

// CredentialNames lists the credential properties in schema order.
var CredentialNames = []string{CredentialHost, CredentialUsername, CredentialPassword}

// Tool represents a callable function derived from an API operation,
// compliant with the Model Context Protocol (MCP).
type Tool struct {
	// Name is unique within the catalog and stable across runs for the same document.
	Name string `json:"name"`

	// Description tells the model what the operation returns and how to query it.
	Description string `json:"description"`

	// InputSchema is the JSON Schema of the tool arguments.
	InputSchema JSONSchemaProps `json:"inputSchema"`
}

// JSONSchemaProps represents the subset of JSON Schema used by tool input contracts.
type JSONSchemaProps struct {
	Type        string                     `json:"type,omitempty"`
	Description string                     `json:"description,omitempty"`
	Properties  map[string]JSONSchemaProps `json:"properties,omitempty"`
	Required    []string                   `json:"required,omitempty"`
	Items       *JSONSchemaProps           `json:"items,omitempty"`
	Format      string                     `json:"format,omitempty"`
	Enum        []interface{}              `json:"enum,omitempty"`
	// AdditionalProperties is either a bool or a *JSONSchemaProps.
	AdditionalProperties interface{} `json:"additionalProperties,omitempty"`
}

// Credentials are the per-call appliance connection parameters.
type Credentials struct {
	Host     string
	Username string
	Password string
}
